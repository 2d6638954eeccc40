package markers_test

import (
	"strings"
	"testing"

	"relato/internal/markers"
)

func TestPlaceEmitsTextBeforeMarkers(t *testing.T) {
	segments := []markers.Segment{
		{Text: "Hola", EndMS: 1000},
		{Text: "Mundo", EndMS: 2000},
	}
	photos := []markers.Photo{
		{ID: "p1", TMS: 500},
	}

	got := markers.Place(segments, photos)
	want := "Hola [[FOTO:p1]] Mundo"
	if got != want {
		t.Fatalf("Place = %q, want %q", got, want)
	}
}

func TestPlaceTrailingPhotos(t *testing.T) {
	segments := []markers.Segment{
		{Text: "Primero", EndMS: 1000},
	}
	photos := []markers.Photo{
		{ID: "a", TMS: 900},
		{ID: "b", TMS: 5000},
		{ID: "c", TMS: 9000},
	}

	got := markers.Place(segments, photos)
	want := "Primero [[FOTO:a]] [[FOTO:b]] [[FOTO:c]]"
	if got != want {
		t.Fatalf("Place = %q, want %q", got, want)
	}
}

func TestPlaceSkipsEmptySegments(t *testing.T) {
	segments := []markers.Segment{
		{Text: "Hola", EndMS: 1000},
		{Text: "   ", EndMS: 2000},
		{Text: "Adiós", EndMS: 3000},
	}

	got := markers.Place(segments, nil)
	if got != "Hola Adiós" {
		t.Fatalf("Place = %q, want %q", got, "Hola Adiós")
	}
}

func TestPlaceNoSegments(t *testing.T) {
	photos := []markers.Photo{
		{ID: "solo", TMS: 100},
	}
	if got := markers.Place(nil, photos); got != "[[FOTO:solo]]" {
		t.Fatalf("Place = %q", got)
	}
}

func TestSortPhotosStableTieBreak(t *testing.T) {
	photos := []markers.Photo{
		{ID: "zz", TMS: 100},
		{ID: "aa", TMS: 100},
		{ID: "mm", TMS: 50},
	}

	sorted := markers.SortPhotos(photos)
	ids := make([]string, len(sorted))
	for i, p := range sorted {
		ids[i] = p.ID
	}
	if strings.Join(ids, ",") != "mm,aa,zz" {
		t.Fatalf("unexpected order: %v", ids)
	}
	if photos[0].ID != "zz" {
		t.Fatal("SortPhotos must not mutate its input")
	}
}

func TestReplaceWithImagesPrefersStylized(t *testing.T) {
	photos := []markers.Photo{
		{ID: "p1", OriginalPath: "photos/p1.jpg", StylizedPath: "photos/p1_stylized.png"},
		{ID: "p2", OriginalPath: "photos/p2.jpg"},
	}

	text := "Uno [[FOTO:p1]] dos [[FOTO:p2]] tres"
	got := markers.ReplaceWithImages(text, photos)

	if !strings.Contains(got, "![Foto](p1_stylized.png)") {
		t.Fatalf("expected stylized image reference, got %q", got)
	}
	if !strings.Contains(got, "![Foto](p2.jpg)") {
		t.Fatalf("expected original image fallback, got %q", got)
	}
	if strings.Contains(got, "[[FOTO:") {
		t.Fatalf("markers left behind: %q", got)
	}
}
