package markers_test

import (
	"errors"
	"strings"
	"testing"

	"relato/internal/markers"
	"relato/internal/services"
)

func photoFixtures() []markers.Photo {
	return []markers.Photo{
		{ID: "p1", TMS: 100},
		{ID: "p2", TMS: 200},
		{ID: "p3", TMS: 300},
	}
}

func TestTokenizeRehydrateRoundTrip(t *testing.T) {
	photos := photoFixtures()
	tokens := markers.NewTokenMap(photos)

	original := "Hola [[FOTO:p1]] mundo [[FOTO:p2]] fin [[FOTO:p3]]"
	tokenized := tokens.Tokenize(original)

	if strings.Contains(tokenized, "[[FOTO:") {
		t.Fatalf("markers survived tokenization: %q", tokenized)
	}
	for i := range photos {
		if !strings.Contains(tokenized, markers.Token(i)) {
			t.Fatalf("missing token %s in %q", markers.Token(i), tokenized)
		}
	}

	if got := tokens.Rehydrate(tokenized); got != original {
		t.Fatalf("round trip = %q, want %q", got, original)
	}
}

func TestValidateAcceptsExactTokenSet(t *testing.T) {
	tokens := markers.NewTokenMap(photoFixtures())
	text := "a [[PH_0]] b [[PH_1]] c [[PH_2]] d"
	if err := tokens.Validate(text); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateReportsMissingToken(t *testing.T) {
	tokens := markers.NewTokenMap(photoFixtures())
	err := tokens.Validate("solo [[PH_0]] y [[PH_2]]")
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !errors.Is(err, services.ErrInvalidMarkers) {
		t.Fatalf("expected ErrInvalidMarkers, got %v", err)
	}

	var verr *markers.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != "[[PH_1]]" {
		t.Fatalf("unexpected missing set: %v", verr.Missing)
	}
	if len(verr.Unknown) != 0 {
		t.Fatalf("unexpected unknown set: %v", verr.Unknown)
	}
}

func TestValidateReportsUnknownToken(t *testing.T) {
	tokens := markers.NewTokenMap(photoFixtures())
	err := tokens.Validate("[[PH_0]] [[PH_1]] [[PH_2]] [[PH_7]]")
	if err == nil {
		t.Fatal("expected validation failure")
	}

	var verr *markers.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Unknown) != 1 || verr.Unknown[0] != "[[PH_7]]" {
		t.Fatalf("unexpected unknown set: %v", verr.Unknown)
	}
}

func TestValidateIgnoresMalformedTokens(t *testing.T) {
	tokens := markers.NewTokenMap(photoFixtures()[:1])
	// Only well-formed prefix+digits+suffix counts; stray brackets and
	// non-numeric bodies are plain text.
	text := "[[PH_0]] [[PH_]] [[PH_x]] [[PH_0] [PH_0]]"
	if err := tokens.Validate(text); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateNormalizesBeforeScan(t *testing.T) {
	tokens := markers.NewTokenMap(photoFixtures()[:1])
	// Decomposed "e"+combining accent next to the token must not break the scan.
	text := "cafe\u0301 [[PH_0]] m\u00e1s"
	if err := tokens.Validate(text); err != nil {
		t.Fatalf("Validate failed on decomposed text: %v", err)
	}
}

func TestValidateEmptyMapRejectsAnyToken(t *testing.T) {
	tokens := markers.NewTokenMap(nil)
	if err := tokens.Validate("sin fotos"); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if err := tokens.Validate("texto [[PH_0]]"); err == nil {
		t.Fatal("expected unknown-token failure")
	}
}
