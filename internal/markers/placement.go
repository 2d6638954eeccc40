package markers

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Segment is one transcribed audio window in start-time order.
type Segment struct {
	Text  string
	EndMS int64
}

// Photo is one timestamped capture in capture-time order.
type Photo struct {
	ID           string
	TMS          int64
	OriginalPath string
	StylizedPath string
}

// Marker renders the placement marker for a photo.
func Marker(photoID string) string {
	return "[[FOTO:" + photoID + "]]"
}

// Place merges segments and photos into a marked transcript. Segments must
// arrive ordered by start time and photos by capture time. Each segment's
// text is emitted first, then a marker for every not-yet-placed photo whose
// capture time falls at or before the segment's end. Photos captured after
// the last segment trail at the end, still in time order.
func Place(segments []Segment, photos []Photo) string {
	var parts []string
	next := 0

	for _, segment := range segments {
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for next < len(photos) && photos[next].TMS <= segment.EndMS {
			parts = append(parts, Marker(photos[next].ID))
			next++
		}
	}

	for next < len(photos) {
		parts = append(parts, Marker(photos[next].ID))
		next++
	}

	return strings.Join(parts, " ")
}

// SortPhotos orders photos by capture time, ties broken by id for stability.
func SortPhotos(photos []Photo) []Photo {
	sorted := make([]Photo, len(photos))
	copy(sorted, photos)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TMS != sorted[j].TMS {
			return sorted[i].TMS < sorted[j].TMS
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// ReplaceWithImages substitutes each photo's marker with a markdown image
// reference, preferring the stylized asset when present.
func ReplaceWithImages(text string, photos []Photo) string {
	for _, photo := range photos {
		imagePath := photo.StylizedPath
		if imagePath == "" {
			imagePath = photo.OriginalPath
		}
		if imagePath == "" {
			continue
		}
		image := fmt.Sprintf("\n\n![Foto](%s)\n\n", path.Base(imagePath))
		text = strings.ReplaceAll(text, Marker(photo.ID), image)
	}
	return text
}
