package vast

import (
	"regexp"
)

// Picker chooses one stream to play from the candidates. ok is false when
// nothing is playable.
type Picker interface {
	Pick(streams []MediaStream) (MediaStream, bool)
}

// PickerFunc adapts a function to Picker
type PickerFunc func(streams []MediaStream) (MediaStream, bool)

// Pick calls f
func (f PickerFunc) Pick(streams []MediaStream) (MediaStream, bool) {
	return f(streams)
}

// maxDimension bounds the width and height a candidate may declare
const maxDimension = 5000

var playableType = regexp.MustCompile(`(?i)^video/.*(mp4|3gpp|mp2t|webm|matroska)`)

// DefaultPicker selects the playable stream whose area is closest to the
// device's. Streams missing a type, URL or sane dimensions are ignored.
func DefaultPicker(width, height int) Picker {
	target := width * height
	return PickerFunc(func(streams []MediaStream) (MediaStream, bool) {
		var best MediaStream
		bestDiff := -1
		for _, s := range streams {
			if !usable(s) {
				continue
			}
			diff := s.Area() - target
			if diff < 0 {
				diff = -diff
			}
			if bestDiff < 0 || diff < bestDiff {
				best, bestDiff = s, diff
			}
		}
		return best, bestDiff >= 0
	})
}

func usable(s MediaStream) bool {
	if s.URL == "" || s.Type == "" || !playableType.MatchString(s.Type) {
		return false
	}
	if s.Width == nil || s.Height == nil {
		return false
	}
	w, h := *s.Width, *s.Height
	return w > 0 && w < maxDimension && h > 0 && h < maxDimension
}

// FirstPicker returns the first stream with a URL
func FirstPicker() Picker {
	return PickerFunc(func(streams []MediaStream) (MediaStream, bool) {
		for _, s := range streams {
			if s.URL != "" {
				return s, true
			}
		}
		return MediaStream{}, false
	})
}
