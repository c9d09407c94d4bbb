package vmap

import (
	"strconv"
	"strings"
)

// ParseTimeOffset converts a timeOffset attribute to seconds into content of
// the given duration. It understands "start", "end", HH:MM:SS[.mmm] and n%.
// Positional offsets (#n) and anything else return -1.
func ParseTimeOffset(offset string, duration float64) float64 {
	offset = strings.TrimSpace(offset)
	switch {
	case offset == "":
		return -1
	case strings.EqualFold(offset, OffsetStart):
		return 0
	case strings.EqualFold(offset, OffsetEnd):
		return duration
	case strings.HasSuffix(offset, "%"):
		pct, err := strconv.ParseFloat(strings.TrimSuffix(offset, "%"), 64)
		if err != nil || pct < 0 || pct > 100 {
			return -1
		}
		return duration * pct / 100
	case strings.HasPrefix(offset, "#"):
		return -1
	}
	secs, ok := ParseClock(offset)
	if !ok {
		return -1
	}
	return secs
}

// ParseClock parses HH:MM:SS or HH:MM:SS.mmm into seconds
func ParseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, false
	}
	return float64(h*3600+m*60) + sec, true
}

// Offset returns the break's offset in seconds for content of duration
func (b AdBreak) Offset(duration float64) float64 {
	return ParseTimeOffset(b.TimeOffset, duration)
}

// PreRolls returns breaks that play before content
func (m *Manifest) PreRolls(duration float64) []AdBreak {
	return m.between(-1, 1, duration)
}

// MidRolls returns breaks that play strictly inside the content
func (m *Manifest) MidRolls(duration float64) []AdBreak {
	return m.between(0, duration, duration)
}

// PostRolls returns breaks that play at the end. Content of unknown (zero)
// duration has none.
func (m *Manifest) PostRolls(duration float64) []AdBreak {
	if duration <= 0 {
		return nil
	}
	return m.between(duration-1, duration+1, duration)
}

// between returns breaks whose offset lies in the open interval (lo, hi)
func (m *Manifest) between(lo, hi, duration float64) []AdBreak {
	var out []AdBreak
	for _, b := range m.Breaks {
		// unsupported offsets are -1 and never fall inside (lo, hi) for lo >= -1
		if off := b.Offset(duration); off > lo && off < hi {
			out = append(out, b)
		}
	}
	return out
}
