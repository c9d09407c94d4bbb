// Package adtag resolves an ad tag URL into a validated ad model: it fetches
// the first document, follows wrapper indirections to a bounded depth, merges
// the chain and validates the result, per ad break for manifest responses.
package adtag

import (
	"fmt"
	"time"

	"github.com/thenexusengine/tne_adtag/pkg/vast"
)

// Kind is the closed set of processing results
type Kind int

// Processing result kinds
const (
	Valid Kind = iota
	FetchFailure
	ParseFailure
	WrapperLimitExceeded
	SchemaValidationFailure
	StructuralInvalid
	NoPlayableAdBreak
)

func (k Kind) String() string {
	switch k {
	case Valid:
		return "valid"
	case FetchFailure:
		return "fetch_failure"
	case ParseFailure:
		return "parse_failure"
	case WrapperLimitExceeded:
		return "wrapper_limit_exceeded"
	case SchemaValidationFailure:
		return "schema_validation_failure"
	case StructuralInvalid:
		return "structural_invalid"
	case NoPlayableAdBreak:
		return "no_playable_ad_break"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText renders the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// PlayContent reports whether the caller should play content without an ad
func (k Kind) PlayContent() bool {
	return k != Valid
}

// IsError reports whether the kind should be logged as a failure. No fill is
// a normal terminal state.
func (k Kind) IsError() bool {
	return k != Valid && k != NoPlayableAdBreak
}

// ResponseType is the shape of the first fetched document
type ResponseType int

// Response shapes
const (
	AdResponse ResponseType = iota
	ManifestResponse
)

func (t ResponseType) String() string {
	if t == ManifestResponse {
		return "manifest"
	}
	return "ad"
}

// MarshalText renders the type by name
func (t ResponseType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Failure is the error returned when resolution stops early
type Failure struct {
	Kind  Kind
	URL   string
	Depth int
	Err   error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s at depth %d (%s)", f.Kind, f.Depth, f.URL)
	}
	return fmt.Sprintf("%s at depth %d (%s): %v", f.Kind, f.Depth, f.URL, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// BreakResult is the processing result of one ad break
type BreakResult struct {
	ID         string
	TimeOffset string
	BreakType  string
	Kind       Kind
	Reason     vast.InvalidReason
	Model      *vast.AdModel
	Hops       int
	Err        error
	// Dropped is true when the break failed structural checks and was not resolved
	Dropped bool
}

// Empty reports whether the break resolved cleanly but carried no ads
func (b BreakResult) Empty() bool {
	if b.Dropped || b.Err != nil || b.Kind == Valid {
		return false
	}
	return b.Model == nil || !b.Model.HasAds
}

// Outcome is the result of one Process call
type Outcome struct {
	ID   string
	URL  string
	Kind Kind
	Type ResponseType
	// Model is the model of the first valid break
	Model  *vast.AdModel
	Breaks []BreakResult
	Reason vast.InvalidReason
	Err    error
	// Hops counts documents fetched during the call
	Hops int
}

// DroppedEvents sums unknown tracking events across all break models
func (o *Outcome) DroppedEvents() int {
	n := 0
	for _, b := range o.Breaks {
		if b.Model != nil {
			n += b.Model.DroppedEvents
		}
	}
	return n
}

// Recorder observes finished outcomes, e.g. for metrics or auditing
type Recorder interface {
	Observe(outcome *Outcome, elapsed time.Duration)
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(outcome *Outcome, elapsed time.Duration)

// Observe calls f
func (f RecorderFunc) Observe(outcome *Outcome, elapsed time.Duration) {
	f(outcome, elapsed)
}

// MultiRecorder fans out to every non-nil recorder
func MultiRecorder(recorders ...Recorder) Recorder {
	var rs []Recorder
	for _, r := range recorders {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return RecorderFunc(func(outcome *Outcome, elapsed time.Duration) {
		for _, r := range rs {
			r.Observe(outcome, elapsed)
		}
	})
}
