package vast

import (
	"fmt"
)

// InvalidReason names the first check a model failed
type InvalidReason int

// Validation failure reasons
const (
	ReasonNone InvalidReason = iota
	ReasonNoImpression
	ReasonNoMediaStream
	ReasonNoAdSource
	ReasonNoPicker
	ReasonNoPlayableStream
	ReasonMissingManifestVersion
	ReasonInvalidAdBreak
)

func (r InvalidReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoImpression:
		return "no_impression"
	case ReasonNoMediaStream:
		return "no_media_stream"
	case ReasonNoAdSource:
		return "no_ad_source"
	case ReasonNoPicker:
		return "no_picker"
	case ReasonNoPlayableStream:
		return "no_playable_stream"
	case ReasonMissingManifestVersion:
		return "missing_manifest_version"
	case ReasonInvalidAdBreak:
		return "invalid_ad_break"
	}
	return fmt.Sprintf("InvalidReason(%d)", int(r))
}

// MarshalText renders the reason by name
func (r InvalidReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Validation is the result of validating one model
type Validation struct {
	Valid  bool
	Reason InvalidReason
	// Model is a copy of the input with SelectedMediaURL set when valid
	Model *AdModel
}

// Validate checks that the model can be played. Checks run in order
// (impressions, streams, ad source, stream selection) and the first failure
// is reported. The input model is never modified.
func Validate(model *AdModel, picker Picker) Validation {
	if model == nil || len(model.Impressions) == 0 {
		return invalid(model, ReasonNoImpression)
	}
	if len(model.MediaStreams) == 0 {
		return invalid(model, ReasonNoMediaStream)
	}
	if model.Source == SourceNone {
		return invalid(model, ReasonNoAdSource)
	}
	if picker == nil {
		return invalid(model, ReasonNoPicker)
	}

	streams := append([]MediaStream(nil), model.MediaStreams...)
	picked, ok := picker.Pick(streams)
	if !ok || picked.URL == "" {
		return invalid(model, ReasonNoPlayableStream)
	}

	out := model.Clone()
	out.SelectedMediaURL = picked.URL
	return Validation{Valid: true, Reason: ReasonNone, Model: out}
}

func invalid(model *AdModel, reason InvalidReason) Validation {
	return Validation{Reason: reason, Model: model.Clone()}
}
