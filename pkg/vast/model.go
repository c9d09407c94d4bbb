// Package vast extracts a typed ad model from resolved VAST documents,
// merges wrapper chains, and validates that a result can be played.
package vast

// Delivery methods seen on MediaFile elements
const (
	DeliveryProgressive = "progressive"
	DeliveryStreaming   = "streaming"
)

// AdSourceKind records where an ad's VAST came from
type AdSourceKind int

// Ad source kinds. SourceNone means no source indicator was found.
const (
	SourceNone AdSourceKind = iota
	SourceAdTagURI
	SourceCustomData
	SourceEmbedded
)

// String returns a short name for logs and JSON
func (k AdSourceKind) String() string {
	switch k {
	case SourceAdTagURI:
		return "ad_tag_uri"
	case SourceCustomData:
		return "custom_ad_data"
	case SourceEmbedded:
		return "vast_ad_data"
	default:
		return "none"
	}
}

// MarshalText renders the kind by name
func (k AdSourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name. Unknown names decode to SourceNone.
func (k *AdSourceKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ad_tag_uri":
		*k = SourceAdTagURI
	case "custom_ad_data":
		*k = SourceCustomData
	case "vast_ad_data":
		*k = SourceEmbedded
	default:
		*k = SourceNone
	}
	return nil
}

// MediaStream is one candidate playable asset. Pointer fields are nil when
// the attribute was absent or unparseable.
type MediaStream struct {
	URL                 string `json:"url"`
	ID                  string `json:"id,omitempty"`
	Delivery            string `json:"delivery,omitempty"`
	Type                string `json:"type,omitempty"`
	Bitrate             *int   `json:"bitrate,omitempty"`
	Width               *int   `json:"width,omitempty"`
	Height              *int   `json:"height,omitempty"`
	Scalable            *bool  `json:"scalable,omitempty"`
	MaintainAspectRatio *bool  `json:"maintain_aspect_ratio,omitempty"`
	APIFramework        string `json:"api_framework,omitempty"`
}

// Area returns width*height, or 0 when either dimension is unset
func (m MediaStream) Area() int {
	if m.Width == nil || m.Height == nil {
		return 0
	}
	return *m.Width * *m.Height
}

// VideoClicks holds the click URLs of a linear creative
type VideoClicks struct {
	ClickThrough  string   `json:"click_through,omitempty"`
	ClickTracking []string `json:"click_tracking,omitempty"`
	CustomClick   []string `json:"custom_click,omitempty"`
}

// AdModel is the typed view of a merged wrapper chain
type AdModel struct {
	Duration         string           `json:"duration,omitempty"`
	TrackingEvents   TrackingEventMap `json:"tracking_events"`
	MediaStreams     []MediaStream    `json:"media_streams"`
	VideoClicks      VideoClicks      `json:"video_clicks"`
	Impressions      []string         `json:"impressions"`
	ErrorURLs        []string         `json:"error_urls"`
	SelectedMediaURL string           `json:"selected_media_url,omitempty"`

	// Source is set by the caller from the ad break the model came from
	Source AdSourceKind `json:"source"`

	// HasAds is false when no document in the chain contained an Ad element
	HasAds bool `json:"has_ads"`

	// DroppedEvents counts tracking entries with unknown or missing event names
	DroppedEvents int `json:"dropped_events,omitempty"`
}

// Clone returns a deep copy of the model
func (m *AdModel) Clone() *AdModel {
	if m == nil {
		return nil
	}
	out := *m
	out.TrackingEvents = m.TrackingEvents.Clone()
	out.MediaStreams = append([]MediaStream(nil), m.MediaStreams...)
	out.VideoClicks = VideoClicks{
		ClickThrough:  m.VideoClicks.ClickThrough,
		ClickTracking: append([]string(nil), m.VideoClicks.ClickTracking...),
		CustomClick:   append([]string(nil), m.VideoClicks.CustomClick...),
	}
	out.Impressions = append([]string(nil), m.Impressions...)
	out.ErrorURLs = append([]string(nil), m.ErrorURLs...)
	return &out
}
