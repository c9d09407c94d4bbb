package vast

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/thenexusengine/tne_adtag/pkg/xmltree"
)

// Builder provides a fluent interface for constructing VAST documents. It is
// used to produce fixtures and synthetic responses.
type Builder struct {
	doc     *etree.Document
	root    *etree.Element
	current *etree.Element
	body    *etree.Element
	err     error
}

// NewBuilder creates a new VAST builder
func NewBuilder(version string) *Builder {
	if version == "" {
		version = "3.0"
	}
	doc := etree.NewDocument()
	root := doc.CreateElement(RootTag)
	root.CreateAttr("version", version)
	return &Builder{doc: doc, root: root}
}

// AddAd starts building a new ad
func (b *Builder) AddAd(id string) *Builder {
	if b.err != nil {
		return b
	}
	b.current = b.root.CreateElement("Ad")
	if id != "" {
		b.current.CreateAttr("id", id)
	}
	b.body = nil
	return b
}

// WithInLine sets the current ad as an inline ad
func (b *Builder) WithInLine(adSystem, adTitle string) *Builder {
	if b.err != nil {
		return b
	}
	if b.current == nil {
		b.err = fmt.Errorf("WithInLine: no current ad")
		return b
	}
	b.body = b.current.CreateElement("InLine")
	b.body.CreateElement("AdSystem").SetText(adSystem)
	b.body.CreateElement("AdTitle").SetText(adTitle)
	return b
}

// WithWrapper sets the current ad as a wrapper pointing at tagURI
func (b *Builder) WithWrapper(adSystem, tagURI string) *Builder {
	if b.err != nil {
		return b
	}
	if b.current == nil {
		b.err = fmt.Errorf("WithWrapper: no current ad")
		return b
	}
	b.body = b.current.CreateElement("Wrapper")
	b.body.CreateElement("AdSystem").SetText(adSystem)
	b.body.CreateElement(AdTagURITag).SetCData(tagURI)
	return b
}

// WithImpression adds an impression tracking URL
func (b *Builder) WithImpression(url string, id ...string) *Builder {
	if b.err != nil || b.body == nil {
		return b
	}
	imp := b.body.CreateElement("Impression")
	if len(id) > 0 {
		imp.CreateAttr("id", id[0])
	}
	imp.SetCData(url)
	return b
}

// WithError adds an error tracking URL
func (b *Builder) WithError(url string) *Builder {
	if b.err != nil || b.body == nil {
		return b
	}
	b.body.CreateElement("Error").SetCData(url)
	return b
}

// WithLinearCreative adds a linear creative to the current ad
func (b *Builder) WithLinearCreative(id string, duration time.Duration) *LinearBuilder {
	if b.err != nil || b.body == nil {
		if b.err == nil {
			b.err = fmt.Errorf("WithLinearCreative: no InLine or Wrapper")
		}
		return &LinearBuilder{parent: b, err: b.err}
	}
	creatives := child(b.body, "Creatives")
	creative := creatives.CreateElement("Creative")
	if id != "" {
		creative.CreateAttr("id", id)
	}
	linear := creative.CreateElement("Linear")
	if duration > 0 {
		linear.CreateElement("Duration").SetText(FormatDuration(duration))
	}
	return &LinearBuilder{parent: b, linear: linear}
}

// WithNonLinearTracking adds a NonLinearAds creative carrying one tracking event
func (b *Builder) WithNonLinearTracking(event, url string) *Builder {
	if b.err != nil || b.body == nil {
		return b
	}
	nl := child(b.body, "Creatives").CreateElement("Creative").CreateElement("NonLinearAds")
	addTracking(nl, event, url)
	return b
}

// Done finalizes the current ad
func (b *Builder) Done() *Builder {
	b.current = nil
	b.body = nil
	return b
}

// String renders the document. It returns "" when the builder is in error.
func (b *Builder) String() string {
	if b.err != nil {
		return ""
	}
	b.doc.Indent(2)
	s, err := b.doc.WriteToString()
	if err != nil {
		return ""
	}
	return s
}

// Bytes renders the document as bytes
func (b *Builder) Bytes() []byte {
	return []byte(b.String())
}

// Build returns the constructed document as a parsed tree
func (b *Builder) Build() (*xmltree.Tree, error) {
	if b.err != nil {
		return nil, b.err
	}
	return xmltree.ParseString(b.String())
}

// LinearBuilder provides a fluent interface for building linear creatives
type LinearBuilder struct {
	parent *Builder
	linear *etree.Element
	err    error
}

// MediaFileOption modifies a MediaFile element
type MediaFileOption func(*etree.Element)

// WithBitrate sets the bitrate attribute
func WithBitrate(bitrate int) MediaFileOption {
	return func(mf *etree.Element) {
		mf.CreateAttr("bitrate", strconv.Itoa(bitrate))
	}
}

// WithDelivery sets the delivery method
func WithDelivery(delivery string) MediaFileOption {
	return func(mf *etree.Element) {
		mf.CreateAttr("delivery", delivery)
	}
}

// WithMediaAttr sets an arbitrary MediaFile attribute
func WithMediaAttr(name, value string) MediaFileOption {
	return func(mf *etree.Element) {
		mf.CreateAttr(name, value)
	}
}

// WithMediaFile adds a media file to the linear creative
func (lb *LinearBuilder) WithMediaFile(url, mimeType string, width, height int, opts ...MediaFileOption) *LinearBuilder {
	if lb.err != nil {
		return lb
	}
	mf := child(lb.linear, "MediaFiles").CreateElement("MediaFile")
	mf.CreateAttr("delivery", DeliveryProgressive)
	mf.CreateAttr("type", mimeType)
	mf.CreateAttr("width", strconv.Itoa(width))
	mf.CreateAttr("height", strconv.Itoa(height))
	for _, opt := range opts {
		opt(mf)
	}
	mf.SetCData(url)
	return lb
}

// WithTracking adds a tracking event to the linear creative
func (lb *LinearBuilder) WithTracking(event, url string) *LinearBuilder {
	if lb.err != nil {
		return lb
	}
	addTracking(lb.linear, event, url)
	return lb
}

// WithAllQuartileTracking adds the standard quartile events
func (lb *LinearBuilder) WithAllQuartileTracking(baseURL string) *LinearBuilder {
	for _, event := range []EventType{EventStart, EventFirstQuartile, EventMidpoint, EventThirdQuartile, EventComplete} {
		lb.WithTracking(event.String(), fmt.Sprintf("%s?event=%s", baseURL, event))
	}
	return lb
}

// WithClickThrough sets the click-through URL
func (lb *LinearBuilder) WithClickThrough(url string) *LinearBuilder {
	if lb.err != nil {
		return lb
	}
	child(lb.linear, "VideoClicks").CreateElement("ClickThrough").SetCData(url)
	return lb
}

// WithClickTracking adds a click tracking URL
func (lb *LinearBuilder) WithClickTracking(url string) *LinearBuilder {
	if lb.err != nil {
		return lb
	}
	child(lb.linear, "VideoClicks").CreateElement("ClickTracking").SetCData(url)
	return lb
}

// WithCustomClick adds a custom click URL
func (lb *LinearBuilder) WithCustomClick(url string) *LinearBuilder {
	if lb.err != nil {
		return lb
	}
	child(lb.linear, "VideoClicks").CreateElement("CustomClick").SetCData(url)
	return lb
}

// WithSkipOffset sets the skip offset for skippable ads
func (lb *LinearBuilder) WithSkipOffset(offset string) *LinearBuilder {
	if lb.err != nil {
		return lb
	}
	lb.linear.CreateAttr("skipoffset", offset)
	return lb
}

// EndLinear finishes the linear creative and returns to the ad builder
func (lb *LinearBuilder) EndLinear() *Builder {
	return lb.parent
}

// CreateEmptyVAST returns a VAST document with no ads (no fill)
func CreateEmptyVAST() string {
	return NewBuilder("3.0").String()
}

// CreateErrorVAST returns a VAST document carrying only an error URL
func CreateErrorVAST(errorURL string) string {
	b := NewBuilder("3.0")
	b.root.CreateElement("Error").SetCData(errorURL)
	return b.String()
}

// FormatDuration renders d as HH:MM:SS, or HH:MM:SS.mmm when it has a
// millisecond part
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	ms := int(d%time.Second) / int(time.Millisecond)
	if ms > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func addTracking(parent *etree.Element, event, url string) {
	t := child(parent, "TrackingEvents").CreateElement("Tracking")
	if event != "" {
		t.CreateAttr("event", event)
	}
	t.SetCData(url)
}

// child returns the first child named tag, creating it when missing
func child(parent *etree.Element, tag string) *etree.Element {
	if el := parent.SelectElement(tag); el != nil {
		return el
	}
	return parent.CreateElement(tag)
}
