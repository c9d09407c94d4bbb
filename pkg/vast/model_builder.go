package vast

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adtag/pkg/logger"
	"github.com/thenexusengine/tne_adtag/pkg/xmltree"
)

// ModelBuilder walks a CombinedDocument and produces an AdModel
type ModelBuilder struct {
	log zerolog.Logger
}

// NewModelBuilder creates a builder that reports dropped data to log
func NewModelBuilder(log zerolog.Logger) *ModelBuilder {
	return &ModelBuilder{log: log}
}

// BuildModel builds with the global logger
func BuildModel(doc *CombinedDocument) *AdModel {
	return NewModelBuilder(logger.Log).Build(doc)
}

// Build extracts the ad model. It never fails: missing structure yields empty
// collections, which validation then rejects.
func (b *ModelBuilder) Build(doc *CombinedDocument) *AdModel {
	root := doc.Root()
	model := &AdModel{
		TrackingEvents: make(TrackingEventMap),
		MediaStreams:   []MediaStream{},
		Impressions:    []string{},
		ErrorURLs:      []string{},
	}
	if root.IsZero() {
		return model
	}

	model.HasAds = len(root.Path("VAST/Ad")) > 0
	b.collectTracking(root, model)
	model.MediaStreams = buildMediaStreams(root)
	model.Duration = firstText(root, "Duration")
	model.VideoClicks = buildVideoClicks(root)
	model.Impressions = textList(root, "Impression")
	model.ErrorURLs = textList(root, "Error")

	b.log.Debug().
		Int("documents", doc.Len()).
		Int("media_streams", len(model.MediaStreams)).
		Int("impressions", len(model.Impressions)).
		Int("tracking_urls", model.TrackingEvents.Len()).
		Msg("ad model built")

	return model
}

// collectTracking reads Tracking elements under linear and non-linear
// creatives of both InLine and Wrapper ads, in document order
func (b *ModelBuilder) collectTracking(root xmltree.Node, model *AdModel) {
	for _, ad := range root.Path("VAST/Ad") {
		for _, body := range ad.Children() {
			if body.Tag() != "InLine" && body.Tag() != "Wrapper" {
				continue
			}
			for _, creative := range body.Path("Creatives/Creative") {
				for _, kind := range creative.Children() {
					if kind.Tag() != "Linear" && kind.Tag() != "NonLinearAds" {
						continue
					}
					for _, tracking := range kind.Path("TrackingEvents/Tracking") {
						b.addTracking(tracking, model)
					}
				}
			}
		}
	}
}

func (b *ModelBuilder) addTracking(tracking xmltree.Node, model *AdModel) {
	name, ok := tracking.Attr("event")
	if !ok {
		model.DroppedEvents++
		b.log.Warn().Msg("tracking element without event attribute, skipping")
		return
	}
	event, ok := ParseEventType(name)
	if !ok {
		model.DroppedEvents++
		b.log.Warn().Str("event", name).Msg("unknown tracking event, skipping")
		return
	}
	if url := tracking.Text(); url != "" {
		model.TrackingEvents.Add(event, url)
	}
}

func buildMediaStreams(root xmltree.Node) []MediaStream {
	nodes := root.FindAll("MediaFile")
	streams := make([]MediaStream, 0, len(nodes))
	for _, node := range nodes {
		streams = append(streams, MediaStream{
			URL:                 node.Text(),
			ID:                  node.AttrOr("id", ""),
			Delivery:            node.AttrOr("delivery", ""),
			Type:                node.AttrOr("type", ""),
			Bitrate:             intAttr(node, "bitrate"),
			Width:               intAttr(node, "width"),
			Height:              intAttr(node, "height"),
			Scalable:            boolAttr(node, "scalable"),
			MaintainAspectRatio: boolAttr(node, "maintainAspectRatio"),
			APIFramework:        node.AttrOr("apiFramework", ""),
		})
	}
	return streams
}

func buildVideoClicks(root xmltree.Node) VideoClicks {
	var clicks VideoClicks
	for _, container := range root.FindAll("VideoClicks") {
		for _, child := range container.Children() {
			value := child.Text()
			switch {
			case strings.EqualFold(child.Tag(), "ClickThrough"):
				clicks.ClickThrough = value
			case strings.EqualFold(child.Tag(), "ClickTracking"):
				if value != "" {
					clicks.ClickTracking = append(clicks.ClickTracking, value)
				}
			case strings.EqualFold(child.Tag(), "CustomClick"):
				if value != "" {
					clicks.CustomClick = append(clicks.CustomClick, value)
				}
			}
		}
	}
	return clicks
}

func firstText(root xmltree.Node, tag string) string {
	if node, ok := root.Find(tag); ok {
		return node.Text()
	}
	return ""
}

// textList returns the non-empty text of every tag element in document order
func textList(root xmltree.Node, tag string) []string {
	out := []string{}
	for _, node := range root.FindAll(tag) {
		if v := node.Text(); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func intAttr(node xmltree.Node, name string) *int {
	v, ok := node.Attr(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return &n
}

func boolAttr(node xmltree.Node, name string) *bool {
	v, ok := node.Attr(name)
	if !ok {
		return nil
	}
	b := strings.EqualFold(strings.TrimSpace(v), "true")
	return &b
}
