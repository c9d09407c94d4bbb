// Package vmap reads ad break manifests and wraps bare VAST responses into
// the same shape.
package vmap

import (
	"errors"
	"strings"

	"github.com/thenexusengine/tne_adtag/pkg/vast"
	"github.com/thenexusengine/tne_adtag/pkg/xmltree"
)

// NamespaceAttr is the root attribute that marks a manifest response
const NamespaceAttr = "xmlns:vmap"

// Break types
const (
	BreakLinear    = "linear"
	BreakNonLinear = "nonlinear"
	BreakDisplay   = "display"
)

// Offsets and ids used for a synthetic pre-roll
const (
	OffsetStart    = "start"
	OffsetEnd      = "end"
	PrerollBreakID = "preroll"
)

// Errors returned by AdBreak.Validate
var (
	ErrMissingTimeOffset = errors.New("ad break has no timeOffset")
	ErrMissingBreakType  = errors.New("ad break has no breakType")
	ErrEmptyAdSource     = errors.New("ad source has no AdTagURI, CustomAdData or VASTAdData")
)

// Manifest is a parsed ad break manifest
type Manifest struct {
	Version string
	Breaks  []AdBreak
	// Synthetic is true when the manifest was built around a bare VAST response
	Synthetic bool
}

// AdBreak is one ad opportunity in the content timeline
type AdBreak struct {
	ID          string
	TimeOffset  string
	BreakType   string
	RepeatAfter string
	Source      *AdSource
	Tracking    []Tracking
	Extensions  []Extension
}

// AdSource says where a break's ad response comes from. At most one of
// AdTagURI, CustomAdData and VASTAdData is expected.
type AdSource struct {
	ID               string
	AllowMultipleAds bool
	FollowRedirects  *bool
	AdTagURI         *AdTagURI
	CustomAdData     *CustomAdData
	VASTAdData       *xmltree.Tree
}

// AdTagURI points at a remote ad response
type AdTagURI struct {
	TemplateType string
	URI          string
}

// CustomAdData carries an inline response in a non-VAST format
type CustomAdData struct {
	TemplateType string
	Data         string
}

// Tracking is a break-level tracking URL (breakStart, breakEnd, error)
type Tracking struct {
	Event string
	URL   string
}

// Extension is a manifest extension element
type Extension struct {
	Type           string
	SuppressBumper bool
	Content        string
}

// IsManifest reports whether the tree's root carries the manifest namespace
func IsManifest(tree *xmltree.Tree) bool {
	_, ok := tree.Root().Attr(NamespaceAttr)
	return ok
}

// Parse reads a manifest. It never fails; missing pieces are left empty for
// Validate to report.
func Parse(tree *xmltree.Tree) *Manifest {
	root := tree.Root()
	m := &Manifest{Version: root.AttrOr("version", "")}
	for _, node := range root.FindAll("AdBreak") {
		m.Breaks = append(m.Breaks, parseBreak(node))
	}
	return m
}

func parseBreak(node xmltree.Node) AdBreak {
	b := AdBreak{
		ID:          node.AttrOr("breakId", ""),
		TimeOffset:  node.AttrOr("timeOffset", ""),
		BreakType:   node.AttrOr("breakType", ""),
		RepeatAfter: node.AttrOr("repeatAfter", ""),
	}
	for _, child := range node.Children() {
		switch child.Tag() {
		case "AdSource":
			b.Source = parseSource(child)
		case "TrackingEvents":
			for _, t := range child.Children() {
				if t.Tag() != "Tracking" {
					continue
				}
				if url := t.Text(); url != "" {
					b.Tracking = append(b.Tracking, Tracking{Event: t.AttrOr("event", ""), URL: url})
				}
			}
		case "Extensions":
			for _, e := range child.Children() {
				if e.Tag() != "Extension" {
					continue
				}
				b.Extensions = append(b.Extensions, Extension{
					Type:           e.AttrOr("type", ""),
					SuppressBumper: strings.EqualFold(e.AttrOr("suppress_bumper", ""), "true"),
					Content:        e.Text(),
				})
			}
		}
	}
	return b
}

func parseSource(node xmltree.Node) *AdSource {
	s := &AdSource{
		ID:               node.AttrOr("id", ""),
		AllowMultipleAds: true,
	}
	if v, ok := node.Attr("allowMultipleAds"); ok {
		s.AllowMultipleAds = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := node.Attr("followRedirects"); ok {
		follow := strings.EqualFold(strings.TrimSpace(v), "true")
		s.FollowRedirects = &follow
	}
	for _, child := range node.Children() {
		switch child.Tag() {
		case "AdTagURI":
			s.AdTagURI = &AdTagURI{TemplateType: child.AttrOr("templateType", ""), URI: child.Text()}
		case "CustomAdData":
			s.CustomAdData = &CustomAdData{TemplateType: child.AttrOr("templateType", ""), Data: child.Text()}
		case "VASTAdData":
			if v, ok := child.Find(vast.RootTag); ok {
				s.VASTAdData = v.Copy()
			}
		}
	}
	return s
}

// Validate checks the break's required attributes and its source
func (b AdBreak) Validate() error {
	if strings.TrimSpace(b.TimeOffset) == "" {
		return ErrMissingTimeOffset
	}
	if strings.TrimSpace(b.BreakType) == "" {
		return ErrMissingBreakType
	}
	if b.Source != nil && b.Source.Kind() == vast.SourceNone {
		return ErrEmptyAdSource
	}
	return nil
}

// Kind reports which source indicator is present. Embedded VAST wins over a
// tag URI, which wins over custom data.
func (s *AdSource) Kind() vast.AdSourceKind {
	switch {
	case s == nil:
		return vast.SourceNone
	case s.VASTAdData != nil:
		return vast.SourceEmbedded
	case s.AdTagURI != nil && s.AdTagURI.URI != "":
		return vast.SourceAdTagURI
	case s.CustomAdData != nil && s.CustomAdData.Data != "":
		return vast.SourceCustomData
	}
	return vast.SourceNone
}

// IsVASTTemplate reports whether a templateType names a VAST format. An
// empty template type is treated as VAST.
func IsVASTTemplate(templateType string) bool {
	switch strings.ToLower(strings.TrimSpace(templateType)) {
	case "", "vast", "vast1", "vast2", "vast3", "vast4":
		return true
	}
	return false
}

// IsVAST reports whether the URI returns a VAST document
func (t *AdTagURI) IsVAST() bool {
	return IsVASTTemplate(t.TemplateType)
}

// IsVAST reports whether the inline data is a VAST document
func (c *CustomAdData) IsVAST() bool {
	return IsVASTTemplate(c.TemplateType)
}

// FromVAST wraps a bare VAST response into a single pre-roll break with the
// document embedded as its source
func FromVAST(tree *xmltree.Tree) *Manifest {
	return &Manifest{
		Version:   "1.0",
		Synthetic: true,
		Breaks: []AdBreak{{
			ID:         PrerollBreakID,
			TimeOffset: OffsetStart,
			BreakType:  BreakLinear,
			Source: &AdSource{
				ID:               PrerollBreakID,
				AllowMultipleAds: true,
				VASTAdData:       tree,
			},
		}},
	}
}
