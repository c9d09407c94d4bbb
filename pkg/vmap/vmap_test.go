package vmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_adtag/pkg/vast"
	"github.com/thenexusengine/tne_adtag/pkg/xmltree"
)

const manifestDoc = `<?xml version="1.0" encoding="UTF-8"?>
<vmap:VMAP xmlns:vmap="http://www.iab.net/videosuite/vmap" version="1.0">
  <vmap:AdBreak timeOffset="start" breakType="linear" breakId="preroll">
    <vmap:AdSource id="pre" allowMultipleAds="false" followRedirects="true">
      <vmap:AdTagURI templateType="vast3"><![CDATA[https://ads.example.com/pre]]></vmap:AdTagURI>
    </vmap:AdSource>
    <vmap:TrackingEvents>
      <vmap:Tracking event="breakStart">https://ads.example.com/break-start</vmap:Tracking>
    </vmap:TrackingEvents>
    <vmap:Extensions>
      <vmap:Extension type="bumper" suppress_bumper="TRUE"/>
    </vmap:Extensions>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="00:10:00.000" breakType="linear" breakId="mid">
    <vmap:AdSource id="mid">
      <vmap:VASTAdData>
        <VAST version="3.0"><Ad id="embedded"><InLine><Impression>https://x/imp</Impression></InLine></Ad></VAST>
      </vmap:VASTAdData>
    </vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="50%" breakType="nonlinear" breakId="half">
    <vmap:AdSource>
      <vmap:CustomAdData templateType="custom">payload</vmap:CustomAdData>
    </vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak timeOffset="end" breakType="linear" breakId="post">
    <vmap:AdSource>
      <vmap:AdTagURI templateType="vpaid">https://ads.example.com/post</vmap:AdTagURI>
    </vmap:AdSource>
  </vmap:AdBreak>
  <vmap:AdBreak breakType="linear" breakId="broken"/>
</vmap:VMAP>`

func parseManifest(t *testing.T, doc string) (*xmltree.Tree, *Manifest) {
	t.Helper()
	tree, err := xmltree.ParseString(doc)
	require.NoError(t, err)
	return tree, Parse(tree)
}

func TestParse(t *testing.T) {
	tree, m := parseManifest(t, manifestDoc)

	assert.True(t, IsManifest(tree))
	assert.Equal(t, "1.0", m.Version)
	assert.False(t, m.Synthetic)
	require.Len(t, m.Breaks, 5)

	pre := m.Breaks[0]
	assert.Equal(t, "preroll", pre.ID)
	assert.Equal(t, "start", pre.TimeOffset)
	assert.Equal(t, BreakLinear, pre.BreakType)
	require.NotNil(t, pre.Source)
	assert.Equal(t, "pre", pre.Source.ID)
	assert.False(t, pre.Source.AllowMultipleAds)
	require.NotNil(t, pre.Source.FollowRedirects)
	assert.True(t, *pre.Source.FollowRedirects)
	require.NotNil(t, pre.Source.AdTagURI)
	assert.Equal(t, "https://ads.example.com/pre", pre.Source.AdTagURI.URI)
	assert.True(t, pre.Source.AdTagURI.IsVAST())
	assert.Equal(t, vast.SourceAdTagURI, pre.Source.Kind())
	assert.Equal(t, []Tracking{{Event: "breakStart", URL: "https://ads.example.com/break-start"}}, pre.Tracking)
	require.Len(t, pre.Extensions, 1)
	assert.Equal(t, "bumper", pre.Extensions[0].Type)
	assert.True(t, pre.Extensions[0].SuppressBumper)

	mid := m.Breaks[1]
	assert.True(t, mid.Source.AllowMultipleAds, "allowMultipleAds defaults to true")
	assert.Nil(t, mid.Source.FollowRedirects)
	require.NotNil(t, mid.Source.VASTAdData)
	assert.Equal(t, "VAST", mid.Source.VASTAdData.Root().Tag())
	assert.Equal(t, vast.SourceEmbedded, mid.Source.Kind())

	half := m.Breaks[2]
	assert.Equal(t, vast.SourceCustomData, half.Source.Kind())
	assert.Equal(t, "payload", half.Source.CustomAdData.Data)

	post := m.Breaks[3]
	assert.False(t, post.Source.AdTagURI.IsVAST())
}

func TestAdBreakValidate(t *testing.T) {
	_, m := parseManifest(t, manifestDoc)

	for _, b := range m.Breaks[:4] {
		assert.NoError(t, b.Validate(), b.ID)
	}
	assert.ErrorIs(t, m.Breaks[4].Validate(), ErrMissingTimeOffset)

	assert.ErrorIs(t, AdBreak{TimeOffset: "start"}.Validate(), ErrMissingBreakType)
	assert.ErrorIs(t, AdBreak{TimeOffset: "start", BreakType: "linear", Source: &AdSource{}}.Validate(), ErrEmptyAdSource)
	assert.NoError(t, AdBreak{TimeOffset: "start", BreakType: "linear"}.Validate(), "a break without a source is allowed")
}

func TestParseTimeOffset(t *testing.T) {
	cases := []struct {
		offset string
		want   float64
	}{
		{"start", 0},
		{"end", 1200},
		{"00:01:40.000", 100},
		{"00:00:10", 10},
		{"01:00:00", 3600},
		{"25%", 300},
		{"#2", -1},
		{"", -1},
		{"soon", -1},
		{"00:61:00", -1},
		{"150%", -1},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, ParseTimeOffset(tc.offset, 1200), 0.0001, tc.offset)
	}
}

func TestRollSelection(t *testing.T) {
	_, m := parseManifest(t, manifestDoc)

	ids := func(breaks []AdBreak) []string {
		var out []string
		for _, b := range breaks {
			out = append(out, b.ID)
		}
		return out
	}

	assert.Equal(t, []string{"preroll"}, ids(m.PreRolls(1200)))
	assert.Equal(t, []string{"mid", "half"}, ids(m.MidRolls(1200)))
	assert.Equal(t, []string{"post"}, ids(m.PostRolls(1200)))
	assert.Empty(t, m.PostRolls(0))
}

func TestFromVAST(t *testing.T) {
	tree, err := xmltree.ParseString(`<VAST version="3.0"><Ad/></VAST>`)
	require.NoError(t, err)
	assert.False(t, IsManifest(tree))

	m := FromVAST(tree)
	assert.True(t, m.Synthetic)
	require.Len(t, m.Breaks, 1)

	b := m.Breaks[0]
	assert.Equal(t, PrerollBreakID, b.ID)
	assert.Equal(t, OffsetStart, b.TimeOffset)
	assert.Equal(t, BreakLinear, b.BreakType)
	assert.NoError(t, b.Validate())
	assert.Equal(t, vast.SourceEmbedded, b.Source.Kind())
	assert.Same(t, tree, b.Source.VASTAdData)
}
