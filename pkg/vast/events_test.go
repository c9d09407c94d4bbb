package vast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypes(t *testing.T) {
	for _, e := range AllEvents {
		parsed, ok := ParseEventType(e.String())
		assert.True(t, ok, e.String())
		assert.Equal(t, e, parsed)
	}

	aliases := map[string]EventType{
		"closeLinear":            EventClose,
		"acceptInvitationLinear": EventAcceptInvitation,
		"exitFullScreen":         EventExitFullscreen,
	}
	for name, want := range aliases {
		got, ok := ParseEventType(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got)
	}

	_, ok := ParseEventType("Start")
	assert.False(t, ok, "event names are case sensitive")

	var e EventType
	assert.Error(t, e.UnmarshalText([]byte("bogus")))
	assert.NoError(t, e.UnmarshalText([]byte("midpoint")))
	assert.Equal(t, EventMidpoint, e)
}

func TestTrackingEventMap(t *testing.T) {
	m := TrackingEventMap{}
	m.Add(EventStart, "https://x/start/1")
	m.Add(EventStart, "https://x/start/2")
	m.Add(EventComplete, "https://x/complete")

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"https://x/start/1", "https://x/start/2"}, m.URLs(EventStart))
	assert.Empty(t, m.URLs(EventPause))

	clone := m.Clone()
	clone.Add(EventStart, "https://x/start/3")
	assert.Len(t, m.URLs(EventStart), 2)
	assert.Len(t, clone.URLs(EventStart), 3)
}

func TestTrackingEventMap_JSONKeysByName(t *testing.T) {
	m := TrackingEventMap{}
	m.Add(EventFirstQuartile, "https://x/q1")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"firstQuartile":["https://x/q1"]}`, string(data))

	var back TrackingEventMap
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m, back)
}
