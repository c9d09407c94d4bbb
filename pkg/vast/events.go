package vast

import (
	"fmt"
)

// EventType is one of the fixed tracking event kinds. Names that do not map
// to an EventType are never stored.
type EventType int

// Tracking event kinds
const (
	EventCreativeView EventType = iota
	EventStart
	EventFirstQuartile
	EventMidpoint
	EventThirdQuartile
	EventComplete
	EventMute
	EventUnmute
	EventPause
	EventRewind
	EventResume
	EventFullscreen
	EventExitFullscreen
	EventExpand
	EventCollapse
	EventAcceptInvitation
	EventClose
	EventSkip
	EventProgress
	EventError
	EventBreakStart
	EventBreakEnd
)

// AllEvents lists every EventType in declaration order
var AllEvents = []EventType{
	EventCreativeView, EventStart, EventFirstQuartile, EventMidpoint,
	EventThirdQuartile, EventComplete, EventMute, EventUnmute, EventPause,
	EventRewind, EventResume, EventFullscreen, EventExitFullscreen,
	EventExpand, EventCollapse, EventAcceptInvitation, EventClose, EventSkip,
	EventProgress, EventError, EventBreakStart, EventBreakEnd,
}

// ParseEventType maps a wire event name to its EventType
func ParseEventType(name string) (EventType, bool) {
	switch name {
	case "creativeView":
		return EventCreativeView, true
	case "start":
		return EventStart, true
	case "firstQuartile":
		return EventFirstQuartile, true
	case "midpoint":
		return EventMidpoint, true
	case "thirdQuartile":
		return EventThirdQuartile, true
	case "complete":
		return EventComplete, true
	case "mute":
		return EventMute, true
	case "unmute":
		return EventUnmute, true
	case "pause":
		return EventPause, true
	case "rewind":
		return EventRewind, true
	case "resume":
		return EventResume, true
	case "fullscreen":
		return EventFullscreen, true
	case "exitFullscreen", "exitFullScreen":
		return EventExitFullscreen, true
	case "expand":
		return EventExpand, true
	case "collapse":
		return EventCollapse, true
	case "acceptInvitation", "acceptInvitationLinear":
		return EventAcceptInvitation, true
	case "close", "closeLinear":
		return EventClose, true
	case "skip":
		return EventSkip, true
	case "progress":
		return EventProgress, true
	case "error":
		return EventError, true
	case "breakStart":
		return EventBreakStart, true
	case "breakEnd":
		return EventBreakEnd, true
	}
	return 0, false
}

// String returns the wire name of the event
func (e EventType) String() string {
	switch e {
	case EventCreativeView:
		return "creativeView"
	case EventStart:
		return "start"
	case EventFirstQuartile:
		return "firstQuartile"
	case EventMidpoint:
		return "midpoint"
	case EventThirdQuartile:
		return "thirdQuartile"
	case EventComplete:
		return "complete"
	case EventMute:
		return "mute"
	case EventUnmute:
		return "unmute"
	case EventPause:
		return "pause"
	case EventRewind:
		return "rewind"
	case EventResume:
		return "resume"
	case EventFullscreen:
		return "fullscreen"
	case EventExitFullscreen:
		return "exitFullscreen"
	case EventExpand:
		return "expand"
	case EventCollapse:
		return "collapse"
	case EventAcceptInvitation:
		return "acceptInvitation"
	case EventClose:
		return "close"
	case EventSkip:
		return "skip"
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventBreakStart:
		return "breakStart"
	case EventBreakEnd:
		return "breakEnd"
	}
	return fmt.Sprintf("EventType(%d)", int(e))
}

// MarshalText lets EventType act as a JSON object key
func (e EventType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses a wire event name
func (e *EventType) UnmarshalText(text []byte) error {
	parsed, ok := ParseEventType(string(text))
	if !ok {
		return fmt.Errorf("unknown tracking event %q", string(text))
	}
	*e = parsed
	return nil
}

// TrackingEventMap holds tracking URLs per event, in document order
type TrackingEventMap map[EventType][]string

// Add appends a URL to the event's list
func (m TrackingEventMap) Add(event EventType, url string) {
	m[event] = append(m[event], url)
}

// URLs returns the URLs registered for an event
func (m TrackingEventMap) URLs(event EventType) []string {
	return m[event]
}

// Len returns the total number of URLs across all events
func (m TrackingEventMap) Len() int {
	n := 0
	for _, urls := range m {
		n += len(urls)
	}
	return n
}

// Clone returns a deep copy
func (m TrackingEventMap) Clone() TrackingEventMap {
	out := make(TrackingEventMap, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}
