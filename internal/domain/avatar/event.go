package avatar

// EventKind represents a streaming lifecycle event kind.
type EventKind int

const (
	EventStreamReady        EventKind = iota // Media stream is ready to attach
	EventStreamDisconnected                  // Media stream is gone
	EventUserStart                           // User started speaking
	EventUserStop                            // User stopped speaking
	EventAvatarStartTalking                  // Avatar started talking
	EventAvatarStopTalking                   // Avatar stopped talking
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStreamReady:
		return "stream_ready"
	case EventStreamDisconnected:
		return "stream_disconnected"
	case EventUserStart:
		return "user_start"
	case EventUserStop:
		return "user_stop"
	case EventAvatarStartTalking:
		return "avatar_start_talking"
	case EventAvatarStopTalking:
		return "avatar_stop_talking"
	default:
		return "unknown"
	}
}

// ParseEventKind parses a realtime message type into an event kind.
// Only the speech events travel over the realtime channel.
func ParseEventKind(s string) (EventKind, bool) {
	switch s {
	case "user_start":
		return EventUserStart, true
	case "user_stop":
		return EventUserStop, true
	case "avatar_start_talking":
		return EventAvatarStartTalking, true
	case "avatar_stop_talking":
		return EventAvatarStopTalking, true
	default:
		return 0, false
	}
}

// Event represents a lifecycle event delivered to handlers.
type Event struct {
	Kind   EventKind
	Stream *StreamInfo // Set for EventStreamReady
}

// Handler handles a lifecycle event.
type Handler func(Event)
