// Package avatar provides the streaming avatar domain types.
package avatar

import "time"

// Quality represents the avatar video quality tier.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// IsValid reports whether q is a known quality tier.
func (q Quality) IsValid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	default:
		return false
	}
}

// TaskType represents how the avatar handles a speak request.
type TaskType string

const (
	TaskTypeTalk   TaskType = "talk"   // Answer through the knowledge base / LLM
	TaskTypeRepeat TaskType = "repeat" // Repeat the text verbatim
)

// StartRequest represents the configuration for a new streaming session.
type StartRequest struct {
	Quality            Quality
	AvatarName         string
	Language           string
	KnowledgeID        string
	DisableIdleTimeout bool
}

// SpeakRequest represents a text payload for the avatar to speak.
type SpeakRequest struct {
	Text     string
	TaskType TaskType
}

// VoiceChatRequest represents the configuration for opening a voice channel.
type VoiceChatRequest struct {
	UseSilencePrompt bool
	Language         string
}

// StreamInfo describes the media stream a client attaches to its video sink.
type StreamInfo struct {
	URL         string // Media server URL
	AccessToken string // Media server access token
}

// SessionData represents metadata returned when a session is created.
type SessionData struct {
	SessionID        string
	AccessToken      string        // Media server access token
	URL              string        // Media server URL
	RealtimeEndpoint string        // Websocket endpoint for lifecycle events
	SessionDuration  time.Duration // Max session duration (0 if not reported)
	KnowledgeID      string
	CreatedAt        time.Time
}

// Stream returns the stream descriptor for this session.
func (d *SessionData) Stream() *StreamInfo {
	if d == nil || d.URL == "" {
		return nil
	}
	return &StreamInfo{
		URL:         d.URL,
		AccessToken: d.AccessToken,
	}
}
