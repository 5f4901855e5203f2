package view

import (
	"sync"

	"github.com/osa030/avatarbox/internal/domain/avatar"
)

// ChangeFunc receives a snapshot after every mutation.
type ChangeFunc func(State)

// Model holds the view state with thread-safe access.
type Model struct {
	mu       sync.RWMutex
	state    State
	onChange ChangeFunc
}

// NewModel creates a model in the initial state.
func NewModel() *Model {
	return &Model{state: Initial()}
}

// OnChange sets the change hook. It is called outside the lock.
func (m *Model) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Snapshot returns the current state.
func (m *Model) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// update applies fn under the lock and publishes the result if anything changed.
func (m *Model) update(fn func(s *State)) {
	m.mu.Lock()
	before := m.state
	fn(&m.state)
	if m.state == before {
		m.mu.Unlock()
		return
	}
	m.state.Sequence = before.Sequence + 1
	snapshot := m.state
	hook := m.onChange
	m.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
}

// SetSessionControls sets the start and end control enablement.
func (m *Model) SetSessionControls(startEnabled, endEnabled bool) {
	m.update(func(s *State) {
		s.StartEnabled = startEnabled
		s.EndEnabled = endEnabled
	})
}

// SetModeControlsEnabled enables or disables both mode controls.
func (m *Model) SetModeControlsEnabled(enabled bool) {
	m.update(func(s *State) {
		s.TextModeEnabled = enabled
		s.VoiceModeEnabled = enabled
	})
}

// SetModeIndicators marks the control for mode as active and the other as inactive.
func (m *Model) SetModeIndicators(mode avatar.Mode) {
	m.update(func(s *State) {
		s.TextModeActive = mode == avatar.ModeText
		s.VoiceModeActive = mode == avatar.ModeVoice
	})
}

// SetVoicePanelVisible shows or hides the voice controls.
func (m *Model) SetVoicePanelVisible(visible bool) {
	m.update(func(s *State) {
		s.VoicePanelVisible = visible
	})
}

// SetStatus sets the status text.
func (m *Model) SetStatus(status string) {
	m.update(func(s *State) {
		s.Status = status
	})
}

// SetVideo attaches a stream to the video sink.
func (m *Model) SetVideo(stream *avatar.StreamInfo) {
	if stream == nil {
		m.ClearVideo()
		return
	}
	m.update(func(s *State) {
		s.VideoURL = stream.URL
		s.VideoToken = stream.AccessToken
	})
}

// ClearVideo detaches the video sink.
func (m *Model) ClearVideo() {
	m.update(func(s *State) {
		s.VideoURL = ""
		s.VideoToken = ""
	})
}

// SetInput sets the text input.
func (m *Model) SetInput(text string) {
	m.update(func(s *State) {
		s.Input = text
	})
}

// ClearInput clears the text input.
func (m *Model) ClearInput() {
	m.SetInput("")
}
