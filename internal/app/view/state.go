// Package view models the controls and indicators a client renders.
package view

import (
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
)

// State is a snapshot of the view.
type State struct {
	Sequence uint64 `mapstructure:"sequence"`

	StartEnabled      bool `mapstructure:"start_enabled"`
	EndEnabled        bool `mapstructure:"end_enabled"`
	SpeakEnabled      bool `mapstructure:"speak_enabled"`
	TextModeEnabled   bool `mapstructure:"text_mode_enabled"`
	VoiceModeEnabled  bool `mapstructure:"voice_mode_enabled"`
	TextModeActive    bool `mapstructure:"text_mode_active"`
	VoiceModeActive   bool `mapstructure:"voice_mode_active"`
	VoicePanelVisible bool `mapstructure:"voice_panel_visible"`

	Status string `mapstructure:"status"`
	Input  string `mapstructure:"input"`

	// Video sink; empty when nothing is attached.
	VideoURL   string `mapstructure:"video_url"`
	VideoToken string `mapstructure:"video_token"`
}

// Initial returns the state before any session is started.
func Initial() State {
	return State{
		StartEnabled:   true,
		SpeakEnabled:   true,
		TextModeActive: true,
	}
}

// HasVideo reports whether a stream is attached to the video sink.
func (s State) HasVideo() bool {
	return s.VideoURL != ""
}

// ToMap converts the state into a generic map keyed by field tag.
func (s State) ToMap() (map[string]any, error) {
	var m map[string]any
	if err := mapstructure.Decode(s, &m); err != nil {
		return nil, errors.Wrap(err, "failed to encode view state")
	}
	return m, nil
}

// FromMap decodes a generic map into a state.
func FromMap(m map[string]any) (State, error) {
	var s State
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return State{}, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(m); err != nil {
		return State{}, errors.Wrap(err, "failed to decode view state")
	}
	return s, nil
}
