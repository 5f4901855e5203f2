// Package controller provides the session and interaction-mode controller.
package controller

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/avatarbox/internal/app/view"
	"github.com/osa030/avatarbox/internal/domain/avatar"
)

// Errors
var (
	ErrSessionActive = errors.New("session already active")
)

// TokenSource issues session credentials.
type TokenSource interface {
	CreateToken(ctx context.Context) (string, error)
}

// Avatar is a handle to one vendor streaming session.
// Handlers must not be invoked on the goroutine of a method call.
type Avatar interface {
	On(kind avatar.EventKind, handler avatar.Handler)
	CreateStartAvatar(ctx context.Context, req avatar.StartRequest) (*avatar.SessionData, error)
	StopAvatar(ctx context.Context) error
	Speak(ctx context.Context, req avatar.SpeakRequest) error
	Interrupt(ctx context.Context) error
	StartVoiceChat(ctx context.Context, req avatar.VoiceChatRequest) error
	CloseVoiceChat(ctx context.Context) error
}

// AvatarFactory creates an avatar handle bound to a credential.
type AvatarFactory func(token string) Avatar

// Messages holds the status texts shown to the user.
type Messages struct {
	Listening       string
	Processing      string
	AvatarSpeaking  string
	WaitingForUser  string
	VoiceChatFailed string
}

// Config holds controller configuration.
type Config struct {
	Start     avatar.StartRequest
	TaskType  avatar.TaskType
	VoiceChat avatar.VoiceChatRequest
	Messages  Messages
}

// Controller owns the session handle and the interaction mode.
// Operations are serialized; vendor events arrive on the vendor's goroutine.
type Controller struct {
	mu sync.Mutex

	tokens    TokenSource
	newAvatar AvatarFactory
	view      *view.Model
	config    Config

	avatar  Avatar
	session *avatar.SessionData
	mode    avatar.Mode
}

// New creates a controller with no session in text mode.
func New(tokens TokenSource, newAvatar AvatarFactory, model *view.Model, config Config) *Controller {
	return &Controller{
		tokens:    tokens,
		newAvatar: newAvatar,
		view:      model,
		config:    config,
		mode:      avatar.ModeText,
	}
}

// Mode returns the current interaction mode.
func (c *Controller) Mode() avatar.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Session returns a copy of the live session metadata, or nil.
func (c *Controller) Session() *avatar.SessionData {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	copied := *c.session
	return &copied
}

// Start fetches a credential and starts a new streaming session.
func (c *Controller) Start(ctx context.Context) (*avatar.SessionData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avatar != nil {
		return nil, ErrSessionActive
	}

	token, err := c.tokens.CreateToken(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch access token")
	}

	a := c.newAvatar(token)
	c.register(a)

	data, err := a.CreateStartAvatar(ctx, c.config.Start)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start avatar session")
	}

	c.avatar = a
	c.session = data
	zlog.Info().Msgf("Session started: session_id=%s avatar=%s", data.SessionID, c.config.Start.AvatarName)

	c.view.SetSessionControls(false, true)

	copied := *data
	return &copied, nil
}

// Stop terminates the live session. It is a no-op without one.
// The handle is discarded even if the vendor call fails.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avatar == nil {
		return nil
	}

	sessionID := c.session.SessionID
	err := c.avatar.StopAvatar(ctx)

	c.view.ClearVideo()
	c.resetLocked()
	c.view.SetSessionControls(true, false)
	c.view.SetModeControlsEnabled(false)

	if err != nil {
		return errors.Wrapf(err, "failed to stop session %s", sessionID)
	}
	zlog.Info().Msgf("Session stopped: session_id=%s", sessionID)
	return nil
}

// Speak forwards text to the avatar. It is a no-op for empty text or
// without a session. The input is cleared once the avatar accepts it.
func (c *Controller) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avatar == nil {
		zlog.Debug().Msg("Speak ignored: no session")
		return nil
	}

	c.view.SetInput(text)
	err := c.avatar.Speak(ctx, avatar.SpeakRequest{
		Text:     text,
		TaskType: c.config.TaskType,
	})
	if err != nil {
		return errors.Wrap(err, "failed to speak")
	}
	c.view.ClearInput()
	return nil
}

// Interrupt stops the avatar's current speech. It is a no-op without a session.
func (c *Controller) Interrupt(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avatar == nil {
		return nil
	}
	return errors.Wrap(c.avatar.Interrupt(ctx), "failed to interrupt")
}

// SetMode switches the interaction mode.
// Failing to open the voice channel is reported through the status text
// rather than returned; failing to close it is returned.
func (c *Controller) SetMode(ctx context.Context, target avatar.Mode) error {
	if _, err := avatar.ParseMode(string(target)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if target == c.mode {
		return nil
	}

	c.mode = target
	c.view.SetModeIndicators(target)
	c.view.SetVoicePanelVisible(target == avatar.ModeVoice)
	zlog.Info().Msgf("Mode changed: %s", target)

	if c.avatar == nil {
		return nil
	}

	if target == avatar.ModeText {
		return errors.Wrap(c.avatar.CloseVoiceChat(ctx), "failed to close voice chat")
	}

	if err := c.avatar.StartVoiceChat(ctx, c.config.VoiceChat); err != nil {
		zlog.Error().Err(err).Msg("Error starting voice chat")
		c.view.SetStatus(c.config.Messages.VoiceChatFailed)
		return nil
	}
	c.view.SetStatus(c.config.Messages.WaitingForUser)
	return nil
}

// Close stops any live session.
func (c *Controller) Close(ctx context.Context) {
	if err := c.Stop(ctx); err != nil {
		zlog.Error().Err(err).Msg("Failed to stop session on close")
	}
}

// resetLocked returns to no-session text mode. Must be called with c.mu held.
func (c *Controller) resetLocked() {
	c.avatar = nil
	c.session = nil
	if c.mode != avatar.ModeText {
		c.mode = avatar.ModeText
		c.view.SetModeIndicators(avatar.ModeText)
		c.view.SetVoicePanelVisible(false)
	}
}
