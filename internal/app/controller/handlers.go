package controller

import (
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/avatarbox/internal/domain/avatar"
)

// register subscribes the lifecycle handlers on a new avatar handle.
func (c *Controller) register(a Avatar) {
	msgs := c.config.Messages

	a.On(avatar.EventStreamReady, func(e avatar.Event) { c.handleStreamReady(a, e) })
	a.On(avatar.EventStreamDisconnected, func(avatar.Event) { c.handleStreamDisconnected(a) })
	a.On(avatar.EventUserStart, c.statusHandler(a, msgs.Listening))
	a.On(avatar.EventUserStop, c.statusHandler(a, msgs.Processing))
	a.On(avatar.EventAvatarStartTalking, c.statusHandler(a, msgs.AvatarSpeaking))
	a.On(avatar.EventAvatarStopTalking, c.statusHandler(a, msgs.WaitingForUser))
}

// isCurrent reports whether a is the live handle.
func (c *Controller) isCurrent(a Avatar) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avatar == a
}

func (c *Controller) handleStreamReady(a Avatar, e avatar.Event) {
	if e.Stream == nil || !c.isCurrent(a) {
		return
	}
	zlog.Info().Msgf("Stream ready: url=%s", e.Stream.URL)
	c.view.SetVideo(e.Stream)
	c.view.SetModeControlsEnabled(true)
}

// handleStreamDisconnected resets the view. Events from a handle that was
// already replaced by a newer session are ignored.
func (c *Controller) handleStreamDisconnected(a Avatar) {
	c.mu.Lock()
	if c.avatar != nil && c.avatar != a {
		c.mu.Unlock()
		return
	}
	if c.avatar == a {
		zlog.Warn().Msgf("Stream disconnected: session_id=%s", c.session.SessionID)
		c.resetLocked()
	} else {
		zlog.Info().Msg("Stream disconnected")
	}
	c.mu.Unlock()

	c.view.ClearVideo()
	c.view.SetSessionControls(true, false)
	c.view.SetModeControlsEnabled(false)
}

func (c *Controller) statusHandler(a Avatar, status string) avatar.Handler {
	return func(e avatar.Event) {
		if !c.isCurrent(a) {
			return
		}
		zlog.Debug().Msgf("Event %s: status=%q", e.Kind, status)
		c.view.SetStatus(status)
	}
}
