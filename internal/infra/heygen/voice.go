package heygen

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/avatarbox/internal/domain/avatar"
)

// voiceChat is an open voice channel.
type voiceChat struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// StartVoiceChat opens the voice channel. Opening an open channel is a no-op.
func (a *Avatar) StartVoiceChat(ctx context.Context, req avatar.VoiceChatRequest) error {
	a.mu.Lock()
	if a.session == nil || a.stopped {
		a.mu.Unlock()
		return ErrNoSession
	}
	if a.voice != nil {
		a.mu.Unlock()
		return nil
	}
	sessionID := a.session.SessionID
	language := req.Language
	if language == "" {
		language = a.language
	}
	a.mu.Unlock()

	query := url.Values{}
	query.Set("session_id", sessionID)
	query.Set("session_token", a.token)
	query.Set("silence_response", strconv.FormatBool(req.UseSilencePrompt))
	if language != "" {
		query.Set("stt_language", language)
	}

	wsURL, err := a.client.websocketURL("/v1/ws/streaming.chat", query)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "voice chat dial failed (status %d)", resp.StatusCode)
		}
		return errors.Wrap(err, "voice chat dial failed")
	}

	vc := &voiceChat{conn: conn, done: make(chan struct{})}

	a.mu.Lock()
	if a.voice != nil || a.stopped {
		a.mu.Unlock()
		vc.close()
		return nil
	}
	a.voice = vc
	a.mu.Unlock()

	go vc.readLoop()
	zlog.Info().Msgf("Voice chat opened: session_id=%s", sessionID)
	return nil
}

// CloseVoiceChat closes the voice channel. Closing with no open channel is a no-op.
func (a *Avatar) CloseVoiceChat(ctx context.Context) error {
	a.mu.Lock()
	vc := a.voice
	a.voice = nil
	a.mu.Unlock()

	if vc == nil {
		return nil
	}
	if err := vc.close(); err != nil {
		return errors.Wrap(err, "failed to close voice chat")
	}
	select {
	case <-vc.done:
	case <-ctx.Done():
	}
	zlog.Info().Msg("Voice chat closed")
	return nil
}

// readLoop drains server frames so control messages are processed.
func (vc *voiceChat) readLoop() {
	defer close(vc.done)
	for {
		if _, _, err := vc.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (vc *voiceChat) close() error {
	var err error
	vc.closeOnce.Do(func() {
		_ = vc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		err = vc.conn.Close()
	})
	return err
}
