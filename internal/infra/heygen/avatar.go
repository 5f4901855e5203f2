package heygen

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/avatarbox/internal/domain/avatar"
)

// Errors
var (
	ErrNoSession      = errors.New("no streaming session")
	ErrSessionStarted = errors.New("streaming session already started")
)

// teardownTimeout bounds the stop call issued after the vendor drops the
// realtime channel.
const teardownTimeout = 5 * time.Second

// Avatar is a handle to one streaming avatar session.
// Handlers registered with On run sequentially on the event loop goroutine.
type Avatar struct {
	client     *Client
	token      string
	httpClient *http.Client

	mu       sync.Mutex
	handlers map[avatar.EventKind][]avatar.Handler
	session  *avatar.SessionData
	language string
	events   *websocket.Conn
	voice    *voiceChat
	stopped  bool

	closed    chan struct{}
	closeOnce sync.Once
}

type newSessionRequest struct {
	Quality            string `json:"quality"`
	AvatarName         string `json:"avatar_name"`
	Language           string `json:"language,omitempty"`
	KnowledgeBaseID    string `json:"knowledge_base_id,omitempty"`
	DisableIdleTimeout bool   `json:"disable_idle_timeout"`
	Version            string `json:"version"`
	VideoEncoding      string `json:"video_encoding"`
}

type newSessionData struct {
	SessionID            string `json:"session_id"`
	AccessToken          string `json:"access_token"`
	URL                  string `json:"url"`
	RealtimeEndpoint     string `json:"realtime_endpoint"`
	SessionDurationLimit int    `json:"session_duration_limit"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type taskRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	TaskType  string `json:"task_type"`
}

// realtimeMessage is a message on the realtime event channel.
type realtimeMessage struct {
	Type string `json:"type"`
}

// NewAvatar creates an avatar handle authenticated with a session token.
func (c *Client) NewAvatar(token string) *Avatar {
	return &Avatar{
		client:     c,
		token:      token,
		httpClient: c.bearerClient(token),
		handlers:   make(map[avatar.EventKind][]avatar.Handler),
		closed:     make(chan struct{}),
	}
}

// On registers a handler for an event kind.
func (a *Avatar) On(kind avatar.EventKind, handler avatar.Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[kind] = append(a.handlers[kind], handler)
}

// CreateStartAvatar creates and starts a streaming session, then starts
// delivering lifecycle events.
func (a *Avatar) CreateStartAvatar(ctx context.Context, req avatar.StartRequest) (*avatar.SessionData, error) {
	if !req.Quality.IsValid() {
		return nil, errors.Newf("invalid quality %q", req.Quality)
	}

	a.mu.Lock()
	if a.session != nil || a.stopped {
		a.mu.Unlock()
		return nil, ErrSessionStarted
	}
	a.mu.Unlock()

	var created newSessionData
	err := post(ctx, a.httpClient, a.client.baseURL+"/v1/streaming.new", nil, newSessionRequest{
		Quality:            string(req.Quality),
		AvatarName:         req.AvatarName,
		Language:           req.Language,
		KnowledgeBaseID:    req.KnowledgeID,
		DisableIdleTimeout: req.DisableIdleTimeout,
		Version:            "v2",
		VideoEncoding:      "H264",
	}, &created)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create streaming session")
	}
	if created.SessionID == "" {
		return nil, errors.New("session id missing from response")
	}

	err = post(ctx, a.httpClient, a.client.baseURL+"/v1/streaming.start", nil, sessionRequest{SessionID: created.SessionID}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start streaming session %s", created.SessionID)
	}

	var conn *websocket.Conn
	if created.RealtimeEndpoint != "" {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, created.RealtimeEndpoint, nil)
		if err != nil {
			// Leave no orphaned session behind.
			stopErr := post(context.WithoutCancel(ctx), a.httpClient, a.client.baseURL+"/v1/streaming.stop", nil, sessionRequest{SessionID: created.SessionID}, nil)
			if stopErr != nil {
				zlog.Warn().Err(stopErr).Msgf("Failed to stop session %s after realtime dial error", created.SessionID)
			}
			return nil, errors.Wrap(err, "failed to connect realtime endpoint")
		}
	}

	data := &avatar.SessionData{
		SessionID:        created.SessionID,
		AccessToken:      created.AccessToken,
		URL:              created.URL,
		RealtimeEndpoint: created.RealtimeEndpoint,
		SessionDuration:  time.Duration(created.SessionDurationLimit) * time.Second,
		KnowledgeID:      req.KnowledgeID,
		CreatedAt:        time.Now(),
	}

	a.mu.Lock()
	a.session = data
	a.language = req.Language
	a.events = conn
	a.mu.Unlock()

	zlog.Info().Msgf("Streaming session started: session_id=%s", data.SessionID)

	go a.eventLoop(data.Stream())

	copied := *data
	return &copied, nil
}

// Speak sends text for the avatar to speak.
func (a *Avatar) Speak(ctx context.Context, req avatar.SpeakRequest) error {
	sessionID, err := a.sessionID()
	if err != nil {
		return err
	}

	taskType := req.TaskType
	if taskType == "" {
		taskType = avatar.TaskTypeTalk
	}

	err = post(ctx, a.httpClient, a.client.baseURL+"/v1/streaming.task", nil, taskRequest{
		SessionID: sessionID,
		Text:      req.Text,
		TaskType:  string(taskType),
	}, nil)
	return errors.Wrap(err, "failed to send speak task")
}

// Interrupt stops the avatar's current speech.
func (a *Avatar) Interrupt(ctx context.Context) error {
	sessionID, err := a.sessionID()
	if err != nil {
		return err
	}
	err = post(ctx, a.httpClient, a.client.baseURL+"/v1/streaming.interrupt", nil, sessionRequest{SessionID: sessionID}, nil)
	return errors.Wrap(err, "failed to interrupt avatar")
}

// StopAvatar terminates the streaming session.
// It does not wait for event handlers to finish.
func (a *Avatar) StopAvatar(ctx context.Context) error {
	a.mu.Lock()
	if a.session == nil || a.stopped {
		a.mu.Unlock()
		return ErrNoSession
	}
	sessionID := a.session.SessionID
	a.stopped = true
	a.mu.Unlock()

	if err := a.CloseVoiceChat(ctx); err != nil {
		zlog.Warn().Err(err).Msg("Failed to close voice chat during stop")
	}

	err := post(ctx, a.httpClient, a.client.baseURL+"/v1/streaming.stop", nil, sessionRequest{SessionID: sessionID}, nil)

	a.closeEvents()
	zlog.Info().Msgf("Streaming session stopped: session_id=%s", sessionID)

	return errors.Wrapf(err, "failed to stop streaming session %s", sessionID)
}

func (a *Avatar) sessionID() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || a.stopped {
		return "", ErrNoSession
	}
	return a.session.SessionID, nil
}

// closeEvents closes the realtime channel, which ends the event loop.
func (a *Avatar) closeEvents() {
	a.closeOnce.Do(func() {
		close(a.closed)
		a.mu.Lock()
		conn := a.events
		a.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			_ = conn.Close()
		}
	})
}

// eventLoop emits stream-ready, relays realtime messages until the channel
// closes and then emits stream-disconnected.
func (a *Avatar) eventLoop(stream *avatar.StreamInfo) {
	a.dispatch(avatar.Event{Kind: avatar.EventStreamReady, Stream: stream})
	defer a.dispatch(avatar.Event{Kind: avatar.EventStreamDisconnected})

	a.mu.Lock()
	conn := a.events
	a.mu.Unlock()

	if conn == nil {
		<-a.closed
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-a.closed:
			default:
				zlog.Warn().Err(err).Msg("Realtime channel closed by remote")
				a.closeEvents()
				a.teardown()
			}
			return
		}

		var msg realtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			zlog.Debug().Err(err).Msg("Ignoring malformed realtime message")
			continue
		}
		kind, ok := avatar.ParseEventKind(msg.Type)
		if !ok {
			zlog.Debug().Msgf("Ignoring realtime message: type=%s", msg.Type)
			continue
		}
		a.dispatch(avatar.Event{Kind: kind})
	}
}

// teardown releases the session after the vendor dropped the realtime
// channel: the voice channel is closed and the session is stopped.
func (a *Avatar) teardown() {
	a.mu.Lock()
	if a.session == nil || a.stopped {
		a.mu.Unlock()
		return
	}
	sessionID := a.session.SessionID
	a.stopped = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := a.CloseVoiceChat(ctx); err != nil {
		zlog.Warn().Err(err).Msg("Failed to close voice chat after disconnect")
	}
	err := post(ctx, a.httpClient, a.client.baseURL+"/v1/streaming.stop", nil, sessionRequest{SessionID: sessionID}, nil)
	if err != nil {
		zlog.Warn().Err(err).Msgf("Failed to stop session %s after disconnect", sessionID)
		return
	}
	zlog.Info().Msgf("Streaming session stopped after disconnect: session_id=%s", sessionID)
}

func (a *Avatar) dispatch(event avatar.Event) {
	a.mu.Lock()
	handlers := make([]avatar.Handler, len(a.handlers[event.Kind]))
	copy(handlers, a.handlers[event.Kind])
	a.mu.Unlock()

	zlog.Debug().Msgf("Dispatching event: %s (handlers=%d)", event.Kind, len(handlers))
	for _, h := range handlers {
		h(event)
	}
}
