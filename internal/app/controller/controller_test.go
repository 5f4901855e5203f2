package controller

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/avatarbox/internal/app/view"
	"github.com/osa030/avatarbox/internal/domain/avatar"
)

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) CreateToken(ctx context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

// fakeAvatar records vendor calls and lets tests fire events.
type fakeAvatar struct {
	mu       sync.Mutex
	token    string
	handlers map[avatar.EventKind][]avatar.Handler

	startReq   avatar.StartRequest
	speakReqs  []avatar.SpeakRequest
	voiceReqs  []avatar.VoiceChatRequest
	stops      int
	opens      int
	closes     int
	interrupts int

	startErr error
	stopErr  error
	speakErr error
	openErr  error
	closeErr error
}

func (f *fakeAvatar) On(kind avatar.EventKind, h avatar.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = append(f.handlers[kind], h)
}

func (f *fakeAvatar) CreateStartAvatar(ctx context.Context, req avatar.StartRequest) (*avatar.SessionData, error) {
	f.startReq = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &avatar.SessionData{SessionID: "sess-1", URL: "wss://media.example", AccessToken: "media-token"}, nil
}

func (f *fakeAvatar) StopAvatar(ctx context.Context) error {
	f.stops++
	return f.stopErr
}

func (f *fakeAvatar) Speak(ctx context.Context, req avatar.SpeakRequest) error {
	f.speakReqs = append(f.speakReqs, req)
	return f.speakErr
}

func (f *fakeAvatar) Interrupt(ctx context.Context) error {
	f.interrupts++
	return nil
}

func (f *fakeAvatar) StartVoiceChat(ctx context.Context, req avatar.VoiceChatRequest) error {
	f.opens++
	f.voiceReqs = append(f.voiceReqs, req)
	return f.openErr
}

func (f *fakeAvatar) CloseVoiceChat(ctx context.Context) error {
	f.closes++
	return f.closeErr
}

// emit fires an event the way the vendor's event loop would.
func (f *fakeAvatar) emit(e avatar.Event) {
	f.mu.Lock()
	handlers := append([]avatar.Handler(nil), f.handlers[e.Kind]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

type harness struct {
	ctrl    *Controller
	model   *view.Model
	tokens  *fakeTokens
	avatars []*fakeAvatar
	// next configures the next avatar handle before it is returned.
	next func(*fakeAvatar)
}

func testConfig() Config {
	return Config{
		Start: avatar.StartRequest{
			Quality:            avatar.QualityHigh,
			AvatarName:         "Santa_Fireplace_Front_public",
			Language:           "ru",
			KnowledgeID:        "kb-1",
			DisableIdleTimeout: true,
		},
		TaskType:  avatar.TaskTypeTalk,
		VoiceChat: avatar.VoiceChatRequest{UseSilencePrompt: false},
		Messages: Messages{
			Listening:       "Listening...",
			Processing:      "Processing...",
			AvatarSpeaking:  "Avatar is speaking...",
			WaitingForUser:  "Waiting for you to speak...",
			VoiceChatFailed: "Error starting voice chat",
		},
	}
}

func newHarness() *harness {
	h := &harness{
		model:  view.NewModel(),
		tokens: &fakeTokens{token: "session-token"},
	}
	factory := func(token string) Avatar {
		a := &fakeAvatar{token: token, handlers: make(map[avatar.EventKind][]avatar.Handler)}
		if h.next != nil {
			h.next(a)
		}
		h.avatars = append(h.avatars, a)
		return a
	}
	h.ctrl = New(h.tokens, factory, h.model, testConfig())
	return h
}

func (h *harness) current() *fakeAvatar {
	return h.avatars[len(h.avatars)-1]
}

// started returns a harness with a live session whose stream is ready.
func started(t *testing.T) *harness {
	t.Helper()
	h := newHarness()
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	h.current().emit(avatar.Event{
		Kind:   avatar.EventStreamReady,
		Stream: &avatar.StreamInfo{URL: "wss://media.example", AccessToken: "media-token"},
	})
	return h
}

func TestStart(t *testing.T) {
	h := newHarness()

	data, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", data.SessionID)

	a := h.current()
	assert.Equal(t, "session-token", a.token)
	assert.Equal(t, testConfig().Start, a.startReq)
	assert.Len(t, a.handlers, 6)

	s := h.model.Snapshot()
	assert.False(t, s.StartEnabled)
	assert.True(t, s.EndEnabled)
	assert.False(t, s.TextModeEnabled, "mode controls wait for the stream")
	assert.Equal(t, "sess-1", h.ctrl.Session().SessionID)
}

func TestStart_SecondStartIsRejected(t *testing.T) {
	h := started(t)

	_, err := h.ctrl.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Len(t, h.avatars, 1)
	assert.Equal(t, 1, h.tokens.calls)
}

func TestStart_TokenError(t *testing.T) {
	h := newHarness()
	h.tokens.err = errors.New("network down")
	before := h.model.Snapshot()

	_, err := h.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	assert.Empty(t, h.avatars)
	assert.Nil(t, h.ctrl.Session())
	assert.Equal(t, before, h.model.Snapshot())
}

func TestStart_SessionCreationError(t *testing.T) {
	h := newHarness()
	h.next = func(a *fakeAvatar) { a.startErr = errors.New("avatar not found") }

	_, err := h.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.Nil(t, h.ctrl.Session())
	assert.True(t, h.model.Snapshot().StartEnabled)

	// A later attempt can still succeed.
	h.next = nil
	_, err = h.ctrl.Start(context.Background())
	require.NoError(t, err)
}

func TestStop_WithoutSessionIsNoop(t *testing.T) {
	h := newHarness()
	before := h.model.Snapshot()

	require.NoError(t, h.ctrl.Stop(context.Background()))
	assert.Equal(t, before, h.model.Snapshot())
	assert.Equal(t, avatar.ModeText, h.ctrl.Mode())
}

func TestStop(t *testing.T) {
	h := started(t)
	require.NoError(t, h.ctrl.SetMode(context.Background(), avatar.ModeVoice))

	require.NoError(t, h.ctrl.Stop(context.Background()))

	a := h.current()
	assert.Equal(t, 1, a.stops)
	assert.Nil(t, h.ctrl.Session())
	assert.Equal(t, avatar.ModeText, h.ctrl.Mode())

	s := h.model.Snapshot()
	assert.True(t, s.StartEnabled)
	assert.False(t, s.EndEnabled)
	assert.False(t, s.TextModeEnabled)
	assert.False(t, s.VoiceModeEnabled)
	assert.False(t, s.HasVideo())
	assert.True(t, s.TextModeActive)
	assert.False(t, s.VoicePanelVisible)
}

func TestStop_VendorErrorStillDiscardsHandle(t *testing.T) {
	h := started(t)
	h.current().stopErr = errors.New("timeout")

	err := h.ctrl.Stop(context.Background())
	require.Error(t, err)
	assert.Nil(t, h.ctrl.Session())
	assert.True(t, h.model.Snapshot().StartEnabled)
}

func TestSpeak(t *testing.T) {
	h := started(t)

	require.NoError(t, h.ctrl.Speak(context.Background(), "hello"))

	a := h.current()
	require.Len(t, a.speakReqs, 1)
	assert.Equal(t, avatar.SpeakRequest{Text: "hello", TaskType: avatar.TaskTypeTalk}, a.speakReqs[0])
	assert.Empty(t, h.model.Snapshot().Input)
}

func TestSpeak_Noops(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.ctrl.Speak(context.Background(), "hello"))
	assert.Empty(t, h.avatars)

	h = started(t)
	require.NoError(t, h.ctrl.Speak(context.Background(), ""))
	assert.Empty(t, h.current().speakReqs)
}

func TestSpeak_ErrorKeepsInput(t *testing.T) {
	h := started(t)
	h.current().speakErr = errors.New("rate limited")

	err := h.ctrl.Speak(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, "hello", h.model.Snapshot().Input)
}

func TestSetMode_SameModeIsNoop(t *testing.T) {
	h := started(t)
	before := h.model.Snapshot()

	require.NoError(t, h.ctrl.SetMode(context.Background(), avatar.ModeText))

	a := h.current()
	assert.Equal(t, 0, a.opens)
	assert.Equal(t, 0, a.closes)
	assert.Equal(t, before, h.model.Snapshot())
}

func TestSetMode_VoiceThenText(t *testing.T) {
	h := started(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.SetMode(ctx, avatar.ModeVoice))
	a := h.current()
	opensBefore := a.opens

	require.NoError(t, h.ctrl.SetMode(ctx, avatar.ModeVoice))
	require.NoError(t, h.ctrl.SetMode(ctx, avatar.ModeText))

	assert.Equal(t, opensBefore, a.opens)
	assert.Equal(t, 1, a.closes)

	s := h.model.Snapshot()
	assert.True(t, s.TextModeActive)
	assert.False(t, s.VoiceModeActive)
	assert.False(t, s.VoicePanelVisible)
}

func TestSetMode_TextThenVoice(t *testing.T) {
	h := started(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.SetMode(ctx, avatar.ModeText))
	require.NoError(t, h.ctrl.SetMode(ctx, avatar.ModeVoice))

	a := h.current()
	assert.Equal(t, 1, a.opens)
	assert.Equal(t, 0, a.closes)
	assert.Equal(t, []avatar.VoiceChatRequest{{UseSilencePrompt: false}}, a.voiceReqs)

	s := h.model.Snapshot()
	assert.False(t, s.TextModeActive)
	assert.True(t, s.VoiceModeActive)
	assert.True(t, s.VoicePanelVisible)
	assert.Equal(t, "Waiting for you to speak...", s.Status)
}

func TestSetMode_WithoutSession(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.ctrl.SetMode(context.Background(), avatar.ModeVoice))
	assert.Equal(t, avatar.ModeVoice, h.ctrl.Mode())
	assert.Empty(t, h.avatars)

	s := h.model.Snapshot()
	assert.True(t, s.VoiceModeActive)
	assert.True(t, s.VoicePanelVisible)
	assert.Empty(t, s.Status)
}

func TestSetMode_OpenFailureIsSurfacedAsStatus(t *testing.T) {
	h := started(t)
	h.current().openErr = errors.New("microphone denied")

	require.NoError(t, h.ctrl.SetMode(context.Background(), avatar.ModeVoice))
	assert.Equal(t, avatar.ModeVoice, h.ctrl.Mode())
	assert.Equal(t, "Error starting voice chat", h.model.Snapshot().Status)
}

func TestSetMode_CloseFailureIsReturned(t *testing.T) {
	h := started(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.SetMode(ctx, avatar.ModeVoice))
	h.current().closeErr = errors.New("socket gone")

	err := h.ctrl.SetMode(ctx, avatar.ModeText)
	require.Error(t, err)
	assert.Equal(t, avatar.ModeText, h.ctrl.Mode())
}

func TestSetMode_Invalid(t *testing.T) {
	h := newHarness()
	err := h.ctrl.SetMode(context.Background(), avatar.Mode("video"))
	assert.ErrorIs(t, err, avatar.ErrInvalidMode)
}

func TestInterrupt(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.ctrl.Interrupt(context.Background()))

	h = started(t)
	require.NoError(t, h.ctrl.Interrupt(context.Background()))
	assert.Equal(t, 1, h.current().interrupts)
}

func TestStreamReady_EnablesModeControls(t *testing.T) {
	h := started(t)

	s := h.model.Snapshot()
	assert.True(t, s.TextModeEnabled)
	assert.True(t, s.VoiceModeEnabled)
	assert.Equal(t, "wss://media.example", s.VideoURL)
	assert.Equal(t, "media-token", s.VideoToken)
}

func TestStreamReady_WithoutStreamIsIgnored(t *testing.T) {
	h := newHarness()
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)

	h.current().emit(avatar.Event{Kind: avatar.EventStreamReady})
	assert.False(t, h.model.Snapshot().TextModeEnabled)
}

func TestStreamDisconnected(t *testing.T) {
	h := started(t)
	require.NoError(t, h.ctrl.SetMode(context.Background(), avatar.ModeVoice))

	h.current().emit(avatar.Event{Kind: avatar.EventStreamDisconnected})

	s := h.model.Snapshot()
	assert.True(t, s.StartEnabled)
	assert.False(t, s.EndEnabled)
	assert.False(t, s.TextModeEnabled)
	assert.False(t, s.VoiceModeEnabled)
	assert.False(t, s.HasVideo())
	assert.Nil(t, h.ctrl.Session())
	assert.Equal(t, avatar.ModeText, h.ctrl.Mode())

	// A new session can be started after the stream is gone.
	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.avatars, 2)
}

func TestStreamDisconnected_FromReplacedSessionIsIgnored(t *testing.T) {
	h := started(t)
	old := h.current()
	require.NoError(t, h.ctrl.Stop(context.Background()))

	_, err := h.ctrl.Start(context.Background())
	require.NoError(t, err)
	h.current().emit(avatar.Event{
		Kind:   avatar.EventStreamReady,
		Stream: &avatar.StreamInfo{URL: "wss://media2.example"},
	})

	old.emit(avatar.Event{Kind: avatar.EventStreamDisconnected})

	s := h.model.Snapshot()
	assert.False(t, s.StartEnabled)
	assert.True(t, s.EndEnabled)
	assert.Equal(t, "wss://media2.example", s.VideoURL)
	assert.NotNil(t, h.ctrl.Session())
}

func TestStatusEvents(t *testing.T) {
	h := started(t)
	a := h.current()

	tests := []struct {
		kind   avatar.EventKind
		status string
	}{
		{avatar.EventUserStart, "Listening..."},
		{avatar.EventUserStop, "Processing..."},
		{avatar.EventAvatarStartTalking, "Avatar is speaking..."},
		{avatar.EventAvatarStopTalking, "Waiting for you to speak..."},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			a.emit(avatar.Event{Kind: tt.kind})
			assert.Equal(t, tt.status, h.model.Snapshot().Status)
		})
	}
}

func TestClose(t *testing.T) {
	h := started(t)
	h.ctrl.Close(context.Background())
	assert.Equal(t, 1, h.current().stops)
	assert.Nil(t, h.ctrl.Session())
}
