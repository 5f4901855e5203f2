package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/avatarbox/internal/app/view"
)

// ControlClient is a client for the control service.
type ControlClient struct {
	token string

	start     *connect.Client[emptypb.Empty, structpb.Struct]
	stop      *connect.Client[emptypb.Empty, structpb.Struct]
	speak     *connect.Client[wrapperspb.StringValue, structpb.Struct]
	setMode   *connect.Client[wrapperspb.StringValue, structpb.Struct]
	interrupt *connect.Client[emptypb.Empty, emptypb.Empty]
	getState  *connect.Client[emptypb.Empty, structpb.Struct]
	watch     *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewControlClient creates a client for the server at baseURL.
// The token is sent on every call; it may be empty for read-only use.
func NewControlClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *ControlClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &ControlClient{
		token:     token,
		start:     connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+StartProcedure, opts...),
		stop:      connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+StopProcedure, opts...),
		speak:     connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+SpeakProcedure, opts...),
		setMode:   connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+SetModeProcedure, opts...),
		interrupt: connect.NewClient[emptypb.Empty, emptypb.Empty](httpClient, baseURL+InterruptProcedure, opts...),
		getState:  connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetStateProcedure, opts...),
		watch:     connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+WatchProcedure, opts...),
	}
}

func newRequest[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set(ControlTokenHeader, token)
	}
	return req
}

// Start starts a session and returns its metadata.
func (c *ControlClient) Start(ctx context.Context) (map[string]any, error) {
	resp, err := c.start.CallUnary(ctx, newRequest(&emptypb.Empty{}, c.token))
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

// Stop stops the session.
func (c *ControlClient) Stop(ctx context.Context) (view.State, error) {
	return stateCall(ctx, c.token, c.stop, &emptypb.Empty{})
}

// Speak sends text for the avatar to speak.
func (c *ControlClient) Speak(ctx context.Context, text string) (view.State, error) {
	return stateCall(ctx, c.token, c.speak, wrapperspb.String(text))
}

// SetMode switches the interaction mode.
func (c *ControlClient) SetMode(ctx context.Context, mode string) (view.State, error) {
	return stateCall(ctx, c.token, c.setMode, wrapperspb.String(mode))
}

// Interrupt interrupts the avatar's speech.
func (c *ControlClient) Interrupt(ctx context.Context) error {
	_, err := c.interrupt.CallUnary(ctx, newRequest(&emptypb.Empty{}, c.token))
	return err
}

// GetState returns the current view state.
func (c *ControlClient) GetState(ctx context.Context) (view.State, error) {
	return stateCall(ctx, c.token, c.getState, &emptypb.Empty{})
}

// Watch calls fn for every state received until the stream ends or fn
// returns an error.
func (c *ControlClient) Watch(ctx context.Context, fn func(view.State) error) error {
	stream, err := c.watch.CallServerStream(ctx, newRequest(&emptypb.Empty{}, c.token))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		state, err := StateFromMessage(stream.Msg())
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
	}
	return stream.Err()
}

func stateCall[Req any](ctx context.Context, token string, client *connect.Client[Req, structpb.Struct], msg *Req) (view.State, error) {
	resp, err := client.CallUnary(ctx, newRequest(msg, token))
	if err != nil {
		return view.State{}, err
	}
	return StateFromMessage(resp.Msg)
}
