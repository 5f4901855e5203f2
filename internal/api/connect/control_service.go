package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/avatarbox/internal/app/controller"
	"github.com/osa030/avatarbox/internal/app/notification"
	"github.com/osa030/avatarbox/internal/app/view"
	"github.com/osa030/avatarbox/internal/domain/avatar"
)

// ControlService implements the control RPCs.
type ControlService struct {
	ctrl          *controller.Controller
	model         *view.Model
	notifications *notification.Manager
	done          <-chan struct{}
}

// NewControlService creates a new ControlService.
// Watch streams end when done is closed.
func NewControlService(ctrl *controller.Controller, model *view.Model, notifications *notification.Manager, done <-chan struct{}) *ControlService {
	return &ControlService{
		ctrl:          ctrl,
		model:         model,
		notifications: notifications,
		done:          done,
	}
}

// Handler returns the path prefix and handler serving all procedures.
func (s *ControlService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(StartProcedure, connect.NewUnaryHandler(StartProcedure, s.Start, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, s.Stop, opts...))
	mux.Handle(SpeakProcedure, connect.NewUnaryHandler(SpeakProcedure, s.Speak, opts...))
	mux.Handle(SetModeProcedure, connect.NewUnaryHandler(SetModeProcedure, s.SetMode, opts...))
	mux.Handle(InterruptProcedure, connect.NewUnaryHandler(InterruptProcedure, s.Interrupt, opts...))
	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, s.GetState, opts...))
	mux.Handle(WatchProcedure, connect.NewServerStreamHandler(WatchProcedure, s.Watch, opts...))
	return "/" + ControlServiceName + "/", mux
}

// Start starts a streaming session.
func (s *ControlService) Start(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	data, err := s.ctrl.Start(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	msg, err := sessionMessage(data)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Stop stops the streaming session.
func (s *ControlService) Stop(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if err := s.ctrl.Stop(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.stateResponse()
}

// Speak sends text for the avatar to speak.
func (s *ControlService) Speak(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	if err := s.ctrl.Speak(ctx, req.Msg.GetValue()); err != nil {
		return nil, toConnectError(err)
	}
	return s.stateResponse()
}

// SetMode switches between text and voice mode.
func (s *ControlService) SetMode(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	mode, err := avatar.ParseMode(req.Msg.GetValue())
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := s.ctrl.SetMode(ctx, mode); err != nil {
		return nil, toConnectError(err)
	}
	return s.stateResponse()
}

// Interrupt interrupts the avatar's current speech.
func (s *ControlService) Interrupt(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[emptypb.Empty], error) {
	if err := s.ctrl.Interrupt(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// GetState returns the current view state.
func (s *ControlService) GetState(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.stateResponse()
}

// Watch streams the current view state and every change after it.
func (s *ControlService) Watch(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	adapter := &stateStreamAdapter{stream: stream}
	subscriptionID := s.notifications.Subscribe(adapter)
	defer s.notifications.Unsubscribe(subscriptionID)

	if err := s.notifications.Send(subscriptionID, s.model.Snapshot()); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return nil
}

func (s *ControlService) stateResponse() (*connect.Response[structpb.Struct], error) {
	msg, err := stateMessage(s.model.Snapshot())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// toConnectError maps controller errors to connect codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, controller.ErrSessionActive):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, avatar.ErrInvalidMode):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		zlog.Error().Err(err).Msg("Control request failed")
		return connect.NewError(connect.CodeInternal, err)
	}
}

// stateStreamAdapter adapts connect.ServerStream to notification.Stream.
// Snapshots older than the last one sent are dropped.
type stateStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
	sent   bool
	last   uint64
}

func (a *stateStreamAdapter) Send(state view.State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sent && state.Sequence <= a.last {
		return nil
	}
	msg, err := stateMessage(state)
	if err != nil {
		return err
	}
	if err := a.stream.Send(msg); err != nil {
		return err
	}
	a.sent = true
	a.last = state.Sequence
	return nil
}
