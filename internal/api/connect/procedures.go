// Package connect provides the Connect RPC control surface.
package connect

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/avatarbox/internal/app/view"
	"github.com/osa030/avatarbox/internal/domain/avatar"
)

// ControlServiceName is the fully-qualified name of the control service.
const ControlServiceName = "avatarbox.v1.ControlService"

// Procedure paths.
const (
	StartProcedure     = "/" + ControlServiceName + "/Start"
	StopProcedure      = "/" + ControlServiceName + "/Stop"
	SpeakProcedure     = "/" + ControlServiceName + "/Speak"
	SetModeProcedure   = "/" + ControlServiceName + "/SetMode"
	InterruptProcedure = "/" + ControlServiceName + "/Interrupt"
	GetStateProcedure  = "/" + ControlServiceName + "/GetState"
	WatchProcedure     = "/" + ControlServiceName + "/Watch"
)

// stateMessage encodes a view snapshot as a Struct.
func stateMessage(s view.State) (*structpb.Struct, error) {
	m, err := s.ToMap()
	if err != nil {
		return nil, err
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build state message")
	}
	return msg, nil
}

// StateFromMessage decodes a Struct produced by the server into a snapshot.
func StateFromMessage(msg *structpb.Struct) (view.State, error) {
	if msg == nil {
		return view.State{}, errors.New("empty state message")
	}
	return view.FromMap(msg.AsMap())
}

// sessionMessage encodes session metadata as a Struct.
func sessionMessage(d *avatar.SessionData) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(map[string]any{
		"session_id":           d.SessionID,
		"url":                  d.URL,
		"access_token":         d.AccessToken,
		"realtime_endpoint":    d.RealtimeEndpoint,
		"knowledge_id":         d.KnowledgeID,
		"session_duration_sec": d.SessionDuration.Seconds(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build session message")
	}
	return msg, nil
}
