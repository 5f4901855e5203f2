package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
)

const (
	// ControlTokenHeader is the header name for the control token.
	ControlTokenHeader = "X-Control-Token"
)

// NewControlAuthInterceptor creates an interceptor that validates the control
// token on every unary procedure except GetState.
func NewControlAuthInterceptor(expected string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().Procedure == GetStateProcedure {
				return next(ctx, req)
			}

			token := req.Header().Get(ControlTokenHeader)
			if token == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, nil)
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				return nil, connect.NewError(connect.CodeUnauthenticated, nil)
			}

			return next(ctx, req)
		}
	}
}
