package grpcx

import (
	"context"

	"github.com/bookwell/bookwell/libs/httpx"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
)

// RequestIDMetadataKey is the canonical key used for request id propagation over gRPC metadata.
// Lowercase is recommended by gRPC metadata conventions.
const RequestIDMetadataKey = "x-request-id"

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// WithRequestID stores id for both gRPC and HTTP helpers so downstream
// logging code does not need to know which transport delivered the call.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return httpx.ContextWithRequestID(context.WithValue(ctx, ctxKeyRequestID, id), id)
}

func NewRequestID() string {
	return httpx.NewRequestID()
}
