package handler

import (
	"context"

	"github.com/backkem/protoorch/pkg/envelope"
)

// Info describes the envelope a handler is running for.
type Info struct {
	DispatchType envelope.DispatchType
	RequestID    int32
	Mode         int
}

type infoKey struct{}

// WithInfo returns a context carrying info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFromContext returns the Info stored by WithInfo.
func InfoFromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}
