package transport

import (
	"context"

	"github.com/jrife/devkv/dispatcher"
)

// Server is passed to each type of frontend.
// It decouples the dispatcher from the protocol
// used to reach it.
type Server interface {
	Dispatch(ctx context.Context, request dispatcher.Request) dispatcher.Response
}

var _ Server = (*dispatcher.Dispatcher)(nil)
