package frontends

import (
	"net/http"

	"github.com/jrife/devkv/transport"
)

// Options define standard options
// passed to frontends during initialization
type Options struct {
	Server  transport.Server
	Options map[string]interface{}
}

// Frontend describes an interface
// that every frontend must implement.
// Frontends are mounted into a host's
// own HTTP server. They never listen.
type Frontend interface {
	// Init initializes the frontend. Use this
	// to pass configuration options to the frontend
	Init(options Options) error
	http.Handler
}
