// Package transport describes what a frontend needs from the
// dispatcher. Each frontend exposes the dispatcher over a different
// protocol. Only REST is implemented, but adding another protocol
// should not require touching the dispatcher.
package transport
