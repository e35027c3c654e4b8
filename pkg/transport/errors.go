package transport

import (
	"errors"
	"fmt"
)

var (
	ErrPeerGone      = errors.New("peer gone")
	ErrFrameTooLarge = errors.New("frame exceeds max packet size")
)

// SetupError reports a failure to bind or connect sockets.
type SetupError struct {
	Op   string
	Addr string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
