package server

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("server is already running")
	ErrIDsExhausted   = errors.New("object id space exhausted")
)

type ErrSessionNotFound struct {
	ClientID string
}

func (e ErrSessionNotFound) Error() string {
	return fmt.Sprintf("no session for client %s", e.ClientID)
}
