package client

import "errors"

var (
	ErrAlreadyRunning = errors.New("client is already running")
	ErrServerGone     = errors.New("server closed the connection")
	ErrSlotOutOfRange = errors.New("visibility slot out of range")
)
