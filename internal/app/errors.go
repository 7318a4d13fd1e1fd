package app

import "errors"

var (
	// ErrConfig marks configuration load or validation failures.
	ErrConfig = errors.New("config error")
	// ErrSinkInit marks sink connection failures at startup.
	ErrSinkInit = errors.New("sink init error")
)
