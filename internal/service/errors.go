package service

import "errors"

// Sentinel errors for run operations.
var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunFinished  = errors.New("run already finished")
	ErrShuttingDown = errors.New("service is shutting down")
)
