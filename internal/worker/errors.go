package worker

import "errors"

var (
	// ErrWorkerStopped — Start после Stop.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrWorkerRunning — повторный Start.
	ErrWorkerRunning = errors.New("worker already running")
)
