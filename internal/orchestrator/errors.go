package orchestrator

import "errors"

// Ошибки agent.
var (
	// ErrRunInFlight — run уже отправлен этим agent.
	ErrRunInFlight = errors.New("flow run already in flight")

	// ErrAgentStopped — agent остановлен.
	ErrAgentStopped = errors.New("agent stopped")
)
