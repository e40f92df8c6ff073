// Package runtime declares the sentinel error kinds shared across the
// core's components. It is a leaf package with no internal imports so any
// component can depend on it for errors.Is checks without import cycles;
// the component wiring itself lives in internal/app.
package runtime

import "errors"

// Sentinel errors, one per reportable error kind. Callers check these with
// errors.Is to pick an HTTP status or an outbound error frame; none of them
// ever aborts the process.
var (
	ErrInvalidFrame          = errors.New("invalid-frame")
	ErrSessionNotFound       = errors.New("session-not-found")
	ErrSessionBusy           = errors.New("session-busy")
	ErrStreamError           = errors.New("stream-error")
	ErrWorkerException       = errors.New("worker-exception")
	ErrCheckerParsingError   = errors.New("checker-parsing-error")
	ErrInteractionTimeout    = errors.New("interaction-timeout")
	ErrServerRestartRecovery = errors.New("server-restart-recovery")
)
