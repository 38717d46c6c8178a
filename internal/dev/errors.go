package dev

import "errors"

// Sentinel errors for the device core. Callers discriminate with
// errors.Is; call sites wrap these with context via fmt.Errorf and %w.
var (
	ErrNotFound        = errors.New("device not found")
	ErrBusy            = errors.New("device busy")
	ErrNotReady        = errors.New("device not ready")
	ErrRemoved         = errors.New("device removed")
	ErrInvalidParam    = errors.New("invalid parameter")
	ErrInvalidOp       = errors.New("invalid operation")
	ErrNotSupported    = errors.New("operation not supported")
	ErrNoMemory        = errors.New("insufficient memory")
	ErrNoResources     = errors.New("insufficient resources")
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrHardware        = errors.New("hardware error")
	ErrDMA             = errors.New("dma error")
	ErrInterrupt       = errors.New("interrupt error")
	ErrProtocol        = errors.New("protocol error")
	ErrTimeout         = errors.New("timeout")
	ErrPermission      = errors.New("permission denied")
	ErrPowerTransition = errors.New("power state transition failed")
)
