package escrow

import "errors"

var (
	ErrDuplicateJob   = errors.New("escrow: job already has an escrow")
	ErrNotFound       = errors.New("escrow: escrow not found")
	ErrInvalidState   = errors.New("escrow: invalid state for operation")
	ErrUnauthorized   = errors.New("escrow: caller not authorized")
	ErrOutOfRange     = errors.New("escrow: claimed position outside geofence")
	ErrTransferFailed = errors.New("escrow: value transfer failed")
	ErrInvalidParams  = errors.New("escrow: invalid parameters")

	errNilState = errors.New("escrow engine: state not configured")
)
