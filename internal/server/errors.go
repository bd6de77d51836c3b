package server

import (
	"errors"

	"github.com/kstaniek/go-socketcan/internal/metrics"
)

// Sentinels wrapped into every server error so callers can classify with errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrBackendTx = errors.New("backend_tx")
	// ErrBackendOverflow is returned by a SendFunc whose transmit queue is full.
	ErrBackendOverflow = errors.New("backend_tx_overflow")
	ErrContext         = errors.New("context_cancelled")
)

// mapErrToMetric returns the errors_total label for err.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead), errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrHandshake):
		return metrics.ErrHandshake
	case errors.Is(err, ErrBackendOverflow):
		return metrics.ErrSocketCANOver
	case errors.Is(err, ErrBackendTx):
		return metrics.ErrSocketCANWrite
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
