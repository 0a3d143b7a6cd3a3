package puller

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Pull failures fall into three buckets the orchestrator treats differently:
// timeouts, transport failures and contract violations (non-2xx).
var (
	ErrTimeout     = errors.New("request timed out")
	ErrUnreachable = errors.New("vehicle unreachable")
)

// StatusError is a non-2xx response from the vehicle, e.g. a rejected
// credential (401) or a malformed request (400).
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Path, e.Code)
}

// classify maps a transport error onto the taxonomy, keeping the cause.
func classify(path string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %v", path, ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", path, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", path, ErrUnreachable, err)
}
