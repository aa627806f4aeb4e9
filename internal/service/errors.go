package service

import (
	"errors"
	"fmt"

	"github.com/adopet/marketchat/internal/gateway"
)

var (
	ErrValidation   = errors.New("validation")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
	ErrGateway      = errors.New("gateway")

	// ErrNotPaid is returned by ConfirmWithGateway while the provider still reports
	// the link unpaid. The transaction stays pending and the caller may poll again.
	ErrNotPaid = errors.New("payment not received yet")
)

// GatewayError reports a failed call to the payment provider. Retryable errors leave
// the transaction untouched and may simply be tried again.
type GatewayError struct {
	Op        string
	Retryable bool
	Status    int
	Err       error
}

func (e *GatewayError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Status > 0 {
		return fmt.Sprintf("gateway %s failed (%s, status %d): %v", e.Op, kind, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *GatewayError) Unwrap() []error {
	return []error{ErrGateway, e.Err}
}

// IsRetryable reports whether err is a gateway failure worth retrying.
func IsRetryable(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Retryable
}

func wrapGateway(op string, err error) error {
	if err == nil {
		return nil
	}
	ge := &GatewayError{Op: op, Err: err}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		ge.Retryable = gwErr.Retryable
		ge.Status = gwErr.StatusCode
		if gwErr.Op != "" {
			ge.Op = gwErr.Op
		}
	} else if gateway.IsRetryable(err) {
		ge.Retryable = true
	}
	return ge
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func invalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
