package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
	ErrAlreadyTerminal     = errors.New("transaction already resolved")
	ErrInvalidSignature    = errors.New("invalid callback signature")
)

// ValidationError reports caller input that can never succeed as submitted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GatewayError wraps a payment gateway failure. Definitive errors mean the gateway
// rejected the request; the rest (timeouts, 5xx) leave the payment outcome unknown.
type GatewayError struct {
	Op         string
	Definitive bool
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	kind := "ambiguous"
	if e.Definitive {
		kind = "definitive"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed (%s, status %d): %v", e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsDefinitiveGatewayError is true only when the gateway answered and rejected the call.
func IsDefinitiveGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Definitive
}
