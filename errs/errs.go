// Package errs provides structured error types and helpers for twapd components.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category within the execution engine.
type Code string

const (
	// CodeInvalid indicates invalid arguments supplied by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnauthorized indicates the caller lacks the required identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeRateNotSet indicates the venue has no conversion rate for the pair.
	CodeRateNotSet Code = "rate_not_set"
	// CodeInsufficientLiquidity indicates the venue cannot cover the output amount.
	CodeInsufficientLiquidity Code = "insufficient_liquidity"
	// CodeInsufficientBalance indicates a token ledger debit would overdraw the account.
	CodeInsufficientBalance Code = "insufficient_balance"
	// CodeInsufficientAllowance indicates a delegated transfer exceeds its approval.
	CodeInsufficientAllowance Code = "insufficient_allowance"
	// CodeOrderNotActive indicates the order already reached a terminal state.
	CodeOrderNotActive Code = "order_not_active"
	// CodeAlreadyCompleted indicates every tranche of the order has executed.
	CodeAlreadyCompleted Code = "already_completed"
	// CodeInvalidInterval indicates an out-of-range tick interval selector.
	CodeInvalidInterval Code = "invalid_interval"
	// CodeNotFound indicates a missing record.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates a component is closed or saturated.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the twapd stack.
type E struct {
	Scope   string
	Code    Code
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given scope and error code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:   strings.TrimSpace(scope),
		Code:    code,
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the engine error code from err, unwrapping as needed.
// It returns an empty code when err carries no envelope.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Code
	}
	return ""
}

// Is reports whether err carries the given engine error code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
