package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable error code returned to API clients.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInsufficientInventory Code = "INSUFFICIENT_INVENTORY"
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeOrderNotEditable      Code = "ORDER_NOT_EDITABLE"
	CodeEmptyOrder            Code = "EMPTY_ORDER"
	CodeInvalidLine           Code = "INVALID_LINE"
	CodeInvalidQuantity       Code = "INVALID_QUANTITY"
	CodeTrackingCollision     Code = "TRACKING_NUMBER_COLLISION"
)

// Metadata is how a code is presented over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	noDetails   = false
	withDetails = true
	final       = false
	retryable   = true
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, final, "validation failed", withDetails},
	CodeUnauthorized:  {http.StatusUnauthorized, final, "authentication required", noDetails},
	CodeForbidden:     {http.StatusForbidden, final, "access denied", noDetails},
	CodeNotFound:      {http.StatusNotFound, final, "resource not found", noDetails},
	CodeConflict:      {http.StatusConflict, final, "conflict detected", noDetails},
	CodeStateConflict: {http.StatusUnprocessableEntity, final, "state transition disallowed", withDetails},
	CodeIdempotency:   {http.StatusConflict, final, "idempotency key reused", withDetails},
	CodeRateLimit:     {http.StatusTooManyRequests, final, "rate limit exceeded", noDetails},
	CodeInternal:      {http.StatusInternalServerError, retryable, "internal server error", noDetails},
	CodeDependency:    {http.StatusServiceUnavailable, retryable, "dependency unavailable", withDetails},

	CodeInsufficientInventory: {http.StatusConflict, final, "insufficient inventory", withDetails},
	CodeInvalidTransition:     {http.StatusConflict, final, "invalid order status transition", withDetails},
	CodeOrderNotEditable:      {http.StatusConflict, final, "order can no longer be edited", withDetails},
	CodeEmptyOrder:            {http.StatusUnprocessableEntity, final, "order has no lines", noDetails},
	CodeInvalidLine:           {http.StatusUnprocessableEntity, final, "order line is invalid", withDetails},
	CodeInvalidQuantity:       {http.StatusUnprocessableEntity, final, "quantity must be positive", withDetails},
	// A tracking collision that survives every retry is a server fault.
	CodeTrackingCollision: {http.StatusInternalServerError, final, "internal server error", noDetails},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error. The message is shown to clients only for 4xx
// codes; the cause is logged, never rendered.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether any *Error in err's chain carries code, not only
// the outermost one.
func HasCode(err error, code Code) bool {
	for ; err != nil; err = stdErrors.Unwrap(err) {
		if typed, ok := err.(*Error); ok && typed != nil && typed.code == code {
			return true
		}
	}
	return false
}
