package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/echosoul-labs/echosoul/internal/catalog"
	"github.com/echosoul-labs/echosoul/internal/convo"
	"github.com/echosoul-labs/echosoul/internal/history"
)

// Code classifies a handler failure for the wire format.
type Code string

const (
	CodeValidation Code = "validation_error"
	CodeNotFound   Code = "not_found"
	CodePermission Code = "permission_error"
	CodeState      Code = "state_error"
	CodeTimeout    Code = "timeout_error"
	CodeInternal   Code = "internal_error"
)

// Error is a classified handler failure. The message is user-facing and ends
// up verbatim in the response result.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

func errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// classify maps any error to its wire code. Sentinels from the stores keep
// their meaning; everything unrecognized is internal.
func classify(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, convo.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, convo.ErrOwnership):
		return CodePermission
	case errors.Is(err, history.ErrEmptyContent):
		return CodeValidation
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}
