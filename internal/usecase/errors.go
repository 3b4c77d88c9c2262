package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorInvalidQuestion ErrorCode = "INVALID_QUESTION"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

var publicMessages = map[string]string{
	reasonEmptyMessage:   "Message is required",
	reasonMessageTooLong: "Message is too long",
	reasonFlagged:        "Message was rejected by moderation",
	reasonInvalidSort:    "Invalid sort parameter",
	reasonNoIdentity:     "User not identified",
	reasonNoOutputMint:   "outputMint is required",
	reasonTestAmountCap:  "Dev test limited to 0.01 SOL max",
	reasonBadAmount:      "amountSol must be positive",
}

const (
	reasonEmptyMessage   = "empty_message"
	reasonMessageTooLong = "message_too_long"
	reasonFlagged        = "moderation_flagged"
	reasonInvalidSort    = "invalid_sort"
	reasonNoIdentity     = "missing_identity"
	reasonNoOutputMint   = "missing_output_mint"
	reasonTestAmountCap  = "test_amount_exceeded"
	reasonBadAmount      = "invalid_amount"
)

// Public returns the message that may be shown to callers. Upstream and
// internal failures never expose their cause.
func (e *Error) Public() string {
	if e == nil {
		return ""
	}
	if msg, ok := publicMessages[e.Reason]; ok {
		return msg
	}
	switch e.Code {
	case ErrorInvalidInput, ErrorInvalidQuestion:
		return "Invalid request"
	case ErrorRateLimited:
		return "Upstream rate limit reached, try again shortly"
	case ErrorUpstream:
		return "Upstream service unavailable"
	default:
		return "Internal server error"
	}
}

// HTTPStatus maps err to the status transports answer with. Errors that are
// not *Error are internal.
func HTTPStatus(err error) int {
	var ucErr *Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError
	}
	switch ucErr.Code {
	case ErrorInvalidInput, ErrorInvalidQuestion:
		return http.StatusBadRequest
	case ErrorRateLimited:
		return http.StatusTooManyRequests
	case ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is Public for any error.
func PublicMessage(err error) string {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return ucErr.Public()
	}
	return "Internal server error"
}
