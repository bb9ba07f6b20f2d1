package chat

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrorCodeAgentNotFound         = "agent_not_found"
	ErrorCodeCustomGPTNotFound     = "custom_gpt_not_found"
	ErrorCodeCredentialMissing     = "credential_missing"
	ErrorCodeCredentialUnsupported = "credential_unsupported"
	ErrorCodeInvalidAgentConfig    = "invalid_agent_config"
	ErrorCodeInvalidRequest        = "invalid_request"
	ErrorCodeStoreFailed           = "store_failed"
	ErrorCodeModelCallFailed       = "model_call_failed"
	ErrorCodeToolRetryExhausted    = "tool_retry_exhausted"
	ErrorCodeMaxRoundsExceeded     = "max_rounds_exceeded"
	ErrorCodeRequestCancelled      = "request_cancelled"
)

// Error is returned by Service for every failed orchestration. Status is the
// HTTP status the transport layer should answer with.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fatal reports whether the error ended a started orchestration, as opposed to
// a request rejected before the model was called.
func (e *Error) Fatal() bool {
	return e != nil && e.Status >= http.StatusInternalServerError
}

func ErrorFrom(err error) (*Error, bool) {
	var chatErr *Error
	if !errors.As(err, &chatErr) || chatErr == nil {
		return nil, false
	}
	return chatErr, true
}

func clientError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func fatalError(code, message string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: code, Message: message, Err: err}
}
