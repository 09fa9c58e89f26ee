package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Registry errors
	ErrCodeInvalidName     ErrorCode = "INVALID_NAME"
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeTurnInFlight    ErrorCode = "TURN_IN_FLIGHT"

	// Agent process errors
	ErrCodeSpawnFailed      ErrorCode = "SPAWN_FAILED"
	ErrCodeSandboxViolation ErrorCode = "SANDBOX_VIOLATION"
	ErrCodeAbnormalExit     ErrorCode = "ABNORMAL_EXIT"

	// Bridge errors
	ErrCodeBridgeRejected    ErrorCode = "BRIDGE_REJECTED"
	ErrCodeBridgeUnavailable ErrorCode = "BRIDGE_UNAVAILABLE"

	// Command execution errors
	ErrCodeCommandNotFound ErrorCode = "COMMAND_NOT_FOUND"
	ErrCodeCommandFailed   ErrorCode = "COMMAND_FAILED"

	// General errors
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
)

// AirlockError represents a structured error with context
type AirlockError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *AirlockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *AirlockError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *AirlockError) WithDetail(key string, value interface{}) *AirlockError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *AirlockError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new AirlockError
func New(code ErrorCode, message string) *AirlockError {
	return &AirlockError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AirlockError
func Wrap(err error, code ErrorCode, message string) *AirlockError {
	return &AirlockError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error carries a specific code anywhere in its chain
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	airlockErr, ok := err.(*AirlockError)
	if !ok {
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return Is(unwrapper.Unwrap(), code)
		}
		return false
	}

	if airlockErr.Code == code {
		return true
	}
	return airlockErr.Cause != nil && Is(airlockErr.Cause, code)
}

// GetCode extracts the outermost error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	airlockErr, ok := err.(*AirlockError)
	if !ok {
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return GetCode(unwrapper.Unwrap())
		}
		return ""
	}

	return airlockErr.Code
}

// As is the standard errors.As, so callers need only this package.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
