package apperrors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	TypeDependency ErrorType = "Dependency" // Missing native tool (e.g. sqlcmd, 7z)
	TypeConnection ErrorType = "Connection" // Network issue
	TypeAuth       ErrorType = "Auth"       // Login, SSH keys, TLS certs
	TypeIntegrity  ErrorType = "Integrity"  // Corrupt or truncated artifact
	TypeSecurity   ErrorType = "Security"   // Host key or certificate rejected
	TypeConfig     ErrorType = "Config"     // Invalid flags, missing required params
	TypeResource   ErrorType = "Resource"   // Permission denied, out of space, file not found, file locked
	TypePolicy     ErrorType = "Policy"     // Request rejected by retention/schedule policy
	TypeInternal   ErrorType = "Internal"   // Unexpected internal failure
)

// AppError is a rich error type that provides categorize and hints for users.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Hint    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Hint:    hint,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, t ErrorType, msg string, hint string) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Err:     err,
		Hint:    hint,
	}
}

// IsType reports whether any AppError in err's chain has type t.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == t {
			return true
		}
		err = appErr.Err
	}
	return false
}

// HintOf returns the first hint found in err's chain.
func HintOf(err error) string {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return ""
		}
		if appErr.Hint != "" {
			return appErr.Hint
		}
		err = appErr.Err
	}
	return ""
}
