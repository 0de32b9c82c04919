// Package errors provides the error classification used across the runtime
// worker. Every error that crosses a component boundary is wrapped with the
// component and operation that produced it and carries one of three classes:
// transient, invalid, or fatal.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrAlreadyStarted   = errors.New("component already started")
	ErrNotStarted       = errors.New("component not started")
	ErrShuttingDown     = errors.New("component is shutting down")
	ErrAlreadyInstalled = errors.New("metric collector already installed")
	ErrRuntimeNotFound  = errors.New("runtime artifact not found")

	// Dispatch errors
	ErrWorkerNotBound = errors.New("no worker bound to protocol handler")
	ErrAlreadyBound   = errors.New("worker already bound to protocol handler")
	ErrUnknownMethod  = errors.New("unknown method")
	ErrBusy           = errors.New("request queue full")

	// Connection errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Data errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrDataCorrupted = errors.New("data corrupted")
	ErrFrameTooLarge = errors.New("frame too large")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrKeyNotFound        = errors.New("key not found")
	ErrInvalidKey         = errors.New("invalid storage key")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Component registry errors
	ErrComponentNotFound = errors.New("component not found")
	ErrAlreadyTaken      = errors.New("component already taken")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Errors without a class are classified by sentinel first, then by message
// text. Invalid has no text patterns.
var (
	classSentinels = map[ErrorClass][]error{
		ErrorTransient: {
			ErrConnectionTimeout, ErrConnectionLost, ErrStorageUnavailable, ErrBusy,
			context.DeadlineExceeded, context.Canceled,
		},
		ErrorFatal: {
			ErrInvalidConfig, ErrMissingConfig, ErrDataCorrupted, ErrRuntimeNotFound,
		},
		ErrorInvalid: {
			ErrInvalidData, ErrInvalidKey, ErrUnknownMethod,
		},
	}

	classPatterns = map[ErrorClass][]string{
		ErrorTransient: {"timeout", "connection", "network", "temporary", "unavailable", "busy"},
		ErrorFatal:     {"fatal", "panic", "corrupted", "disk full"},
	}
)

func hasClass(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}

	// An explicit class anywhere in the chain decides; the outermost wins
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}

	for _, sentinel := range classSentinels[class] {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range classPatterns[class] {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err may succeed if retried
func IsTransient(err error) bool {
	return hasClass(err, ErrorTransient)
}

// IsFatal reports whether err should stop the process
func IsFatal(err error) bool {
	return hasClass(err, ErrorFatal)
}

// IsInvalid reports whether err was caused by bad input
func IsInvalid(err error) bool {
	return hasClass(err, ErrorInvalid)
}

// Classify returns the class of err. Unclassifiable errors, and nil, are
// treated as transient.
func Classify(err error) ErrorClass {
	for _, class := range []ErrorClass{ErrorTransient, ErrorFatal, ErrorInvalid} {
		if hasClass(err, class) {
			return class
		}
	}
	return ErrorTransient
}

// Wrap adds context in the form "component.method: action failed: %w".
// The result carries no class of its own.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err with context and marks it retryable
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err with context and marks it fatal
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err with context and marks it as bad input
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
