// Unified error handling for the motion host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Submission errors
	ErrZeroLengthMove ErrorCode = "ZERO_LENGTH_MOVE"
	ErrBufferFull     ErrorCode = "BUFFER_FULL_FATAL"

	// Executor errors
	ErrInternal    ErrorCode = "INTERNAL"
	ErrUnknownCode ErrorCode = "UNKNOWN_CODE"

	// Kinematics errors
	ErrKinematics ErrorCode = "KINEMATICS"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
	ErrStepper     ErrorCode = "STEPPER"
)

// MotionError is the unified error type for the motion host
type MotionError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *MotionError) Error() string {
	if e.Section != "" || e.Option != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *MotionError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *MotionError) SetSection(section string) *MotionError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *MotionError) SetOption(option string) *MotionError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *MotionError) SetContext(key string, value interface{}) *MotionError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *MotionError {
	return &MotionError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new MotionError
func New(code ErrorCode, message string) *MotionError {
	return &MotionError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *MotionError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *MotionError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *MotionError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *MotionError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// Submission errors

// ZeroLengthMoveError creates an error for a sub-epsilon move or time
func ZeroLengthMoveError(length, minutes float64) *MotionError {
	return New(ErrZeroLengthMove, fmt.Sprintf("zero length move (length=%.6f mm, time=%.6f min)", length, minutes))
}

// BufferFullError creates an error for a failed write-slot acquisition.
// All submitters are required to gate on QueueHasSpace, so this is fatal.
func BufferFullError() *MotionError {
	return New(ErrBufferFull, "planner buffer pool exhausted")
}

// Executor errors

// InternalError creates an error for an impossible executor state
func InternalError(message string) *MotionError {
	return New(ErrInternal, message)
}

// UnknownCodeError creates an error for an unregistered auxiliary code
func UnknownCodeError(code int) *MotionError {
	return New(ErrUnknownCode, fmt.Sprintf("no handler registered for M%d", code))
}

// Kinematics errors

// KinematicsError creates a general kinematics error
func KinematicsError(message string) *MotionError {
	return New(ErrKinematics, message)
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *MotionError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *MotionError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// StepperError creates an error for a failed segment handoff
func StepperError(operation string, reason string) *MotionError {
	return New(ErrStepper, fmt.Sprintf("stepper %s failed: %s", operation, reason))
}

// PanicError converts a recovered panic value into a MotionError. The
// caller recovers in its own deferred function and passes the value in:
//
//	defer func() {
//		if r := recover(); r != nil {
//			err = errors.PanicError(r)
//		}
//	}()
func PanicError(r interface{}) *MotionError {
	switch x := r.(type) {
	case string:
		return RuntimeError(fmt.Sprintf("panic: %s", x))
	case runtime.Error:
		return RuntimeError(x.Error())
	case error:
		return RuntimeError(x.Error())
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if motionErr, ok := err.(*MotionError); ok {
		return motionErr.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType)
}

// IsSubmission checks if error is a submission error
func IsSubmission(err error) bool {
	return Is(err, ErrZeroLengthMove) || Is(err, ErrBufferFull)
}

// IsFatal checks if error terminates the motion cycle
func IsFatal(err error) bool {
	return Is(err, ErrBufferFull) || Is(err, ErrInternal) || Is(err, ErrUnknownCode)
}
