// Package errors defines the structured error taxonomy used across a build
// cycle: construction, pipeline, hook, staging and watch failures, plus
// configuration and internal errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConstruction ErrorType = "construction"
	ErrorTypePipeline     ErrorType = "pipeline"
	ErrorTypeHook         ErrorType = "hook"
	ErrorTypeStaging      ErrorType = "staging"
	ErrorTypeWatch        ErrorType = "watch"
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeInternal     ErrorType = "internal"
)

// Error is a structured error type with asset context.
type Error struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	// Tag is a short rendering of the offending manifest tag, e.g. `<link rel="css">`.
	Tag  string
	Path string
	// AssetID is the engine-assigned asset ID, -1 when not tied to an asset.
	AssetID int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Tag != "" {
		parts = append(parts, e.Tag)
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithTag adds the offending tag.
func (e *Error) WithTag(tag string) *Error {
	e.Tag = tag

	return e
}

// WithPath adds file location information.
func (e *Error) WithPath(path string) *Error {
	e.Path = path

	return e
}

// WithAsset records the asset ID the error belongs to.
func (e *Error) WithAsset(id int) *Error {
	e.AssetID = id

	return e
}

func newError(typ ErrorType, code, message string, cause error) *Error {
	return &Error{
		Type:    typ,
		Code:    code,
		Message: message,
		Cause:   cause,
		AssetID: -1,
	}
}

// NewConstructionError creates an error for a bad asset declaration.
func NewConstructionError(code, message string) *Error {
	return newError(ErrorTypeConstruction, code, message, nil)
}

// NewPipelineError creates an error for a failed pipeline run.
func NewPipelineError(code, message string, cause error) *Error {
	return newError(ErrorTypePipeline, code, message, cause)
}

// NewHookError creates an error for a failed build hook.
func NewHookError(code, message string, cause error) *Error {
	return newError(ErrorTypeHook, code, message, cause)
}

// NewStagingError creates an error for staging or publish I/O failures.
func NewStagingError(code, message string, cause error) *Error {
	return newError(ErrorTypeStaging, code, message, cause)
}

// NewWatchError creates an error for filesystem subscription failures.
func NewWatchError(code, message string, cause error) *Error {
	return newError(ErrorTypeWatch, code, message, cause)
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *Error {
	return newError(ErrorTypeConfig, code, message, nil)
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return newError(ErrorTypeInternal, code, message, cause)
}

// TypeOf returns the type of the first structured error in the chain, or
// the empty string when err carries none.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}

	return ""
}

// IsConstruction checks if an error is a construction error.
func IsConstruction(err error) bool { return TypeOf(err) == ErrorTypeConstruction }

// IsPipeline checks if an error is a pipeline error.
func IsPipeline(err error) bool { return TypeOf(err) == ErrorTypePipeline }

// IsHook checks if an error is a hook error.
func IsHook(err error) bool { return TypeOf(err) == ErrorTypeHook }

// IsStaging checks if an error is a staging error.
func IsStaging(err error) bool { return TypeOf(err) == ErrorTypeStaging }

// IsWatch checks if an error is a watch error.
func IsWatch(err error) bool { return TypeOf(err) == ErrorTypeWatch }

// Common error codes.
const (
	ErrCodeMissingAttribute = "ERR_MISSING_ATTRIBUTE"
	ErrCodeInvalidAttribute = "ERR_INVALID_ATTRIBUTE"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeToolNotFound     = "ERR_TOOL_NOT_FOUND"
	ErrCodeToolFailed       = "ERR_TOOL_FAILED"
	ErrCodeUnexpectedOutput = "ERR_UNEXPECTED_OUTPUT"
	ErrCodeIO               = "ERR_IO"
	ErrCodeHookFailed       = "ERR_HOOK_FAILED"
	ErrCodeHookSpawn        = "ERR_HOOK_SPAWN"
	ErrCodeStageDir         = "ERR_STAGE_DIR"
	ErrCodePublish          = "ERR_PUBLISH"
	ErrCodeManifest         = "ERR_MANIFEST"
	ErrCodeSubscribe        = "ERR_SUBSCRIBE"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeCanceled         = "ERR_CANCELED"
)

// ErrMissingAttribute creates a construction error for a required attribute.
func ErrMissingAttribute(tag, attr string) *Error {
	return NewConstructionError(ErrCodeMissingAttribute,
		"missing required attribute "+attr).WithTag(tag)
}

// ErrFileNotFound creates a construction error for a missing asset source.
func ErrFileNotFound(tag, path string, cause error) *Error {
	e := NewConstructionError(ErrCodeFileNotFound, "asset source not found").WithTag(tag).WithPath(path)
	e.Cause = cause

	return e
}
