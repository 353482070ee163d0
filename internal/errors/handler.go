package errors

import (
	"context"
	"errors"
)

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// ErrorHandler provides centralized error reporting for long-running modes,
// where a failed cycle is logged and the process keeps going.
type ErrorHandler struct {
	logger Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error with a message chosen by its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var e *Error
	if !errors.As(err, &e) {
		h.logger.Error(ctx, err, "Unhandled error occurred")

		return
	}

	fields := []interface{}{"type", string(e.Type), "code", e.Code}
	if e.Tag != "" {
		fields = append(fields, "tag", e.Tag)
	}
	if e.Path != "" {
		fields = append(fields, "path", e.Path)
	}
	if e.AssetID >= 0 {
		fields = append(fields, "asset_id", e.AssetID)
	}

	switch e.Type {
	case ErrorTypeConstruction:
		h.logger.Warn(ctx, err, "Asset declaration rejected", fields...)
	case ErrorTypePipeline:
		h.logger.Warn(ctx, err, "Asset pipeline failed", fields...)
	case ErrorTypeHook:
		h.logger.Warn(ctx, err, "Build hook failed", fields...)
	case ErrorTypeWatch:
		h.logger.Warn(ctx, err, "File watcher error", fields...)
	default:
		h.logger.Error(ctx, err, "Build error occurred", fields...)
	}
}
