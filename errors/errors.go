package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

// warning is a non-fatal error: the conversation can continue after it has
// been reported.
type warning struct {
	msg string
}

func (w *warning) Error() string { return w.msg }

// Warnf creates a warning. Warnings surface degraded behavior, such as a
// session that will not be resumable or a missing parent transcript, without
// interrupting the conversation.
func Warnf(format string, a ...interface{}) error {
	return &warning{msg: fmt.Sprintf(format, a...)}
}

// IsWarning reports whether err, or any error it wraps, is a warning.
func IsWarning(err error) bool {
	var w *warning
	return errors.As(err, &w)
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
