// Package apierr defines the typed error taxonomy fleetmc's operations
// return. The out-of-core HTTP layer maps Code to a status; background
// loops (cron firing, stdout scanning, probe ticks, webhook POSTs) log and
// swallow these instead of propagating them.
package apierr

import (
	"errors"
	"fmt"
)

// Code identifies the category of a fleetmc error.
type Code string

const (
	CodeNotFound         Code = "NotFound"
	CodePermissionDenied Code = "PermissionDenied"
	CodeConflict         Code = "Conflict"
	CodeInvalidArgument  Code = "InvalidArgument"
	CodeJarMissing       Code = "JarMissing"
	CodeRconUnavailable  Code = "RconUnavailable"
	CodeSpawnError       Code = "SpawnError"
	CodeDownloadError    Code = "DownloadError"
	CodeIoError          Code = "IoError"
	CodeTimeoutError     Code = "TimeoutError"
	CodeInProgress       Code = "InProgress"
	CodeNotRunning       Code = "NotRunning"
	CodeAlreadyRunning   Code = "AlreadyRunning"
)

// Error is a typed, wrapped error carrying a Code for status mapping.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapf(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error { return newf(CodeNotFound, format, args...) }

func PermissionDenied(format string, args ...any) *Error {
	return newf(CodePermissionDenied, format, args...)
}

func Conflict(format string, args ...any) *Error { return newf(CodeConflict, format, args...) }

func InvalidArgument(format string, args ...any) *Error {
	return newf(CodeInvalidArgument, format, args...)
}

func JarMissing(format string, args ...any) *Error { return newf(CodeJarMissing, format, args...) }

func RconUnavailable(err error, format string, args ...any) *Error {
	return wrapf(CodeRconUnavailable, err, format, args...)
}

func SpawnError(err error, format string, args ...any) *Error {
	return wrapf(CodeSpawnError, err, format, args...)
}

func DownloadError(err error, format string, args ...any) *Error {
	return wrapf(CodeDownloadError, err, format, args...)
}

func IoError(err error, format string, args ...any) *Error {
	return wrapf(CodeIoError, err, format, args...)
}

func TimeoutError(format string, args ...any) *Error {
	return newf(CodeTimeoutError, format, args...)
}

func InProgress(format string, args ...any) *Error { return newf(CodeInProgress, format, args...) }

func NotRunning(format string, args ...any) *Error { return newf(CodeNotRunning, format, args...) }

func AlreadyRunning(format string, args ...any) *Error {
	return newf(CodeAlreadyRunning, format, args...)
}

// CodeOf extracts the Code from err, walking the wrap chain. Returns ""
// if err is nil or carries no apierr.Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err's Code matches code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
