// Package apperr defines the error taxonomy shared by the sync engine and its
// collaborators. Errors carry a string code so they log and serialize cleanly.
package apperr

import (
	"errors"
	"fmt"
	"io/fs"
)

// Code classifies an error condition.
type Code string

const (
	// CodeNotFound indicates a missing file, tool or backup.
	CodeNotFound Code = "NOT_FOUND"

	// CodeParse indicates malformed structured content or a malformed state file.
	CodeParse Code = "PARSE_ERROR"

	// CodeIO indicates a permission or filesystem failure.
	CodeIO Code = "IO_ERROR"

	// CodeValidation indicates malformed configuration, rules or paths.
	CodeValidation Code = "VALIDATION_ERROR"
)

// Error is a classified error with the operation and path it relates to.
type Error struct {
	Code Code
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code.
func New(code Code, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

// NotFound wraps err as CodeNotFound.
func NotFound(op, path string, err error) *Error {
	return New(CodeNotFound, op, path, err)
}

// Parse wraps err as CodeParse.
func Parse(op, path string, err error) *Error {
	return New(CodeParse, op, path, err)
}

// IO wraps err as CodeIO.
func IO(op, path string, err error) *Error {
	return New(CodeIO, op, path, err)
}

// Validation creates a CodeValidation error from a formatted message.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, "", "", fmt.Errorf(format, args...))
}

// FromFS classifies a filesystem error: missing paths become CodeNotFound,
// everything else CodeIO.
func FromFS(op, path string, err error) *Error {
	if errors.Is(err, fs.ErrNotExist) {
		return NotFound(op, path, err)
	}
	return IO(op, path, err)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
