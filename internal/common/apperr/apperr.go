package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures by the stage that produced them.
type Kind string

const (
	KindSource     Kind = "source"
	KindGeneration Kind = "generation"
	KindEmbedding  Kind = "embedding"
	KindStore      Kind = "store"
	KindConfig     Kind = "config"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap 给底层错误打上阶段标签；err 为 nil 时返回 nil
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind attached to err, or "" when err carries none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
