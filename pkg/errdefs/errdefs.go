// Package errdefs defines the error kinds surfaced by the engine. Callers branch
// on them with errors.Is; every error returned by the store, the scramble builder
// and the executors wraps exactly one of these.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	ErrConnection          = errors.New("connection error")
	ErrSyntax              = errors.New("syntax error")
	ErrObjectNotFound      = errors.New("object not found")
	ErrObjectAlreadyExists = errors.New("object already exists")
	ErrUnsupportedQuery    = errors.New("unsupported query")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// Wrap attaches kind to err unless err already carries a kind.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// Newf returns a new error of the given kind.
func Newf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the sentinel err wraps, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrConnection, ErrSyntax, ErrObjectNotFound,
		ErrObjectAlreadyExists, ErrUnsupportedQuery, ErrInvalidArgument,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrObjectNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrObjectAlreadyExists) }
func IsUnsupported(err error) bool   { return errors.Is(err, ErrUnsupportedQuery) }
