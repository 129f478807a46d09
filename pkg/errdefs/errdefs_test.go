package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := Newf(ErrSyntax, "near %q", "FORM")
	wrapped := Wrap(ErrConnection, fmt.Errorf("exec: %w", inner))

	assert.True(t, errors.Is(wrapped, ErrSyntax))
	assert.False(t, errors.Is(wrapped, ErrConnection))
	assert.Equal(t, ErrSyntax, Kind(wrapped))
}

func TestWrapPlainError(t *testing.T) {
	err := Wrap(ErrObjectNotFound, errors.New("no such table: s.t"))

	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "no such table")
	assert.Nil(t, Wrap(ErrSyntax, nil))
	assert.Nil(t, Kind(errors.New("plain")))
}
