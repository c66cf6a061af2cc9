package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_CodeOf(t *testing.T) {
	err := New(CodeNotFound, "blog %s not found", "b-1")
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeDatabase, "could not upvote blog", cause)

	require.ErrorIs(t, err, cause)
	assert.True(t, Is(err, CodeDatabase))
	assert.False(t, Is(err, CodeAuth))

	// Код должен распознаваться и через цепочку fmt.Errorf.
	wrapped := fmt.Errorf("resolver: %w", err)
	assert.Equal(t, CodeDatabase, CodeOf(wrapped))
}

func TestAppError_Extensions(t *testing.T) {
	err := New(CodeDenied, "request key expired")
	assert.Equal(t, map[string]interface{}{"code": "ERR_DENIED"}, err.Extensions())
}
