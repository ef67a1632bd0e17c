package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := []string{
		ErrConfig,
		ErrLock,
		ErrExec,
		ErrTransient,
		ErrPermanent,
		ErrSecurity,
		ErrResource,
		ErrStuck,
		ErrCancelled,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestNew(t *testing.T) {
	err := New(ErrSecurity, "Archive rejected", "Only import archives you exported yourself")

	assert.Equal(t, ErrSecurity, err.Code)
	assert.Nil(t, err.Cause)

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "✗ Archive rejected"))
	assert.Contains(t, msg, "Only import archives you exported yourself")
}

func TestWrapWithCode(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := WrapWithCode(cause, ErrResource, "Can't write snapshot", "Check permissions")

	assert.Equal(t, ErrResource, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestWrap_DefaultsToExec(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), "Something failed")
	assert.Equal(t, ErrExec, err.Code)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("plain"), ""},
		{"structured", New(ErrStuck, "stuck", ""), ErrStuck},
		{"wrapped by fmt", fmt.Errorf("outer: %w", New(ErrTransient, "t", "")), ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(ErrTransient, "timeout", "")))
	assert.False(t, Retryable(New(ErrPermanent, "bad input", "")))
	assert.False(t, Retryable(nil))
}

func TestNewNotConfirmed(t *testing.T) {
	err := NewNotConfirmed("restore snapshot")

	require.Error(t, err)
	assert.True(t, IsCode(err, ErrPermanent))
	assert.True(t, Is(err, ErrNotConfirmed))
	assert.Contains(t, err.Error(), "restore snapshot")
}
