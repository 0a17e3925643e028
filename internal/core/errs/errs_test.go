package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindsWrapValidation(t *testing.T) {
	assert.ErrorIs(t, ErrInvalidKind, ErrValidation)
	assert.ErrorIs(t, ErrMessageTooLong, ErrValidation)
	assert.NotErrorIs(t, ErrDuplicateName, ErrValidation)
}

func TestE(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, E("op", "res", "id", nil))
	})

	t.Run("carries context", func(t *testing.T) {
		err := E("queue.claim", "queued_files", "file_1", ErrLockTimeout)

		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "queue.claim", e.Op)
		assert.Equal(t, "queued_files", e.Resource)
		assert.Equal(t, "file_1", e.ID)
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.Equal(t, "queue.claim queued_files file_1: lock timeout", err.Error())
	})

	t.Run("does not double wrap", func(t *testing.T) {
		inner := E("inner", "messages", "", ErrNotFound)
		outer := E("outer", "channels", "", fmt.Errorf("wrapped: %w", inner))

		var e *Error
		require.ErrorAs(t, outer, &e)
		assert.Equal(t, "inner", e.Op)
	})
}

func TestStorage(t *testing.T) {
	assert.NoError(t, Storage(nil))

	err := Storage(errors.New("disk full"))
	assert.ErrorIs(t, err, ErrStorage)

	classified := NotFound("channel", "c1")
	assert.Same(t, classified, Storage(classified))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "lock timeout", err: E("op", "r", "", ErrLockTimeout), want: true},
		{name: "validation", err: Validation("bad"), want: false},
		{name: "storage", err: Storage(errors.New("gone")), want: false},
		{name: "not found", err: NotFound("file", "f"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
