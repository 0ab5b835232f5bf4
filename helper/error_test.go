package helper

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError(t *testing.T) {
	t.Run("Wraps the cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewError("open database", cause)

		assert.ErrorIs(t, err, cause, "Expected the cause to remain matchable")
		assert.Contains(t, err.Error(), "open database", "Expected the action to appear in the message")
	})

	t.Run("Sentinels survive wrapping", func(t *testing.T) {
		err := NewError("select entity", ErrNotFound)
		assert.ErrorIs(t, err, ErrNotFound, "Expected ErrNotFound to be matchable through the wrap")
	})
}

func TestStoreError(t *testing.T) {
	driverErr := fmt.Errorf("pq: connection reset by peer")
	err := StoreError("query", driverErr)

	assert.ErrorIs(t, err, ErrStoreUnavailable, "Expected StoreError to match ErrStoreUnavailable")
	assert.Contains(t, err.Error(), "connection reset", "Expected the driver detail to be kept")
}
