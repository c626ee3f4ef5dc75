package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrInvalidArgument, "days must be positive")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "days must be positive", err.Message)
	assert.Equal(t, "invalid argument", ErrInvalidArgument.Message)
}

func TestFromContextMapsDeadline(t *testing.T) {
	wrapped := fmt.Errorf("query appointments: %w", context.DeadlineExceeded)
	err := FromContext(wrapped, "repository timed out")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	plain := fmt.Errorf("boom")
	assert.Equal(t, plain, FromContext(plain, ""))
	assert.Nil(t, FromContext(nil, ""))
}

func TestFromErrorDefaults(t *testing.T) {
	assert.Nil(t, FromError(nil))
	assert.Equal(t, http.StatusInternalServerError, FromError(fmt.Errorf("x")).Status)
	assert.Equal(t, http.StatusGatewayTimeout, FromError(context.DeadlineExceeded).Status)
	assert.Equal(t, ErrNotFound, FromError(ErrNotFound))
}
