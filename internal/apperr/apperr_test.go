package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable_OnlyTransientExternal(t *testing.T) {
	assert.True(t, Retryable(Transient("broker_5xx", errors.New("boom"))))
	assert.False(t, Retryable(Permanent("bad_request", errors.New("boom"))))
	assert.False(t, Retryable(errors.New("plain error")))
}

func TestError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("network reset")
	wrapped := Transient("broker_timeout", cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestError_MessageIncludesClassAndTag(t *testing.T) {
	err := Invariant("token_state_nil", nil)
	assert.Equal(t, fmt.Sprintf("%s: token_state_nil", ClassInvariantViolation), err.Error())
}
