package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("delete trip", errors.New("gone"))))
	assert.Equal(t, KindTransient, KindOf(Offline("add trip")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("raw driver error")))

	// Classification survives wrapping.
	wrapped := fmt.Errorf("mutation failed: %w", PermissionDenied("set trip", errors.New("acl")))
	assert.Equal(t, KindPermissionDenied, KindOf(wrapped))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Transient("set trip", errors.New("timeout"))))
	assert.True(t, Retryable(Unknown("set trip", errors.New("???"))))
	assert.True(t, Retryable(errors.New("unclassified")))
	assert.False(t, Retryable(PermissionDenied("set trip", errors.New("acl"))))
	assert.False(t, Retryable(NotFound("delete trip", errors.New("gone"))))
	assert.False(t, Retryable(Validation("add trip", errors.New("bad"))))
}

func TestMessage(t *testing.T) {
	assert.Empty(t, Message(nil))

	// Validation failures surface their cause.
	assert.Equal(t, "passenger count cannot be negative",
		Message(Validation("add trip", errors.New("passenger count cannot be negative"))))

	// Everything else maps to a fixed string, never the raw cause.
	msg := Message(Transient("set trip", errors.New("dial tcp: i/o timeout")))
	assert.NotContains(t, msg, "dial tcp")
	assert.NotEmpty(t, msg)

	assert.Equal(t, messages[KindUnknown], Message(errors.New("raw")))
}

func TestErrorFormat(t *testing.T) {
	err := Transient("delete trip", errors.New("connection reset"))
	assert.Equal(t, "delete trip: transient: connection reset", err.Error())

	cause := errors.New("boom")
	assert.True(t, errors.Is(New(KindUnknown, "op", cause), cause))
}
