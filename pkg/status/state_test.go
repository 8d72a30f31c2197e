package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "planned", Planned.String())
	assert.Equal(t, "submitted", Submitted.String())
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "declined", Declined.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestStateGetSet(t *testing.T) {
	var s State
	assert.Equal(t, Planned, s.Get())
	assert.False(t, s.Get().Terminal())
	s.Set(Submitted)
	assert.Equal(t, Submitted, s.Get())
	assert.False(t, s.Get().Terminal())
	s.Set(Failed)
	assert.True(t, s.Get().Terminal())
	s.Set(Declined)
	assert.True(t, s.Get().Terminal())
}
