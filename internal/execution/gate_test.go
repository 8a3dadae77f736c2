package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AcquireReleaseRoundTrip(t *testing.T) {
	g := NewGate(2)
	assert.Equal(t, 2, g.RemainingRealSlots())

	require.True(t, g.TryAcquireRealSlot())
	assert.Equal(t, 1, g.RemainingRealSlots())

	require.True(t, g.TryAcquireRealSlot())
	assert.Equal(t, 0, g.RemainingRealSlots())

	assert.False(t, g.TryAcquireRealSlot(), "third acquire should fail once at capacity")

	g.ReleaseRealSlot()
	assert.Equal(t, 1, g.RemainingRealSlots())
}

func TestGate_ReleaseNeverGoesNegative(t *testing.T) {
	g := NewGate(1)
	g.ReleaseRealSlot()
	g.ReleaseRealSlot()
	assert.Equal(t, 1, g.RemainingRealSlots())
}

func TestGate_PauseBlocksAcquire(t *testing.T) {
	g := NewGate(5)
	g.Pause("daily loss limit tripped")

	paused, reason := g.IsPaused()
	require.True(t, paused)
	assert.Equal(t, "daily loss limit tripped", reason)

	assert.False(t, g.TryAcquireRealSlot(), "paused gate must refuse new real slots")

	g.Resume()
	paused, reason = g.IsPaused()
	assert.False(t, paused)
	assert.Empty(t, reason)
	assert.True(t, g.TryAcquireRealSlot())
}

func TestGate_ZeroSlotsAlwaysRefuses(t *testing.T) {
	g := NewGate(0)
	assert.Equal(t, 0, g.RemainingRealSlots())
	assert.False(t, g.TryAcquireRealSlot())
}
