package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	lc, err := newLifecycle()
	require.NoError(t, err)
	defer lc.stop()

	assert.Equal(t, PhaseConnecting, lc.phase())

	steps := []struct {
		ev   eventType
		want Phase
	}{
		{evConnected, PhaseRecoveringRuns},
		{evRecovered, PhaseAwaitingHostStart},
		{evStarted, PhaseConsuming},
		{evStop, PhaseDraining},
		{evDrained, PhaseClosingRun},
		{evRunClosed, PhaseClosingConnection},
		{evClosed, PhaseTerminated},
	}
	for _, step := range steps {
		lc.send(step.ev)
		assert.Equal(t, step.want, lc.phase(), "after %s", step.ev)
	}
}

func TestLifecycleShutdownBeforeHostStart(t *testing.T) {
	lc, err := newLifecycle()
	require.NoError(t, err)
	defer lc.stop()

	lc.send(evConnected)
	lc.send(evRecovered)
	require.Equal(t, PhaseAwaitingHostStart, lc.phase())

	lc.send(evStop)
	assert.Equal(t, PhaseTerminated, lc.phase())
}

func TestLifecycleFailurePaths(t *testing.T) {
	for _, reach := range []struct {
		name  string
		steps []eventType
	}{
		{"from_connecting", nil},
		{"from_recovering", []eventType{evConnected}},
		{"from_consuming", []eventType{evConnected, evRecovered, evStarted}},
	} {
		t.Run(reach.name, func(t *testing.T) {
			lc, err := newLifecycle()
			require.NoError(t, err)
			defer lc.stop()

			for _, ev := range reach.steps {
				lc.send(ev)
			}
			lc.send(evFail)
			assert.Equal(t, PhaseFailedFatally, lc.phase())
		})
	}
}
