package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRollingAverages(t *testing.T) {
	require.NoError(t, MetricsInitialize())

	// A full averaging window of 16ms frames.
	for i := uint8(0); i < AVG_COUNT; i++ {
		MetricsUpdate(0.016)
	}
	assert.InDelta(t, 16.0, MetricsFrameTime(), 1.0)

	// Accumulate past one second of frame time to roll the FPS counter.
	for i := 0; i < 70; i++ {
		MetricsUpdate(0.016)
	}
	fps, frameTime := MetricsFrame()
	assert.Greater(t, fps, 0.0)
	assert.Equal(t, MetricsFPS(), fps)
	assert.Equal(t, MetricsFrameTime(), frameTime)
}

func TestMetricsFrameTiming(t *testing.T) {
	require.NoError(t, MetricsInitialize())

	MetricsFrameBegin()
	elapsed := MetricsFrameEnd()
	assert.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
}
