package lesson

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_ScrollSignal(t *testing.T) {
	e := NewEstimator()

	// Halfway through scrollable content.
	snap := e.Observe(5*time.Second, Telemetry{
		ScrollTop:    500,
		ScrollHeight: 1200,
		ClientHeight: 200,
	})
	assert.InDelta(t, 50.0, snap.ScrollProgress, 0.001)

	// Fully scrolled.
	snap = e.Observe(6*time.Second, Telemetry{
		ScrollTop:    1000,
		ScrollHeight: 1200,
		ClientHeight: 200,
	})
	assert.InDelta(t, 100.0, snap.ScrollProgress, 0.001)
}

func TestEstimator_TimeProxyForNonScrollableContent(t *testing.T) {
	e := NewEstimator()

	// Content shorter than the viewport: scroll signal ramps on time,
	// reaching 100% after the 180 s ramp window.
	snap := e.Observe(90*time.Second, Telemetry{ScrollHeight: 100, ClientHeight: 400})
	assert.InDelta(t, 50.0, snap.ScrollProgress, 0.001)

	snap = e.Observe(200*time.Second, Telemetry{ScrollHeight: 100, ClientHeight: 400})
	assert.InDelta(t, 100.0, snap.ScrollProgress, 0.001)
}

func TestEstimator_ReadingProgressTimeRamp(t *testing.T) {
	e := NewEstimator()

	// No scroll, 310 s elapsed, non-scrollable content.
	// The 300 s reading ramp is exceeded, so reading progress is 100.
	snap := e.Observe(310*time.Second, Telemetry{})
	assert.InDelta(t, 100.0, snap.ReadingProgress, 0.001)
	assert.Equal(t, 310, snap.TimeSpentSeconds)
}

func TestEstimator_ReadingProgressTakesMaxOfSignals(t *testing.T) {
	e := NewEstimator()

	// Scroll at 80% after 30 s: the scroll signal dominates the time ramp.
	snap := e.Observe(30*time.Second, Telemetry{
		ScrollTop:    800,
		ScrollHeight: 1200,
		ClientHeight: 200,
	})
	assert.InDelta(t, 80.0, snap.ReadingProgress, 0.001)
}

func TestEstimator_AllOutputsClamped(t *testing.T) {
	e := NewEstimator()

	// Absurd inputs must still produce values in [0, 100].
	snap := e.Observe(100*time.Hour, Telemetry{
		ScrollTop:     1e9,
		ScrollHeight:  1200,
		ClientHeight:  200,
		Interactions:  1 << 20,
		VideoProgress: 500,
	})

	assert.GreaterOrEqual(t, snap.ScrollProgress, 0.0)
	assert.LessOrEqual(t, snap.ScrollProgress, 100.0)
	assert.GreaterOrEqual(t, snap.ReadingProgress, 0.0)
	assert.LessOrEqual(t, snap.ReadingProgress, 100.0)
	assert.GreaterOrEqual(t, snap.EngagementScore, 0.0)
	assert.LessOrEqual(t, snap.EngagementScore, 100.0)
}

func TestEstimator_MissingInputsDegradeToZero(t *testing.T) {
	e := NewEstimator()

	snap := e.Observe(0, Telemetry{})
	assert.Zero(t, snap.ScrollProgress)
	assert.Zero(t, snap.ReadingProgress)
	assert.Zero(t, snap.EngagementScore)
	assert.Zero(t, snap.TimeSpentSeconds)
}

func TestEstimator_EngagementWeightsWithoutVideo(t *testing.T) {
	e := NewEstimator()

	// All factors saturated, no video: 0.3+0.3+0.2+0.2 = 100%.
	var snap ProgressSnapshot
	for i := 1; i <= 700; i++ {
		snap = e.Observe(time.Duration(i)*time.Second, Telemetry{
			ScrollTop:    1000 + float64(i), // keeps the scroll moving
			ScrollHeight: 1200,
			ClientHeight: 200,
			Interactions: 50,
		})
	}
	assert.InDelta(t, 100.0, snap.EngagementScore, 0.001)
}

func TestEstimator_VideoWeightDominates(t *testing.T) {
	e := NewEstimator()

	// Only the video factor present and fully watched: 40% share.
	snap := e.Observe(1*time.Second, Telemetry{VideoProgress: 100})
	assert.InDelta(t, 40.0, snap.EngagementScore, 0.5)
}

func TestEstimator_ConsistencyAccruesOnlyForward(t *testing.T) {
	e := NewEstimator()

	// Within the 10 s grace period without scroll motion nothing accrues.
	e.Observe(1*time.Second, Telemetry{})
	e.Observe(5*time.Second, Telemetry{})
	assert.Zero(t, e.ActiveReadingSeconds())

	// Past the grace period the elapsed delta accrues each tick.
	e.Observe(11*time.Second, Telemetry{})
	e.Observe(20*time.Second, Telemetry{})
	assert.InDelta(t, 15.0, e.ActiveReadingSeconds(), 0.001)

	// Capped at 100 accumulated seconds.
	e.Observe(500*time.Second, Telemetry{})
	assert.InDelta(t, 100.0, e.ActiveReadingSeconds(), 0.001)
}

func TestEstimator_ConsistencyAccruesOnScrollMotionDuringGrace(t *testing.T) {
	e := NewEstimator()

	e.Observe(1*time.Second, Telemetry{ScrollTop: 0, ScrollHeight: 1200, ClientHeight: 200})
	e.Observe(3*time.Second, Telemetry{ScrollTop: 40, ScrollHeight: 1200, ClientHeight: 200})
	assert.InDelta(t, 2.0, e.ActiveReadingSeconds(), 0.001)
}

func TestEstimator_IdempotentPerTickInputs(t *testing.T) {
	// Two estimators fed the same sequence produce the same snapshots.
	a, b := NewEstimator(), NewEstimator()
	inputs := Telemetry{ScrollTop: 300, ScrollHeight: 900, ClientHeight: 300, Interactions: 4}

	for i := 1; i <= 30; i++ {
		sa := a.Observe(time.Duration(i)*time.Second, inputs)
		sb := b.Observe(time.Duration(i)*time.Second, inputs)
		assert.Equal(t, sa, sb)
	}
}
