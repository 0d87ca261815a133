package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestActiveConnectionsReturnToZero(t *testing.T) {
	r := NewRecorder()

	const n = 50
	for i := 0; i < n; i++ {
		r.RecordRequestStart()
		require.EqualValues(t, i+1, r.ActiveConnections())
	}
	for i := 0; i < n; i++ {
		require.NoError(t, r.RecordRequestEnd(1))
		require.GreaterOrEqual(t, r.ActiveConnections(), int64(0))
	}
	require.Zero(t, r.ActiveConnections())
	require.EqualValues(t, n, r.TotalRequests())
}

func TestRecordRequestEndNeverGoesNegative(t *testing.T) {
	r := NewRecorder()

	require.ErrorIs(t, r.RecordRequestEnd(3), ErrNegativeConnections)
	require.Zero(t, r.ActiveConnections())
	// the sample is still recorded
	require.Equal(t, []float64{3}, r.Samples())
}

func TestConcurrentStartEndPairs(t *testing.T) {
	r := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordRequestStart()
			if r.ActiveConnections() < 0 {
				t.Errorf("active connections went negative")
			}
			if err := r.RecordRequestEnd(2); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, r.ActiveConnections())
	require.EqualValues(t, 200, r.TotalRequests())
	require.Len(t, r.Samples(), DefaultWindowSize)
}

func TestWindowKeepsLastHundredInOrder(t *testing.T) {
	r := NewRecorder()

	for i := 0; i < 150; i++ {
		r.RecordRequestStart()
		require.NoError(t, r.RecordRequestEnd(float64(i)))
		require.LessOrEqual(t, len(r.Samples()), DefaultWindowSize)
	}

	samples := r.Samples()
	require.Len(t, samples, DefaultWindowSize)
	for i, v := range samples {
		require.Equal(t, float64(i+50), v)
	}
	// mean of 50..149
	require.InDelta(t, 99.5, r.Snapshot().AverageResponseTime, 1e-9)
}

func TestWithWindowSize(t *testing.T) {
	r := NewRecorder(WithWindowSize(3))
	for i := 1; i <= 5; i++ {
		r.RecordRequestStart()
		require.NoError(t, r.RecordRequestEnd(float64(i)))
	}
	require.Equal(t, []float64{3, 4, 5}, r.Samples())
}

func TestSnapshotEmpty(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRecorder(WithClock(clock.Now))

	snap := r.Snapshot()
	require.Zero(t, snap.TotalRequests)
	require.Zero(t, snap.RequestsPerSecond)
	require.Zero(t, snap.AverageResponseTime)
	require.Zero(t, snap.ErrorRate)
	require.Zero(t, snap.UptimeSeconds)
}

func TestSnapshotDerivedValues(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRecorder(WithClock(clock.Now))

	for i := 0; i < 8; i++ {
		r.RecordRequestStart()
	}
	for _, ms := range []float64{10, 20, 30} {
		require.NoError(t, r.RecordRequestEnd(ms))
	}
	r.RecordError()
	r.RecordError()
	clock.Advance(4 * time.Second)

	snap := r.Snapshot()
	require.EqualValues(t, 8, snap.TotalRequests)
	require.Equal(t, 2.0, snap.RequestsPerSecond)
	require.Equal(t, 20.0, snap.AverageResponseTime)
	require.Equal(t, 2.0/8.0, snap.ErrorRate)
	require.EqualValues(t, 5, snap.ActiveConnections)
	require.Equal(t, 4.0, snap.UptimeSeconds)
}

func TestErrorRateBounded(t *testing.T) {
	r := NewRecorder()

	r.RecordError()
	require.Equal(t, 1.0, r.Snapshot().ErrorRate)

	r.RecordError()
	r.RecordRequestStart()
	rate := r.Snapshot().ErrorRate
	require.GreaterOrEqual(t, rate, 0.0)
	require.LessOrEqual(t, rate, 1.0)

	for i := 0; i < 9; i++ {
		r.RecordRequestStart()
	}
	require.Equal(t, 2.0/10.0, r.Snapshot().ErrorRate)
}

func TestCollector(t *testing.T) {
	r := NewRecorder()
	r.RecordRequestStart()
	r.RecordRequestStart()
	r.RecordError()

	require.Equal(t, 5, testutil.CollectAndCount(r))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(r))
	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	require.Equal(t, 2.0, values["messaging_requests_total"])
	require.Equal(t, 1.0, values["messaging_request_errors_total"])
	require.Equal(t, 2.0, values["messaging_active_connections"])
}
