package metrics

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindowSize is the number of latency samples kept for the rolling average.
const DefaultWindowSize = 100

// ErrNegativeConnections is returned when a request end is recorded without a matching start.
var ErrNegativeConnections = errors.New("active connections would drop below zero")

// Snapshot is a point-in-time view of the recorder. Derived values are computed on read.
type Snapshot struct {
	TotalRequests       uint64  `json:"total_requests"`
	RequestsPerSecond   float64 `json:"requests_per_second"`
	AverageResponseTime float64 `json:"average_response_time"`
	ErrorRate           float64 `json:"error_rate"`
	ActiveConnections   int64   `json:"active_connections"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
}

// Recorder holds process-wide request counters and a bounded window of recent
// response latencies in milliseconds. It is safe for concurrent use.
type Recorder struct {
	startTime time.Time
	now       func() time.Time

	totalRequests     atomic.Uint64
	activeConnections atomic.Int64
	errors            atomic.Uint64

	mu      sync.Mutex
	samples []float64 // ring buffer
	next    int
	count   int
}

type Option func(*Recorder)

// WithWindowSize overrides the latency window capacity.
func WithWindowSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.samples = make([]float64, n)
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		now:     time.Now,
		samples: make([]float64, DefaultWindowSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startTime = r.now()
	return r
}

func (r *Recorder) RecordRequestStart() {
	r.totalRequests.Add(1)
	r.activeConnections.Add(1)
}

// RecordRequestEnd stores the latency sample and releases one active connection.
// The sample is kept even when the connection count is already zero; the
// decrement is refused and ErrNegativeConnections returned instead.
func (r *Recorder) RecordRequestEnd(latencyMs float64) error {
	r.mu.Lock()
	r.samples[r.next] = latencyMs
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
	r.mu.Unlock()

	for {
		cur := r.activeConnections.Load()
		if cur <= 0 {
			return ErrNegativeConnections
		}
		if r.activeConnections.CompareAndSwap(cur, cur-1) {
			return nil
		}
	}
}

func (r *Recorder) RecordError() {
	r.errors.Add(1)
}

// Samples returns a copy of the latency window, oldest first.
func (r *Recorder) Samples() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float64, 0, r.count)
	if r.count < len(r.samples) {
		return append(out, r.samples[:r.count]...)
	}
	out = append(out, r.samples[r.next:]...)
	return append(out, r.samples[:r.next]...)
}

func (r *Recorder) StartTime() time.Time {
	return r.startTime
}

func (r *Recorder) TotalRequests() uint64 {
	return r.totalRequests.Load()
}

func (r *Recorder) Errors() uint64 {
	return r.errors.Load()
}

func (r *Recorder) ActiveConnections() int64 {
	return r.activeConnections.Load()
}

func (r *Recorder) averageLatency() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < r.count; i++ {
		sum += r.samples[i]
	}
	return sum / float64(r.count)
}

func (r *Recorder) Snapshot() Snapshot {
	total := r.totalRequests.Load()
	errCount := r.errors.Load()
	uptime := r.now().Sub(r.startTime).Seconds()

	var rps float64
	if uptime > 0 {
		rps = float64(total) / uptime
	}

	denom := total
	if denom < 1 {
		denom = 1
	}
	// RecordError is not tied to a request, so clamp to keep the rate a ratio.
	errorRate := float64(errCount) / float64(denom)
	if errorRate > 1 {
		errorRate = 1
	}

	return Snapshot{
		TotalRequests:       total,
		RequestsPerSecond:   rps,
		AverageResponseTime: r.averageLatency(),
		ErrorRate:           errorRate,
		ActiveConnections:   r.activeConnections.Load(),
		UptimeSeconds:       uptime,
	}
}
