package chaos

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultFaultRate is the probability that a request is failed while chaos is enabled.
const DefaultFaultRate = 0.10

// Injector is a process-wide switch that, when enabled, fails a fraction of requests.
// It starts disabled.
type Injector struct {
	enabled atomic.Bool
	rate    float64
	float   func() float64
	faults  prometheus.Counter
}

type Option func(*Injector)

// WithSeed makes the Bernoulli trials reproducible. Trials stay independent of each
// other; only the sequence is fixed.
func WithSeed(seed uint64) Option {
	return func(i *Injector) {
		var mu sync.Mutex
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		i.float = func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return rng.Float64()
		}
	}
}

// WithEnabled sets the initial state.
func WithEnabled(enabled bool) Option {
	return func(i *Injector) {
		i.enabled.Store(enabled)
	}
}

func NewInjector(rate float64, opts ...Option) *Injector {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	i := &Injector{
		rate:  rate,
		float: rand.Float64,
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messaging_chaos_faults_total",
			Help: "Total number of chaos-induced request failures",
		}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Injector) Enable()       { i.enabled.Store(true) }
func (i *Injector) Disable()      { i.enabled.Store(false) }
func (i *Injector) Enabled() bool { return i.enabled.Load() }
func (i *Injector) Rate() float64 { return i.rate }

// ShouldFail runs one Bernoulli trial. It always returns false while disabled.
func (i *Injector) ShouldFail() bool {
	if !i.enabled.Load() {
		return false
	}
	if i.float() < i.rate {
		i.faults.Inc()
		return true
	}
	return false
}

// Describe implements prometheus.Collector.
func (i *Injector) Describe(ch chan<- *prometheus.Desc) {
	i.faults.Describe(ch)
}

// Collect implements prometheus.Collector.
func (i *Injector) Collect(ch chan<- prometheus.Metric) {
	i.faults.Collect(ch)
}
