package chaos

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestDisabledNeverFails(t *testing.T) {
	inj := NewInjector(DefaultFaultRate, WithSeed(1))
	require.False(t, inj.Enabled())

	for i := 0; i < 1000; i++ {
		require.False(t, inj.ShouldFail())
	}
	require.Zero(t, testutil.ToFloat64(inj))
}

func TestEnabledFaultRateWithinTolerance(t *testing.T) {
	inj := NewInjector(DefaultFaultRate, WithSeed(42))
	inj.Enable()

	const trials = 10000
	faults := 0
	for i := 0; i < trials; i++ {
		if inj.ShouldFail() {
			faults++
		}
	}

	// 4 standard deviations of a binomial(10000, 0.1) is 120.
	sigma := math.Sqrt(trials * DefaultFaultRate * (1 - DefaultFaultRate))
	require.InDelta(t, trials*DefaultFaultRate, float64(faults), 4*sigma)
	require.Equal(t, float64(faults), testutil.ToFloat64(inj))
}

func TestSeededSequenceIsReproducible(t *testing.T) {
	a := NewInjector(0.5, WithSeed(7), WithEnabled(true))
	b := NewInjector(0.5, WithSeed(7), WithEnabled(true))

	for i := 0; i < 100; i++ {
		require.Equal(t, a.ShouldFail(), b.ShouldFail())
	}
}

func TestToggleIsIdempotent(t *testing.T) {
	inj := NewInjector(1)

	inj.Enable()
	inj.Enable()
	require.True(t, inj.Enabled())
	require.True(t, inj.ShouldFail())

	inj.Disable()
	inj.Disable()
	require.False(t, inj.Enabled())
	require.False(t, inj.ShouldFail())
}

func TestRateClamped(t *testing.T) {
	require.Equal(t, 0.0, NewInjector(-1).Rate())
	require.Equal(t, 1.0, NewInjector(3).Rate())
}
