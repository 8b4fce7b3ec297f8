package poll

import (
	"math"
	"math/rand/v2"
	"time"
)

// RandSource is a uniform pseudo-random source in [0, 1). Tests substitute a
// deterministic one; production defaults to math/rand/v2.
type RandSource func() float64

func defaultRandSource() float64 { return rand.Float64() }

// jitter perturbs base by up to ±factor as a fraction of base, then clamps
// the result to [min, max]. factor == 0 disables perturbation entirely.
//
// A factor of zero returns base unperturbed (still clamped); this is the
// only behavior callers may rely on beyond the clamp itself.
func jitter(base time.Duration, factor float64, min, max time.Duration, rnd RandSource) time.Duration {
	if factor == 0 {
		return clampDuration(base, min, max)
	}

	direction := 1.0
	if rnd() < 0.5 {
		direction = -1.0
	}
	eps := rnd()
	delta := eps * float64(base) * math.Abs(factor) * direction

	candidate := time.Duration(math.Abs(float64(base) + delta))
	return clampDuration(candidate, min, max)
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
