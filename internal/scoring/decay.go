package scoring

import "time"

// Decay returns the linear time-decay factor for an event of the given age:
// 1.0 at age zero, falling to floor at the window boundary and clamped there
// beyond it. Negative ages (clock skew) count as fresh.
func Decay(age, window time.Duration, floor float64) float64 {
	if age <= 0 {
		return 1
	}
	if window <= 0 || age >= window {
		return floor
	}
	f := 1 - (1-floor)*float64(age)/float64(window)
	if f < floor {
		return floor
	}
	return f
}
