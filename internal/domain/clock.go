package domain

import "time"

// Deadline math is deliberately a pair of pure functions shared by the
// attempt ledger and the scoring engine. There is no timer process anywhere:
// expiry is computed on demand from start time and duration, so both callers
// must agree exactly on the arithmetic.
//
// Timestamps read back from storage may carry a different location than the
// ones handed in; everything is coerced to UTC before subtraction so that
// mixed-awareness comparisons cannot occur.

// RemainingSeconds returns the whole seconds left on an attempt, floored at 0.
func RemainingSeconds(start time.Time, durationMinutes int, now time.Time) int {
	elapsed := now.UTC().Sub(start.UTC())
	remaining := time.Duration(durationMinutes)*time.Minute - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// IsExpired reports whether the attempt's deadline has passed. The boundary
// instant itself (elapsed == duration) still counts as in time.
func IsExpired(start time.Time, durationMinutes int, now time.Time) bool {
	elapsed := now.UTC().Sub(start.UTC())
	return elapsed > time.Duration(durationMinutes)*time.Minute
}
