// Package streak derives the daily login streak.
//
// Calendar days are UTC days. A user's local midnight is not considered.
package streak

import "time"

// Change describes what a session start did to the streak.
type Change string

const (
	Started     Change = "started"     // first recorded login
	Unchanged   Change = "unchanged"   // same UTC day as the last login
	Incremented Change = "incremented" // the UTC day right after the last login
	Reset       Change = "reset"       // a gap of two or more days
)

// Result is the outcome of Apply.
type Result struct {
	Streak      int       `json:"streak"`
	Previous    int       `json:"previous"`
	Change      Change    `json:"change"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// Changed reports whether the stored counter moved.
func (r Result) Changed() bool { return r.Streak != r.Previous }

// Apply computes the streak after a session start at now. A now earlier
// than last (clock skew) leaves both the streak and last login untouched.
func Apply(current int, last *time.Time, now time.Time) Result {
	now = now.UTC()
	res := Result{Previous: current, LastLoginAt: now}

	if last == nil || last.IsZero() {
		res.Streak = 1
		res.Change = Started
		return res
	}

	gap := DayNumber(now) - DayNumber(*last)
	switch {
	case gap < 0:
		res.Streak = max(current, 1)
		res.Change = Unchanged
		res.LastLoginAt = last.UTC()
	case gap == 0:
		res.Streak = max(current, 1)
		res.Change = Unchanged
	case gap == 1:
		res.Streak = max(current, 0) + 1
		res.Change = Incremented
	default:
		res.Streak = 1
		res.Change = Reset
	}
	return res
}

// DayNumber is the number of whole UTC days since the Unix epoch.
func DayNumber(t time.Time) int64 {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// BonusDue reports whether reaching streak earns the periodic bonus.
func BonusDue(r Result, every int) bool {
	return every > 0 && r.Change == Incremented && r.Streak%every == 0
}
