// Package decision classifies whether the user has to leave for the next
// event.
package decision

import (
	"fmt"
	"time"
)

// Verdict is the outcome of Decide.
type Verdict int

const (
	NoEvents Verdict = iota
	TimeLeft
	LeaveNow
	Late
)

func (v Verdict) String() string {
	switch v {
	case NoEvents:
		return "no-events"
	case TimeLeft:
		return "time-left"
	case LeaveNow:
		return "leave-now"
	case Late:
		return "late"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Result carries the verdict and, for TimeLeft and Late, how far the
// arrival is from the event start. Margin is always non-negative.
type Result struct {
	Verdict Verdict
	Margin  time.Duration
}

func (r Result) String() string {
	switch r.Verdict {
	case TimeLeft, Late:
		return fmt.Sprintf("%s (%s)", r.Verdict, r.Margin)
	default:
		return r.Verdict.String()
	}
}

// Decide compares the arrival time now+eta with start. Arrivals within
// epsilon of start, in either direction, mean leave now.
func Decide(now, start time.Time, eta, epsilon time.Duration) Result {
	if epsilon < 0 {
		epsilon = -epsilon
	}
	arrival := now.Add(eta)
	diff := start.Sub(arrival)

	switch {
	case diff > epsilon:
		return Result{Verdict: TimeLeft, Margin: diff}
	case diff < -epsilon:
		return Result{Verdict: Late, Margin: -diff}
	default:
		return Result{Verdict: LeaveNow}
	}
}
