// Package lifecycle contains the pure rules shared by guarantee instances and
// campaign enrollments: transition tables, milestone aggregation and window
// expiry. Nothing here performs I/O.
package lifecycle

import (
	"fmt"
	"math"
	"time"
)

// Table maps a from-state and an event to the resulting state. Pairs that are
// absent from the table are illegal.
type Table[S ~string, E ~string] map[S]map[E]S

// Next returns the state reached by applying ev in from.
func (t Table[S, E]) Next(from S, ev E) (S, bool) {
	to, ok := t[from][ev]
	return to, ok
}

// Allows reports whether ev may be applied in from.
func (t Table[S, E]) Allows(from S, ev E) bool {
	_, ok := t.Next(from, ev)
	return ok
}

// Sources lists every state from which ev is legal.
func (t Table[S, E]) Sources(ev E) []S {
	out := make([]S, 0, len(t))
	for from, events := range t {
		if _, ok := events[ev]; ok {
			out = append(out, from)
		}
	}
	return out
}

// TransitionError is returned when an event is applied in a state that does
// not allow it.
type TransitionError struct {
	Entity string
	Verb   string
	From   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("Cannot %s %s with status: %s", e.Verb, e.Entity, e.From)
}

// MilestoneStatus is the verification state of a single milestone or
// criterion progress row.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneMet        MilestoneStatus = "met"
	MilestoneNotMet     MilestoneStatus = "not_met"
	MilestoneWaived     MilestoneStatus = "waived"
)

// Satisfied reports whether the status counts toward the criteria-met check.
func (s MilestoneStatus) Satisfied() bool {
	return s == MilestoneMet || s == MilestoneWaived
}

// Verdict reports whether s is a status an admin may set when verifying.
func (s MilestoneStatus) Verdict() bool {
	return s == MilestoneMet || s == MilestoneNotMet || s == MilestoneWaived
}

// Progress is the derived percentage stored alongside a verified status.
func (s MilestoneStatus) Progress() int {
	if s.Satisfied() {
		return 100
	}
	return 0
}

// Requirement is the minimal view of a milestone needed for aggregation.
type Requirement interface {
	IsRequired() bool
	CurrentStatus() MilestoneStatus
}

// AllRequiredMet is true when every required row is met or waived. Optional
// rows never block. It is recomputed from the rows every time; no aggregate is
// cached anywhere.
func AllRequiredMet[R Requirement](rows []R) bool {
	for _, r := range rows {
		if r.IsRequired() && !r.CurrentStatus().Satisfied() {
			return false
		}
	}
	return true
}

// Outstanding returns the required rows that still block completion.
func Outstanding[R Requirement](rows []R) []R {
	out := make([]R, 0)
	for _, r := range rows {
		if r.IsRequired() && !r.CurrentStatus().Satisfied() {
			out = append(out, r)
		}
	}
	return out
}

// CompletionPercent is round(satisfied / total * 100) over all rows.
func CompletionPercent[R Requirement](rows []R) int {
	if len(rows) == 0 {
		return 0
	}
	done := 0
	for _, r := range rows {
		if r.CurrentStatus().Satisfied() {
			done++
		}
	}
	return int(math.Round(float64(done) / float64(len(rows)) * 100))
}

const day = 24 * time.Hour

// IsExpired reports whether at least durationDays full days have elapsed
// since start.
func IsExpired(start time.Time, durationDays int, now time.Time) bool {
	return now.Sub(start) >= time.Duration(durationDays)*day
}

// WindowEnd is start plus durationDays.
func WindowEnd(start time.Time, durationDays int) time.Time {
	return start.Add(time.Duration(durationDays) * day)
}

// DaysRemaining is the number of started days left before end, never negative.
func DaysRemaining(end, now time.Time) int {
	left := end.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}
