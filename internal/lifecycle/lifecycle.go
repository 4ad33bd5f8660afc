package lifecycle

import (
	"time"

	"github.com/clinton-khozah/website-sub002/internal/models"
)

// State is the derived temporal classification of a session. It is
// computed from the stored status plus the clock and never persisted;
// the store only distinguishes scheduled, completed and cancelled.
type State string

const (
	StateCancelled  State = "cancelled"
	StateCompleted  State = "completed"
	StateInProgress State = "in_progress"
	StateUpcoming   State = "upcoming"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateCompleted
}

// Classify maps a session and an instant to exactly one State.
//
// Cancellation always wins. A session past its end instant classifies
// as completed even while the stored status still says scheduled; the
// store catches up on its own schedule and we never write to it here.
// Malformed sessions (non-positive duration, zero start) classify as
// completed so bad data can never grant access.
//
// The live window is [scheduled_at, end): a session exactly at its end
// instant has ended, one exactly at its start instant is in progress.
func Classify(session models.Session, now time.Time) State {
	if session.Status == models.SessionCancelled {
		return StateCancelled
	}
	if session.DurationMinutes <= 0 || session.ScheduledAt.IsZero() {
		return StateCompleted
	}
	if session.Status == models.SessionCompleted {
		return StateCompleted
	}
	if now.Before(session.ScheduledAt) {
		return StateUpcoming
	}
	if now.Before(session.EndsAt()) {
		return StateInProgress
	}
	return StateCompleted
}

// NextTransition returns the next instant at which Classify's result
// for this session can change, and false when no further transition is
// possible. Hosts use it to schedule re-evaluation ticks.
func NextTransition(session models.Session, now time.Time) (time.Time, bool) {
	state := Classify(session, now)
	switch state {
	case StateUpcoming:
		return session.ScheduledAt, true
	case StateInProgress:
		return session.EndsAt(), true
	default:
		return time.Time{}, false
	}
}
