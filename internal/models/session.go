package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MeetingType identifies where a session takes place.
type MeetingType string

const (
	MeetingZoom       MeetingType = "zoom"
	MeetingGoogleMeet MeetingType = "google-meet"
	MeetingTeams      MeetingType = "microsoft-teams"
	MeetingInPerson   MeetingType = "in-person"
)

// Stored session statuses. The store owns this field; the service only
// reads it and derives finer-grained presentation state from the clock.
const (
	SessionScheduled = "scheduled"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

// Payment statuses. Payment state lives on its own row, never on the
// session, so a payment write can never leave the session half-updated.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

type Session struct {
	ID              int64           `json:"id"`
	MentorID        int64           `json:"mentor_id"`
	LearnerID       *int64          `json:"learner_id"` // nil = open slot, bookable
	ScheduledAt     time.Time       `json:"scheduled_at"`
	DurationMinutes int             `json:"duration_minutes"`
	MeetingType     MeetingType     `json:"meeting_type"`
	MeetingLink     *string         `json:"meeting_link,omitempty"`
	AmountUSD       decimal.Decimal `json:"amount_usd"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EndsAt is the session's end instant.
func (s *Session) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Unassigned reports whether the slot has no learner yet.
func (s *Session) Unassigned() bool {
	return s.LearnerID == nil
}

type Payment struct {
	ID        int64           `json:"id"`
	SessionID int64           `json:"session_id"`
	LearnerID int64           `json:"learner_id"`
	MentorID  int64           `json:"mentor_id"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}
