package policy

import (
	"github.com/clinton-khozah/website-sub002/internal/lifecycle"
	"github.com/clinton-khozah/website-sub002/internal/models"
)

type Role string

const (
	RoleMentor  Role = "mentor"
	RoleLearner Role = "learner"
	RoleGuest   Role = "guest"
)

// Viewer identifies who an access decision is computed for.
type Viewer struct {
	Role   Role  `json:"role"`
	UserID int64 `json:"user_id,omitempty"`
}

func Mentor(id int64) Viewer {
	return Viewer{Role: RoleMentor, UserID: id}
}

func Learner(id int64) Viewer {
	return Viewer{Role: RoleLearner, UserID: id}
}

func Guest() Viewer {
	return Viewer{Role: RoleGuest}
}

// Action is the single thing a viewer may do with a session.
type Action string

const (
	ActionViewCancelled   Action = "view_cancelled"
	ActionViewPast        Action = "view_past"
	ActionAwaitingLearner Action = "awaiting_learner"
	ActionViewAsMentor    Action = "view_as_mentor"
	ActionJoinNow         Action = "join_now"
	ActionShowCountdown   Action = "show_countdown"
	ActionPayToJoin       Action = "pay_to_join"
	ActionBookSlot        Action = "book_slot"
	ActionReadOnly        Action = "read_only"
	ActionInPersonNotice  Action = "in_person_notice"
	ActionUnavailable     Action = "unavailable"
)

type Decision struct {
	Action            Action `json:"action"`
	CanSeeMeetingLink bool   `json:"can_see_meeting_link"`
}

// Decide maps a session, its lifecycle state, the viewer and the
// payment flag to the one permitted action and whether the meeting
// link may be revealed. Terminal states trump everything, then mentor
// ownership, then learner ownership gated on payment. The link is
// never shown before payment clears, not even to the owning mentor.
func Decide(session models.Session, state lifecycle.State, viewer Viewer, isPaid bool) Decision {
	// Free sessions skip the payment gate. Explicit rather than
	// inferred so a data error can never quietly grant access.
	if session.AmountUSD.IsZero() {
		isPaid = true
	}

	decision := decide(session, state, viewer, isPaid)

	// In-person sessions never expose a link, and a would-be join
	// becomes a notice to show up at the agreed place.
	if session.MeetingType == models.MeetingInPerson {
		decision.CanSeeMeetingLink = false
		if decision.Action == ActionJoinNow ||
			(decision.Action == ActionViewAsMentor && state == lifecycle.StateInProgress) {
			decision.Action = ActionInPersonNotice
		}
	}
	return decision
}

func decide(session models.Session, state lifecycle.State, viewer Viewer, isPaid bool) Decision {
	switch state {
	case lifecycle.StateCancelled:
		return Decision{Action: ActionViewCancelled}
	case lifecycle.StateCompleted:
		return Decision{Action: ActionViewPast}
	}

	if viewer.Role == RoleMentor && viewer.UserID == session.MentorID {
		if session.Unassigned() {
			return Decision{Action: ActionAwaitingLearner}
		}
		return Decision{Action: ActionViewAsMentor, CanSeeMeetingLink: isPaid}
	}

	if session.Unassigned() {
		// Open slots are bookable by anyone except the owning mentor,
		// who was handled above.
		return Decision{Action: ActionBookSlot}
	}

	if viewer.Role == RoleLearner && *session.LearnerID == viewer.UserID {
		if !isPaid {
			return Decision{Action: ActionPayToJoin}
		}
		if state == lifecycle.StateInProgress {
			return Decision{Action: ActionJoinNow, CanSeeMeetingLink: true}
		}
		return Decision{Action: ActionShowCountdown}
	}

	return Decision{Action: ActionReadOnly}
}
