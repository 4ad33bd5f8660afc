package presenter

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clinton-khozah/website-sub002/internal/models"
	"github.com/clinton-khozah/website-sub002/internal/policy"
)

// AffordanceSpec describes the single UI affordance a viewer gets for
// a session. Rendering it is the front end's job.
type AffordanceSpec struct {
	Label           string     `json:"label"`
	Enabled         bool       `json:"enabled"`
	Href            *string    `json:"href,omitempty"`
	CountdownTarget *time.Time `json:"countdown_target,omitempty"`
}

// FallbackPrice is the deterministic display used whenever currency
// conversion is unavailable.
func FallbackPrice(amountUSD decimal.Decimal) string {
	return "$" + amountUSD.StringFixed(2)
}

// Present maps an access decision onto an affordance. It takes now
// only to phrase countdown text and to hold the mentor's room link
// until the window opens; lifecycle classification happened upstream
// and is never recomputed here. An empty price means the conversion
// collaborator failed and the USD literal is used instead.
func Present(decision policy.Decision, session models.Session, now time.Time, price string) AffordanceSpec {
	if price == "" {
		price = FallbackPrice(session.AmountUSD)
	}

	switch decision.Action {
	case policy.ActionViewCancelled:
		return AffordanceSpec{Label: "Session cancelled"}
	case policy.ActionViewPast:
		return AffordanceSpec{Label: "Session ended"}
	case policy.ActionAwaitingLearner:
		return AffordanceSpec{Label: "Waiting for a learner to book"}
	case policy.ActionViewAsMentor:
		// The mentor's room link only becomes an enabled affordance
		// once the window opens; before that the link is visible in
		// the payload but the affordance counts down.
		if decision.CanSeeMeetingLink && session.MeetingLink != nil && !now.Before(session.ScheduledAt) {
			return AffordanceSpec{Label: "Open session room", Enabled: true, Href: session.MeetingLink}
		}
		target := session.ScheduledAt
		if now.Before(target) {
			return AffordanceSpec{
				Label:           "Starts in " + formatCountdown(now, target),
				CountdownTarget: &target,
			}
		}
		return AffordanceSpec{Label: "Session details"}
	case policy.ActionJoinNow:
		spec := AffordanceSpec{Label: "Join session", Enabled: true}
		if decision.CanSeeMeetingLink {
			spec.Href = session.MeetingLink
		}
		return spec
	case policy.ActionShowCountdown:
		target := session.ScheduledAt
		return AffordanceSpec{
			Label:           "Starts in " + formatCountdown(now, target),
			CountdownTarget: &target,
		}
	case policy.ActionPayToJoin:
		return AffordanceSpec{Label: fmt.Sprintf("Pay %s to join", price), Enabled: true}
	case policy.ActionBookSlot:
		return AffordanceSpec{Label: fmt.Sprintf("Book this slot for %s", price), Enabled: true}
	case policy.ActionInPersonNotice:
		return AffordanceSpec{Label: "This session meets in person"}
	case policy.ActionReadOnly:
		return AffordanceSpec{Label: "View only"}
	default:
		return AffordanceSpec{Label: "Can't load session"}
	}
}

// formatCountdown renders the remaining time in the largest two units,
// e.g. "2d 3h", "1h 05m", "25m".
func formatCountdown(now, target time.Time) string {
	remaining := target.Sub(now)
	if remaining < time.Minute {
		return "under a minute"
	}
	remaining = remaining.Round(time.Minute)

	days := remaining / (24 * time.Hour)
	remaining -= days * 24 * time.Hour
	hours := remaining / time.Hour
	minutes := (remaining % time.Hour) / time.Minute

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %02dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
