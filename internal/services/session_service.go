package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/clinton-khozah/website-sub002/internal/clock"
	"github.com/clinton-khozah/website-sub002/internal/currency"
	"github.com/clinton-khozah/website-sub002/internal/lifecycle"
	"github.com/clinton-khozah/website-sub002/internal/models"
	"github.com/clinton-khozah/website-sub002/internal/policy"
	"github.com/clinton-khozah/website-sub002/internal/presenter"
	"github.com/clinton-khozah/website-sub002/internal/repository"
)

var (
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidInput           = errors.New("invalid input")
)

type sessionStore interface {
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
	List(ctx context.Context, filter repository.SessionListFilter) ([]models.Session, error)
	ListOpenSlots(ctx context.Context, after time.Time, limit int, offset int) ([]models.Session, error)
	CountOpenSlots(ctx context.Context, after time.Time) (int, error)
	UpdateStatusIfCurrent(ctx context.Context, sessionID int64, currentStatus, nextStatus string) (*models.Session, error)
}

type paymentStore interface {
	Create(ctx context.Context, input repository.CreatePaymentInput) (*models.Payment, error)
	GetLatestBySessionID(ctx context.Context, sessionID int64) (*models.Payment, error)
	ListBySessionIDs(ctx context.Context, sessionIDs []int64) (map[int64]models.Payment, error)
	UpdateStatusIfCurrent(ctx context.Context, paymentID int64, currentStatus, nextStatus string) (*models.Payment, error)
}

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// SessionService sits between the stores and the pure decision core.
// It resolves the three boundary inputs (session row, payment status,
// display price), applies safe fallbacks, and only then invokes
// classify/decide/present.
type SessionService struct {
	sessions     sessionStore
	payments     paymentStore
	users        userReader
	converter    currency.Converter
	clock        clock.Clock
	fetchTimeout time.Duration
	log          zerolog.Logger
}

func NewSessionService(
	sessions sessionStore,
	payments paymentStore,
	users userReader,
	converter currency.Converter,
	clk clock.Clock,
	fetchTimeout time.Duration,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions:     sessions,
		payments:     payments,
		users:        users,
		converter:    converter,
		clock:        clk,
		fetchTimeout: fetchTimeout,
		log:          log,
	}
}

// SessionView is everything the presentation layer needs for one
// session as seen by one viewer. The embedded session is scrubbed: the
// meeting link is only present when the decision allows it.
type SessionView struct {
	Session    models.Session           `json:"session"`
	MentorName string                   `json:"mentor_name,omitempty"`
	State      lifecycle.State          `json:"state"`
	IsPaid     bool                     `json:"is_paid"`
	Decision   policy.Decision          `json:"decision"`
	Price      string                   `json:"price"`
	Affordance presenter.AffordanceSpec `json:"affordance"`
}

func (s *SessionService) ViewSession(
	ctx context.Context,
	viewer policy.Viewer,
	sessionID int64,
	location string,
) (*SessionView, error) {
	if sessionID <= 0 {
		return nil, ErrInvalidInput
	}

	type sessionResult struct {
		session *models.Session
		err     error
	}
	type paymentResult struct {
		payment *models.Payment
		err     error
	}

	// The session row and the payment record live in different stores
	// and have no ordering dependency, so fetch them concurrently,
	// each on its own deadline.
	sessionCh := make(chan sessionResult, 1)
	paymentCh := make(chan paymentResult, 1)

	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		session, err := s.sessions.GetByID(fetchCtx, sessionID)
		sessionCh <- sessionResult{session: session, err: err}
	}()
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		payment, err := s.payments.GetLatestBySessionID(fetchCtx, sessionID)
		paymentCh <- paymentResult{payment: payment, err: err}
	}()

	sessionRes := <-sessionCh
	paymentRes := <-paymentCh

	if sessionRes.err != nil {
		return nil, sessionRes.err
	}

	// An unknown payment state is unpaid. Never fail open.
	isPaid := false
	switch {
	case paymentRes.err == nil:
		isPaid = paymentRes.payment.Status == models.PaymentPaid
	case errors.Is(paymentRes.err, pgx.ErrNoRows):
		// no payment record yet
	default:
		s.log.Warn().
			Err(paymentRes.err).
			Int64("session_id", sessionID).
			Msg("payment lookup failed, treating session as unpaid")
	}

	return s.buildView(ctx, viewer, *sessionRes.session, isPaid, location), nil
}

func (s *SessionService) ListSessions(
	ctx context.Context,
	viewer policy.Viewer,
	filter repository.SessionListFilter,
	location string,
) ([]SessionView, error) {
	if viewer.Role != policy.RoleMentor && viewer.Role != policy.RoleLearner {
		return nil, ErrForbidden
	}

	filter.ActorID = viewer.UserID
	filter.Role = string(viewer.Role)

	sessions, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	sessionIDs := make([]int64, 0, len(sessions))
	for _, session := range sessions {
		sessionIDs = append(sessionIDs, session.ID)
	}

	paymentsBySession, err := s.payments.ListBySessionIDs(ctx, sessionIDs)
	if err != nil {
		s.log.Warn().Err(err).Msg("batch payment lookup failed, treating sessions as unpaid")
		paymentsBySession = map[int64]models.Payment{}
	}

	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		isPaid := false
		if payment, ok := paymentsBySession[session.ID]; ok {
			isPaid = payment.Status == models.PaymentPaid
		}
		views = append(views, *s.buildView(ctx, viewer, session, isPaid, location))
	}

	return views, nil
}

// ListOpenSlots returns a page of publicly bookable slots: unassigned
// and still ahead of the clock. Guests are welcome here. The second
// return value is the total number of open slots.
func (s *SessionService) ListOpenSlots(
	ctx context.Context,
	viewer policy.Viewer,
	location string,
	limit int,
	offset int,
) ([]SessionView, int, error) {
	now := s.clock.Now()

	slots, err := s.sessions.ListOpenSlots(ctx, now, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.sessions.CountOpenSlots(ctx, now)
	if err != nil {
		return nil, 0, err
	}

	views := make([]SessionView, 0, len(slots))
	for _, slot := range slots {
		views = append(views, *s.buildView(ctx, viewer, slot, false, location))
	}
	return views, total, nil
}

// UpdateStatus is the externally-owned mutation surface for the stored
// status. A learner may cancel their own scheduled session; a mentor
// may cancel, or mark their session completed once its window is over.
// The decision core itself never writes this field.
func (s *SessionService) UpdateStatus(
	ctx context.Context,
	viewer policy.Viewer,
	sessionID int64,
	requestedStatus string,
	location string,
) (*SessionView, error) {
	if sessionID <= 0 {
		return nil, ErrInvalidInput
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	nextStatus, err := normalizeRequestedStatus(requestedStatus)
	if err != nil {
		return nil, err
	}
	if err := s.validateStatusTransition(viewer, session, nextStatus); err != nil {
		return nil, err
	}

	if _, err := s.sessions.UpdateStatusIfCurrent(ctx, sessionID, session.Status, nextStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	return s.ViewSession(ctx, viewer, sessionID, location)
}

// RecordPaymentEvent ingests a payment processor callback. Replays are
// idempotent and a settled payment is never regressed; a failed
// payment that later succeeds settles as a fresh record, since the
// latest row is authoritative.
func (s *SessionService) RecordPaymentEvent(
	ctx context.Context,
	sessionID int64,
	status string,
) (*models.Payment, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != models.PaymentPaid && status != models.PaymentFailed {
		return nil, ErrInvalidStatus
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.GetLatestBySessionID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		if session.Unassigned() {
			return nil, ErrInvalidStateTransition
		}
		return s.payments.Create(ctx, repository.CreatePaymentInput{
			SessionID: session.ID,
			LearnerID: *session.LearnerID,
			MentorID:  session.MentorID,
			AmountUSD: session.AmountUSD,
			Status:    status,
		})
	}
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case status:
		return payment, nil
	case models.PaymentPending:
		updated, err := s.payments.UpdateStatusIfCurrent(ctx, payment.ID, models.PaymentPending, status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrInvalidStateTransition
			}
			return nil, err
		}
		return updated, nil
	case models.PaymentFailed:
		return s.payments.Create(ctx, repository.CreatePaymentInput{
			SessionID: payment.SessionID,
			LearnerID: payment.LearnerID,
			MentorID:  payment.MentorID,
			AmountUSD: payment.AmountUSD,
			Status:    status,
		})
	default:
		// Incoming "failed" for a settled payment would be a refund,
		// which is out of scope here; keep the settled row.
		return payment, nil
	}
}

func (s *SessionService) buildView(
	ctx context.Context,
	viewer policy.Viewer,
	session models.Session,
	isPaid bool,
	location string,
) *SessionView {
	now := s.clock.Now()
	state := lifecycle.Classify(session, now)
	decision := policy.Decide(session, state, viewer, isPaid)
	price := s.displayPrice(ctx, session, location)
	affordance := presenter.Present(decision, session, now, price)

	view := &SessionView{
		Session:    session,
		State:      state,
		IsPaid:     isPaid,
		Decision:   decision,
		Price:      price,
		Affordance: affordance,
	}
	if view.Price == "" {
		view.Price = presenter.FallbackPrice(session.AmountUSD)
	}

	// Never ship a link the viewer may not see.
	if !decision.CanSeeMeetingLink {
		view.Session.MeetingLink = nil
	}

	if mentor, err := s.users.GetByID(ctx, session.MentorID); err == nil && mentor.FullName != nil {
		view.MentorName = *mentor.FullName
	}

	return view
}

// displayPrice runs the conversion collaborator on its own deadline.
// Conversion failure is non-fatal and never surfaces to the caller; it
// returns "" and the presenter uses the USD literal.
func (s *SessionService) displayPrice(ctx context.Context, session models.Session, location string) string {
	convertCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	price, err := s.converter.Convert(convertCtx, session.AmountUSD, location)
	if err != nil {
		s.log.Debug().
			Err(err).
			Int64("session_id", session.ID).
			Msg("currency conversion failed, falling back to USD")
		return ""
	}
	return price
}

func normalizeRequestedStatus(status string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "complete", "completed":
		return models.SessionCompleted, nil
	case "cancel", "cancelled", "canceled":
		return models.SessionCancelled, nil
	default:
		return "", ErrInvalidStatus
	}
}

func (s *SessionService) validateStatusTransition(
	viewer policy.Viewer,
	session *models.Session,
	nextStatus string,
) error {
	if session.Status == models.SessionCompleted || session.Status == models.SessionCancelled {
		return ErrInvalidStateTransition
	}

	switch viewer.Role {
	case policy.RoleLearner:
		if session.Unassigned() || *session.LearnerID != viewer.UserID {
			return ErrForbidden
		}
		if nextStatus != models.SessionCancelled {
			return ErrForbidden
		}
		return nil
	case policy.RoleMentor:
		if session.MentorID != viewer.UserID {
			return ErrForbidden
		}
		if nextStatus == models.SessionCompleted && s.clock.Now().Before(session.EndsAt()) {
			return ErrInvalidStateTransition
		}
		return nil
	default:
		return ErrForbidden
	}
}
