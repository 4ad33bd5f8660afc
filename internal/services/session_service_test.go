package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinton-khozah/website-sub002/internal/clock"
	"github.com/clinton-khozah/website-sub002/internal/lifecycle"
	"github.com/clinton-khozah/website-sub002/internal/models"
	"github.com/clinton-khozah/website-sub002/internal/policy"
	"github.com/clinton-khozah/website-sub002/internal/repository"
)

var (
	sessionStart = time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	meetingLink  = "https://meet.example.com/abc"
)

type stubSessions struct {
	byID       map[int64]models.Session
	openSlots  []models.Session
	listResult []models.Session
	listErr    error
	lastFilter repository.SessionListFilter
	updateErr  error
	updates    [][3]any
}

func (s *stubSessions) GetByID(_ context.Context, sessionID int64) (*models.Session, error) {
	session, ok := s.byID[sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := session
	return &copied, nil
}

func (s *stubSessions) List(_ context.Context, filter repository.SessionListFilter) ([]models.Session, error) {
	s.lastFilter = filter
	return s.listResult, s.listErr
}

func (s *stubSessions) ListOpenSlots(_ context.Context, _ time.Time, _ int, _ int) ([]models.Session, error) {
	return s.openSlots, nil
}

func (s *stubSessions) CountOpenSlots(_ context.Context, _ time.Time) (int, error) {
	return len(s.openSlots), nil
}

func (s *stubSessions) UpdateStatusIfCurrent(_ context.Context, sessionID int64, currentStatus, nextStatus string) (*models.Session, error) {
	s.updates = append(s.updates, [3]any{sessionID, currentStatus, nextStatus})
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	session, ok := s.byID[sessionID]
	if !ok || session.Status != currentStatus {
		return nil, pgx.ErrNoRows
	}
	session.Status = nextStatus
	s.byID[sessionID] = session
	return &session, nil
}

type stubPayments struct {
	latest  map[int64]models.Payment
	getErr  error
	listErr error
	created []repository.CreatePaymentInput
	updated [][3]any
}

func (s *stubPayments) Create(_ context.Context, input repository.CreatePaymentInput) (*models.Payment, error) {
	s.created = append(s.created, input)
	payment := models.Payment{
		ID:        int64(100 + len(s.created)),
		SessionID: input.SessionID,
		LearnerID: input.LearnerID,
		MentorID:  input.MentorID,
		AmountUSD: input.AmountUSD,
		Status:    input.Status,
	}
	s.latest[input.SessionID] = payment
	return &payment, nil
}

func (s *stubPayments) GetLatestBySessionID(_ context.Context, sessionID int64) (*models.Payment, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	payment, ok := s.latest[sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := payment
	return &copied, nil
}

func (s *stubPayments) ListBySessionIDs(_ context.Context, sessionIDs []int64) (map[int64]models.Payment, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	result := make(map[int64]models.Payment)
	for _, id := range sessionIDs {
		if payment, ok := s.latest[id]; ok {
			result[id] = payment
		}
	}
	return result, nil
}

func (s *stubPayments) UpdateStatusIfCurrent(_ context.Context, paymentID int64, currentStatus, nextStatus string) (*models.Payment, error) {
	s.updated = append(s.updated, [3]any{paymentID, currentStatus, nextStatus})
	for sessionID, payment := range s.latest {
		if payment.ID == paymentID && payment.Status == currentStatus {
			payment.Status = nextStatus
			s.latest[sessionID] = payment
			return &payment, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type stubUsers struct {
	byID map[int64]models.User
}

func (s *stubUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	user, ok := s.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := user
	return &copied, nil
}

type stubConverter struct {
	result string
	err    error
	calls  int
}

func (s *stubConverter) Convert(_ context.Context, _ decimal.Decimal, _ string) (string, error) {
	s.calls++
	return s.result, s.err
}

type fixture struct {
	sessions  *stubSessions
	payments  *stubPayments
	users     *stubUsers
	converter *stubConverter
	clock     *clock.Fixed
	service   *SessionService
}

func newFixture(now time.Time) *fixture {
	name := "Ada Mentor"
	f := &fixture{
		sessions:  &stubSessions{byID: map[int64]models.Session{}},
		payments:  &stubPayments{latest: map[int64]models.Payment{}},
		users:     &stubUsers{byID: map[int64]models.User{10: {ID: 10, FullName: &name, Role: models.RoleMentor}}},
		converter: &stubConverter{result: "€36.80"},
		clock:     clock.NewFixed(now),
	}
	f.service = NewSessionService(
		f.sessions, f.payments, f.users, f.converter, f.clock, time.Second, zerolog.Nop(),
	)
	return f
}

func (f *fixture) addSession(id int64, learner *int64, status string) models.Session {
	session := models.Session{
		ID:              id,
		MentorID:        10,
		LearnerID:       learner,
		ScheduledAt:     sessionStart,
		DurationMinutes: 60,
		MeetingType:     models.MeetingZoom,
		MeetingLink:     &meetingLink,
		AmountUSD:       decimal.NewFromInt(40),
		Status:          status,
	}
	f.sessions.byID[id] = session
	return session
}

func learnerPtr(id int64) *int64 {
	return &id
}

func TestViewSessionPaidLearnerInProgress(t *testing.T) {
	f := newFixture(sessionStart.Add(30 * time.Minute))
	f.addSession(1, learnerPtr(42), models.SessionScheduled)
	f.payments.latest[1] = models.Payment{ID: 7, SessionID: 1, Status: models.PaymentPaid}

	view, err := f.service.ViewSession(context.Background(), policy.Learner(42), 1, "de")
	if err != nil {
		t.Fatalf("ViewSession: %v", err)
	}

	if view.State != lifecycle.StateInProgress {
		t.Fatalf("expected in_progress, got %s", view.State)
	}
	if view.Decision.Action != policy.ActionJoinNow || !view.Decision.CanSeeMeetingLink {
		t.Fatalf("unexpected decision %+v", view.Decision)
	}
	if view.Session.MeetingLink == nil || *view.Session.MeetingLink != meetingLink {
		t.Fatal("paid learner should receive the meeting link")
	}
	if view.Price != "€36.80" {
		t.Fatalf("expected converted price, got %q", view.Price)
	}
	if view.MentorName != "Ada Mentor" {
		t.Fatalf("expected mentor name, got %q", view.MentorName)
	}
	if view.Affordance.Href == nil {
		t.Fatal("join affordance should carry the link")
	}
}

func TestViewSessionPaymentLookupFailureFailsClosed(t *testing.T) {
	f := newFixture(sessionStart.Add(-time.Hour))
	f.addSession(1, learnerPtr(42), models.SessionScheduled)
	f.payments.getErr = errors.New("payment store down")

	view, err := f.service.ViewSession(context.Background(), policy.Learner(42), 1, "")
	if err != nil {
		t.Fatalf("ViewSession: %v", err)
	}

	if view.IsPaid {
		t.Fatal("unknown payment state must be treated as unpaid")
	}
	if view.Decision.Action != policy.ActionPayToJoin {
		t.Fatalf("expected pay_to_join, got %s", view.Decision.Action)
	}
	if view.Session.MeetingLink != nil {
		t.Fatal("link must be scrubbed when not visible")
	}
}

func TestViewSessionConversionFailureFallsBackToUSD(t *testing.T) {
	f := newFixture(sessionStart.Add(-time.Hour))
	f.addSession(1, learnerPtr(42), models.SessionScheduled)
	f.converter.err = errors.New("rates API down")

	view, err := f.service.ViewSession(context.Background(), policy.Learner(42), 1, "de")
	if err != nil {
		t.Fatalf("ViewSession: %v", err)
	}
	if view.Price != "$40.00" {
		t.Fatalf("expected USD fallback, got %q", view.Price)
	}
	if view.Affordance.Label != "Pay $40.00 to join" {
		t.Fatalf("unexpected affordance label %q", view.Affordance.Label)
	}
}

func TestViewSessionScrubsLinkFromForeignLearner(t *testing.T) {
	f := newFixture(sessionStart.Add(30 * time.Minute))
	f.addSession(1, learnerPtr(42), models.SessionScheduled)
	f.payments.latest[1] = models.Payment{ID: 7, SessionID: 1, Status: models.PaymentPaid}

	view, err := f.service.ViewSession(context.Background(), policy.Learner(99), 1, "")
	if err != nil {
		t.Fatalf("ViewSession: %v", err)
	}
	if view.Decision.Action != policy.ActionReadOnly {
		t.Fatalf("expected read_only, got %s", view.Decision.Action)
	}
	if view.Session.MeetingLink != nil {
		t.Fatal("foreign learner must never see the meeting link")
	}
}

func TestViewSessionNotFound(t *testing.T) {
	f := newFixture(sessionStart)

	if _, err := f.service.ViewSession(context.Background(), policy.Guest(), 404, ""); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected pgx.ErrNoRows, got %v", err)
	}
}

func TestListSessionsSetsActorAndFailsClosedOnPayments(t *testing.T) {
	f := newFixture(sessionStart.Add(-time.Hour))
	session := f.addSession(1, learnerPtr(42), models.SessionScheduled)
	f.sessions.listResult = []models.Session{session}
	f.payments.listErr = errors.New("payment store down")

	views, err := f.service.ListSessions(context.Background(), policy.Learner(42), repository.SessionListFilter{Timeframe: "upcoming"}, "")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}

	if f.sessions.lastFilter.ActorID != 42 || f.sessions.lastFilter.Role != "learner" {
		t.Fatalf("filter not bound to viewer: %+v", f.sessions.lastFilter)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	if views[0].IsPaid {
		t.Fatal("payment batch failure must leave sessions unpaid")
	}
	if views[0].Decision.Action != policy.ActionPayToJoin {
		t.Fatalf("expected pay_to_join, got %s", views[0].Decision.Action)
	}
}

func TestListSessionsRejectsGuests(t *testing.T) {
	f := newFixture(sessionStart)

	if _, err := f.service.ListSessions(context.Background(), policy.Guest(), repository.SessionListFilter{}, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestListOpenSlotsPresentsBookableAffordances(t *testing.T) {
	f := newFixture(sessionStart.Add(-24 * time.Hour))
	slot := f.addSession(5, nil, models.SessionScheduled)
	f.sessions.openSlots = []models.Session{slot}

	views, total, err := f.service.ListOpenSlots(context.Background(), policy.Guest(), "", 20, 0)
	if err != nil {
		t.Fatalf("ListOpenSlots: %v", err)
	}
	if len(views) != 1 || total != 1 {
		t.Fatalf("expected 1 slot (total 1), got %d (total %d)", len(views), total)
	}
	if views[0].Decision.Action != policy.ActionBookSlot {
		t.Fatalf("expected book_slot, got %s", views[0].Decision.Action)
	}
	if views[0].Session.MeetingLink != nil {
		t.Fatal("open slot listing must not expose meeting links")
	}
}

func TestUpdateStatusLearnerCancelsOwnSession(t *testing.T) {
	f := newFixture(sessionStart.Add(-time.Hour))
	f.addSession(1, learnerPtr(42), models.SessionScheduled)

	view, err := f.service.UpdateStatus(context.Background(), policy.Learner(42), 1, "cancel", "")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if view.State != lifecycle.StateCancelled {
		t.Fatalf("expected cancelled, got %s", view.State)
	}
	if view.Decision.Action != policy.ActionViewCancelled {
		t.Fatalf("expected view_cancelled, got %s", view.Decision.Action)
	}
}

func TestUpdateStatusLearnerCannotComplete(t *testing.T) {
	f := newFixture(sessionStart.Add(2 * time.Hour))
	f.addSession(1, learnerPtr(42), models.SessionScheduled)

	if _, err := f.service.UpdateStatus(context.Background(), policy.Learner(42), 1, "completed", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdateStatusForeignLearnerForbidden(t *testing.T) {
	f := newFixture(sessionStart.Add(-time.Hour))
	f.addSession(1, learnerPtr(42), models.SessionScheduled)

	if _, err := f.service.UpdateStatus(context.Background(), policy.Learner(99), 1, "cancel", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdateStatusMentorCompletesOnlyAfterEnd(t *testing.T) {
	f := newFixture(sessionStart.Add(30 * time.Minute))
	f.addSession(1, learnerPtr(42), models.SessionScheduled)

	if _, err := f.service.UpdateStatus(context.Background(), policy.Mentor(10), 1, "completed", ""); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("mid-window completion: expected ErrInvalidStateTransition, got %v", err)
	}

	f.clock.Set(sessionStart.Add(61 * time.Minute))
	view, err := f.service.UpdateStatus(context.Background(), policy.Mentor(10), 1, "completed", "")
	if err != nil {
		t.Fatalf("post-window completion: %v", err)
	}
	if view.Session.Status != models.SessionCompleted {
		t.Fatalf("expected completed status, got %s", view.Session.Status)
	}
}

func TestUpdateStatusTerminalSessionsAreFrozen(t *testing.T) {
	f := newFixture(sessionStart)
	f.addSession(1, learnerPtr(42), models.SessionCancelled)

	if _, err := f.service.UpdateStatus(context.Background(), policy.Mentor(10), 1, "completed", ""); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture(sessionStart)
	f.addSession(1, learnerPtr(42), models.SessionScheduled)

	if _, err := f.service.UpdateStatus(context.Background(), policy.Mentor(10), 1, "confirmed", ""); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestRecordPaymentEventSettlesPending(t *testing.T) {
	f := newFixture(sessionStart)
	f.addSession(1, learnerPtr(42), models.SessionScheduled)
	f.payments.latest[1] = models.Payment{ID: 7, SessionID: 1, LearnerID: 42, MentorID: 10, Status: models.PaymentPending}

	payment, err := f.service.RecordPaymentEvent(context.Background(), 1, "paid")
	if err != nil {
		t.Fatalf("RecordPaymentEvent: %v", err)
	}
	if payment.Status != models.PaymentPaid {
		t.Fatalf("expected paid, got %s", payment.Status)
	}
	if len(f.payments.updated) != 1 {
		t.Fatalf("expected one compare-and-set, got %d", len(f.payments.updated))
	}
}

func TestRecordPaymentEventIsIdempotent(t *testing.T) {
	f := newFixture(sessionStart)
	f.addSession(1, learnerPtr(42), models.SessionScheduled)
	f.payments.latest[1] = models.Payment{ID: 7, SessionID: 1, Status: models.PaymentPaid}

	payment, err := f.service.RecordPaymentEvent(context.Background(), 1, "paid")
	if err != nil {
		t.Fatalf("RecordPaymentEvent: %v", err)
	}
	if payment.ID != 7 {
		t.Fatalf("replay should return the existing payment, got id %d", payment.ID)
	}
	if len(f.payments.updated) != 0 || len(f.payments.created) != 0 {
		t.Fatal("replayed webhook must not write")
	}
}

func TestRecordPaymentEventRetryAfterFailureCreatesFreshRecord(t *testing.T) {
	f := newFixture(sessionStart)
	f.addSession(1, learnerPtr(42), models.SessionScheduled)
	f.payments.latest[1] = models.Payment{ID: 7, SessionID: 1, LearnerID: 42, MentorID: 10, AmountUSD: decimal.NewFromInt(40), Status: models.PaymentFailed}

	payment, err := f.service.RecordPaymentEvent(context.Background(), 1, "paid")
	if err != nil {
		t.Fatalf("RecordPaymentEvent: %v", err)
	}
	if payment.Status != models.PaymentPaid {
		t.Fatalf("expected paid, got %s", payment.Status)
	}
	if len(f.payments.created) != 1 {
		t.Fatalf("expected a fresh payment record, got %d creates", len(f.payments.created))
	}
}

func TestRecordPaymentEventFirstRecord(t *testing.T) {
	f := newFixture(sessionStart)
	f.addSession(1, learnerPtr(42), models.SessionScheduled)

	payment, err := f.service.RecordPaymentEvent(context.Background(), 1, "paid")
	if err != nil {
		t.Fatalf("RecordPaymentEvent: %v", err)
	}
	if payment.LearnerID != 42 || payment.MentorID != 10 {
		t.Fatalf("payment not bound to session parties: %+v", payment)
	}
}

func TestRecordPaymentEventRejectsUnknownStatusAndOpenSlots(t *testing.T) {
	f := newFixture(sessionStart)
	f.addSession(1, nil, models.SessionScheduled)

	if _, err := f.service.RecordPaymentEvent(context.Background(), 1, "refunded"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := f.service.RecordPaymentEvent(context.Background(), 1, "paid"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition for open slot, got %v", err)
	}
}
