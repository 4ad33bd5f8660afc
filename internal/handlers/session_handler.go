package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/clinton-khozah/website-sub002/internal/policy"
	"github.com/clinton-khozah/website-sub002/internal/repository"
	"github.com/clinton-khozah/website-sub002/internal/services"
)

type SessionHandler struct {
	service sessionApplicationService
}

type sessionApplicationService interface {
	ViewSession(ctx context.Context, viewer policy.Viewer, sessionID int64, location string) (*services.SessionView, error)
	ListSessions(ctx context.Context, viewer policy.Viewer, filter repository.SessionListFilter, location string) ([]services.SessionView, error)
	ListOpenSlots(ctx context.Context, viewer policy.Viewer, location string, limit, offset int) ([]services.SessionView, int, error)
	UpdateStatus(ctx context.Context, viewer policy.Viewer, sessionID int64, requestedStatus, location string) (*services.SessionView, error)
}

func NewSessionHandler(service *services.SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

type updateSessionStatusRequest struct {
	Status string `json:"status"`
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	viewer, err := viewerFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if viewer.Role == policy.RoleGuest {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	timeframe := strings.TrimSpace(c.Query("timeframe"))
	if timeframe != "" && timeframe != "upcoming" && timeframe != "past" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "timeframe must be upcoming or past"})
	}

	sessions, err := h.service.ListSessions(c.Context(), viewer, repository.SessionListFilter{
		Status:    strings.TrimSpace(c.Query("status")),
		Timeframe: timeframe,
	}, viewerLocation(c))
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	viewer, err := viewerFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	view, err := h.service.ViewSession(c.Context(), viewer, sessionID, viewerLocation(c))
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": view})
}

func (h *SessionHandler) UpdateStatus(c *fiber.Ctx) error {
	viewer, err := viewerFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if viewer.Role == policy.RoleGuest {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	sessionID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req updateSessionStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	view, err := h.service.UpdateStatus(c.Context(), viewer, sessionID, req.Status, viewerLocation(c))
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": view})
}

// ListOpenSlots is the public bookable-slot listing. Authentication is
// optional here; anonymous viewers browse as guests.
func (h *SessionHandler) ListOpenSlots(c *fiber.Ctx) error {
	viewer, err := viewerFromCtx(c)
	if err != nil {
		viewer = policy.Guest()
	}

	page, limit := parsePagination(c)

	slots, total, err := h.service.ListOpenSlots(c.Context(), viewer, viewerLocation(c), limit, (page-1)*limit)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{
		"slots":      slots,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

// viewerFromCtx builds the policy viewer from auth locals. Requests
// that never passed auth middleware resolve to a guest.
func viewerFromCtx(c *fiber.Ctx) (policy.Viewer, error) {
	role, _ := c.Locals("role").(string)
	userIDStr, hasID := c.Locals("user_id").(string)

	switch role {
	case string(policy.RoleMentor), string(policy.RoleLearner):
		if !hasID {
			return policy.Guest(), errors.New("missing user id")
		}
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil || userID <= 0 {
			return policy.Guest(), errors.New("invalid user id")
		}
		if role == string(policy.RoleMentor) {
			return policy.Mentor(userID), nil
		}
		return policy.Learner(userID), nil
	default:
		return policy.Guest(), nil
	}
}

func viewerLocation(c *fiber.Ctx) string {
	if location := strings.TrimSpace(c.Query("location")); location != "" {
		return location
	}
	return strings.TrimSpace(c.Get("X-Viewer-Country"))
}

func mapSessionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrInvalidStatus):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidStateTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process session request"})
	}
}
