package handlers

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/clinton-khozah/website-sub002/internal/models"
	"github.com/clinton-khozah/website-sub002/internal/services"
)

// PaymentHandler ingests payment processor callbacks. The checkout
// flow itself lives entirely with the processor; all this service
// learns is the settlement outcome per session.
type PaymentHandler struct {
	service       paymentApplicationService
	webhookSecret string
}

type paymentApplicationService interface {
	RecordPaymentEvent(ctx context.Context, sessionID int64, status string) (*models.Payment, error)
}

func NewPaymentHandler(service *services.SessionService, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{service: service, webhookSecret: webhookSecret}
}

type paymentWebhookRequest struct {
	SessionID int64  `json:"session_id"`
	Status    string `json:"status"`
}

func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	signature := c.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(signature), []byte(h.webhookSecret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid webhook signature"})
	}

	var req paymentWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.SessionID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "session_id is required"})
	}

	payment, err := h.service.RecordPaymentEvent(c.Context(), req.SessionID, req.Status)
	if err != nil {
		return mapPaymentError(c, err)
	}

	return c.JSON(fiber.Map{"payment": payment})
}

func mapPaymentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidStatus):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidStateTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record payment event"})
	}
}
