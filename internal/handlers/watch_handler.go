package handlers

import (
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/clinton-khozah/website-sub002/internal/policy"
	sessionws "github.com/clinton-khozah/website-sub002/internal/websocket"
	"github.com/clinton-khozah/website-sub002/pkg/utils"
)

// WatchHandler upgrades a session page to a live affordance stream.
type WatchHandler struct {
	hub       *sessionws.Hub
	jwtSecret string
}

func NewWatchHandler(hub *sessionws.Hub, jwtSecret string) *WatchHandler {
	return &WatchHandler{hub: hub, jwtSecret: jwtSecret}
}

// WebSocketAuth resolves the viewer before the upgrade. A missing or
// invalid token watches as a guest; guests still get open-slot and
// read-only updates.
func (h *WatchHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	if claims, err := h.parseWSClaims(c); err == nil {
		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)
	}
	return c.Next()
}

func (h *WatchHandler) HandleWatch(conn *websocket.Conn) {
	sessionID, err := strconv.ParseInt(conn.Params("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		_ = conn.Close()
		return
	}

	viewer := policy.Guest()
	role, _ := conn.Locals("role").(string)
	if userIDStr, ok := conn.Locals("user_id").(string); ok {
		if userID, err := strconv.ParseInt(userIDStr, 10, 64); err == nil && userID > 0 {
			switch role {
			case string(policy.RoleMentor):
				viewer = policy.Mentor(userID)
			case string(policy.RoleLearner):
				viewer = policy.Learner(userID)
			}
		}
	}

	location := strings.TrimSpace(conn.Query("location"))

	client := sessionws.NewClient(h.hub, conn, sessionID, viewer, location)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}

func (h *WatchHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, fiber.ErrUnauthorized
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}
