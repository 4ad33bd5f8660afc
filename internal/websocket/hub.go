package sessionws

import (
	"context"
	"encoding/json"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinton-khozah/website-sub002/internal/clock"
	"github.com/clinton-khozah/website-sub002/internal/lifecycle"
	"github.com/clinton-khozah/website-sub002/internal/policy"
	"github.com/clinton-khozah/website-sub002/internal/services"
)

// Hub owns the re-evaluation cadence the decision core deliberately
// has no timers for. Clients subscribe to one session each; the hub
// re-derives their view on a periodic tick and, between ticks, at the
// exact lifecycle boundary of any watched session, so Upcoming flips
// to InProgress the moment the window opens rather than at the next
// tick. Changed views are pushed; unchanged ones are not.
type Hub struct {
	service    viewProvider
	interval   time.Duration
	clock      clock.Clock
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	log        zerolog.Logger
}

type viewProvider interface {
	ViewSession(ctx context.Context, viewer policy.Viewer, sessionID int64, location string) (*services.SessionView, error)
}

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	id        uuid.UUID
	sessionID int64
	viewer    policy.Viewer
	location  string
	send      chan []byte
	lastSent  []byte
	// Next instant the watched session's classification can change.
	// Zero when the session is terminal or its view failed to load.
	nextBoundary time.Time
}

type Update struct {
	Type      string                `json:"type"`
	SessionID int64                 `json:"session_id"`
	View      *services.SessionView `json:"view,omitempty"`
	Error     string                `json:"error,omitempty"`
}

func NewHub(service viewProvider, interval time.Duration, clk clock.Clock, log zerolog.Logger) *Hub {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Hub{
		service:    service,
		interval:   interval,
		clock:      clk,
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, sessionID int64, viewer policy.Viewer, location string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		id:        uuid.New(),
		sessionID: sessionID,
		viewer:    viewer,
		location:  location,
		send:      make(chan []byte, 8),
	}
}

func (h *Hub) Run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Armed to the earliest lifecycle boundary among watched
	// sessions; idle until the first client registers.
	boundary := time.NewTimer(time.Hour)
	if !boundary.Stop() {
		<-boundary.C
	}
	defer boundary.Stop()

	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.sessionID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.sessionID] = set
			}
			set[client] = struct{}{}
			h.refresh(client)
			h.rearmBoundary(boundary)
		case client := <-h.unregister:
			set, ok := h.clients[client.sessionID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.sessionID)
			}
			h.rearmBoundary(boundary)
		case <-ticker.C:
			for _, set := range h.clients {
				for client := range set {
					h.refresh(client)
				}
			}
			h.rearmBoundary(boundary)
		case <-boundary.C:
			now := h.clock.Now()
			for _, set := range h.clients {
				for client := range set {
					if !client.nextBoundary.IsZero() && !client.nextBoundary.After(now) {
						h.refresh(client)
					}
				}
			}
			h.rearmBoundary(boundary)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// refresh re-derives one client's view, pushes it when it differs from
// the last delivered payload, and records the session's next lifecycle
// boundary for scheduling. Runs only on the hub goroutine.
func (h *Hub) refresh(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	view, err := h.service.ViewSession(ctx, client.viewer, client.sessionID, client.location)
	cancel()

	update := Update{Type: "session_update", SessionID: client.sessionID}
	client.nextBoundary = time.Time{}
	if err != nil {
		update.Type = "error"
		update.Error = "can't load session"
	} else {
		update.View = view
		if !view.State.Terminal() {
			if next, ok := lifecycle.NextTransition(view.Session, h.clock.Now()); ok {
				client.nextBoundary = next
			}
		}
	}

	payload, err := json.Marshal(update)
	if err != nil {
		h.log.Error().Err(err).Int64("session_id", client.sessionID).Msg("encode session update")
		return
	}
	if client.lastSent != nil && string(client.lastSent) == string(payload) {
		return
	}

	select {
	case client.send <- payload:
		client.lastSent = payload
	default:
		// Slow consumer; drop it rather than stall the hub.
		set := h.clients[client.sessionID]
		delete(set, client)
		close(client.send)
		if len(set) == 0 {
			delete(h.clients, client.sessionID)
		}
	}
}

// earliestBoundary is the soonest nextBoundary among all watched
// clients, zero when nothing is pending a transition.
func (h *Hub) earliestBoundary() time.Time {
	var earliest time.Time
	for _, set := range h.clients {
		for client := range set {
			if client.nextBoundary.IsZero() {
				continue
			}
			if earliest.IsZero() || client.nextBoundary.Before(earliest) {
				earliest = client.nextBoundary
			}
		}
	}
	return earliest
}

func (h *Hub) rearmBoundary(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	earliest := h.earliestBoundary()
	if earliest.IsZero() {
		return
	}
	wait := earliest.Sub(h.clock.Now())
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
}

// ReadPump drains the connection so pings and closes are processed.
// Watchers never send application messages.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
