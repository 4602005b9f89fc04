// Package dashboard streams settlement events to connected observers over
// WebSocket.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/mossfit/spc/internal/bus"
	"github.com/mossfit/spc/internal/domain"
)

// Handler upgrades observer connections and pumps bus events to them.
type Handler struct {
	bus           *bus.Bus
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a dashboard WebSocket handler.
func NewHandler(b *bus.Bus, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		bus:           b,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// envelope is the wire format delivered to observers.
type envelope struct {
	Message domain.DashboardEvent `json:"message"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade. The observer
// is joined to the bus for the lifetime of the connection and deregistered
// on any disconnect, graceful or abrupt.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept dashboard WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "dashboard session ended"); closeErr != nil {
			slog.Debug("failed to close dashboard websocket", "error", closeErr)
		}
	}()

	sub := h.bus.Join()
	defer h.bus.Leave(sub)
	slog.Info("dashboard observer joined", "ip", r.RemoteAddr, "observers", h.bus.Len())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Observers only listen; the read loop exists to notice disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				if websocket.CloseStatus(err) != -1 {
					slog.Debug("dashboard observer closed connection")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, envelope{Message: event}); err != nil {
				slog.Debug("dashboard write failed, dropping observer", "error", err)
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("dashboard origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
