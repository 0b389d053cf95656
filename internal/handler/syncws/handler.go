package syncws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/model/syncevent"
	"github.com/titier-app/titier/bridge/internal/synchub"
	"github.com/titier-app/titier/bridge/pkg/utils"
)

// Handler attaches window webviews to the change-event broadcast and serves
// the shared theme value.
type Handler struct {
	hub      *synchub.Hub
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New creates the sync handler.
func New(hub *synchub.Hub, log *zap.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// RegisterRoutes mounts the sync routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWindowSocket)
	r.Get("/theme", h.handleGetTheme)
	r.Put("/theme", h.handleSetTheme)
}

// handleWindowSocket streams change events to one window until it
// disconnects. The window applies each event against its own copy; it never
// reads another window's memory.
func (h *Handler) handleWindowSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("window socket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.hub.Subscribe(ctx)
	if err != nil {
		h.log.Warn("window subscription failed", zap.Error(err))
		return
	}

	// Reader loop exists only to detect the window going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Let the window paint the right theme before the first change arrives.
	if payload, err := json.Marshal(h.hub.Theme()); err == nil {
		h.writeEvent(conn, syncevent.Event{Kind: syncevent.ThemeChanged, Payload: payload})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !h.writeEvent(conn, ev) {
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, ev syncevent.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("encoding sync event failed", zap.Error(err))
		return true
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	return true
}

func (h *Handler) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"theme": h.hub.Theme()})
}

type themePayload struct {
	Theme string `json:"theme"`
}

func (h *Handler) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var payload themePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Theme == "" {
		utils.RespondError(w, http.StatusBadRequest, "theme is required")
		return
	}
	h.hub.SetTheme(payload.Theme)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"theme": payload.Theme})
}
