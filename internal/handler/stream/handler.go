package stream

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/service/chatstream"
	"github.com/titier-app/titier/bridge/internal/service/store"
	"github.com/titier-app/titier/bridge/pkg/utils"
)

// Handler bridges the window to the streaming protocol client: frames are
// re-served to the webview as Server-Sent Events while the client applies
// them to the store.
type Handler struct {
	chat  *chatstream.Client
	store *store.Store
	log   *zap.Logger
}

// New creates the stream handler.
func New(chat *chatstream.Client, st *store.Store, log *zap.Logger) *Handler {
	return &Handler{chat: chat, store: st, log: log}
}

// RegisterRoutes mounts the streaming routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
	r.Post("/stream/stop", h.handleStop)
	r.Get("/stream/state", h.handleState)
}

// handleStream runs one generation turn. With a message query parameter it
// sends that message; without one it consumes the session's pending
// auto-start prompt, making session activation kick off the seeded first
// turn.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	message := r.URL.Query().Get("message")

	if h.chat.State() != chatstream.StateIdle {
		utils.RespondError(w, http.StatusConflict, chatstream.ErrBusy.Error())
		return
	}

	// Hydrate lazily before streaming so titling sees the full history.
	if _, err := h.store.Activate(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	observe := func(f chatstream.Frame) {
		utils.SendSSEChunk(w, flusher, f)
	}

	var err error
	if message != "" {
		_, err = h.chat.Send(r.Context(), sessionID, message, observe)
	} else {
		var started bool
		_, started, err = h.chat.AutoStart(r.Context(), sessionID, observe)
		if err == nil && !started {
			utils.SendSSEChunk(w, flusher, chatstream.Frame{Type: chatstream.FrameDone})
			return
		}
	}

	if err != nil {
		// Headers are committed; surface the failure as an error frame.
		if !errors.Is(err, chatstream.ErrBusy) {
			h.log.Warn("stream turn failed", zap.String("session", sessionID), zap.Error(err))
		}
		utils.SendSSEChunk(w, flusher, chatstream.Frame{Type: chatstream.FrameError, Error: err.Error()})
		return
	}

	final, _ := h.store.Get(sessionID)
	utils.SendSSEChunk(w, flusher, map[string]any{
		"type":    "final",
		"session": final,
		"outcome": h.chat.LastOutcome(),
	})
}

// handleStop forwards the out-of-band cancellation. The response reports the
// stopping sub-state; termination arrives later through the stream itself.
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Stop(r.Context()); err != nil {
		h.log.Warn("stop request failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"state": string(h.chat.State())})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"state": string(h.chat.State())})
}
