package sessions

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/titier-app/titier/bridge/internal/model/session"
	"github.com/titier-app/titier/bridge/internal/service/store"
	"github.com/titier-app/titier/bridge/pkg/utils"
)

// Handler exposes session CRUD to the window webviews.
type Handler struct {
	store    *store.Store
	validate *validator.Validate
}

// New creates the sessions handler.
func New(st *store.Store) *Handler {
	return &Handler{store: st, validate: validator.New()}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreate)
	r.Get("/sessions", h.handleList)
	r.Post("/sessions/{sessionID}/activate", h.handleActivate)
	r.Patch("/sessions/{sessionID}", h.handleUpdate)
	r.Delete("/sessions/{sessionID}", h.handleDelete)
	r.Delete("/sessions", h.handleDeleteAll)
}

type createPayload struct {
	Kind          string `json:"kind" validate:"required,oneof=default named scoped"`
	Name          string `json:"name"`
	DocumentHash  string `json:"documentHash"`
	ContextFilter string `json:"contextFilter"`
	Color         string `json:"color" validate:"required_if=Kind scoped"`
	SearchMode    string `json:"searchMode" validate:"omitempty,oneof=local global"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.store.Create(r.Context(), session.NewSessionRequest{
		Kind:          session.RequestKind(payload.Kind),
		Name:          payload.Name,
		DocumentHash:  payload.DocumentHash,
		ContextFilter: payload.ContextFilter,
		Color:         payload.Color,
		SearchMode:    session.SearchMode(payload.SearchMode),
	})
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.List())
}

// handleActivate lazily loads a session's history and returns the full
// session, messages included.
func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Activate(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess)
}

type updatePayload struct {
	Title                *string `json:"title"`
	SearchMode           *string `json:"searchMode" validate:"omitempty,oneof=local global"`
	IncludeOtherSessions *bool   `json:"includeOtherSessions"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload updatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if payload.Title != nil {
		if err := h.store.Rename(ctx, sessionID, *payload.Title); err != nil {
			respondStoreError(w, err)
			return
		}
	}
	if payload.SearchMode != nil {
		if err := h.store.SetSearchMode(ctx, sessionID, session.SearchMode(*payload.SearchMode)); err != nil {
			respondStoreError(w, err)
			return
		}
	}
	if payload.IncludeOtherSessions != nil {
		if err := h.store.SetIncludeOtherSessions(ctx, sessionID, *payload.IncludeOtherSessions); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	sess, ok := h.store.Get(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, store.ErrSessionNotFound.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	h.store.DeleteAll(r.Context())
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func respondStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrSessionNotFound) {
		status = http.StatusNotFound
	}
	utils.RespondError(w, status, err.Error())
}
