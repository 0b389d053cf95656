package document

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/backend"
	"github.com/titier-app/titier/bridge/internal/model/highlight"
	"github.com/titier-app/titier/bridge/internal/model/session"
	"github.com/titier-app/titier/bridge/internal/pdfdoc"
	"github.com/titier-app/titier/bridge/internal/service/correlate"
	"github.com/titier-app/titier/bridge/pkg/utils"
)

// maxDocumentBytes bounds uploaded document size (128 MiB).
const maxDocumentBytes = 128 << 20

// localAuthor is the default comment author for highlights made in this
// process.
const localAuthor = "You"

// Sidecar is the slice of the backend client this handler needs.
type Sidecar interface {
	Upload(ctx context.Context, name string, doc []byte) (backend.UploadResult, error)
	ListDocuments(ctx context.Context) ([]backend.DocumentInfo, error)
	DeleteDocument(ctx context.Context, name string) error
	ClearDocuments(ctx context.Context) error
}

// ColorNotifier broadcasts palette changes to the other windows. May be nil.
type ColorNotifier interface {
	ColorsChanged()
}

// Handler owns the document lifecycle: open/scan, highlight events, palette
// and export.
type Handler struct {
	engine    *correlate.Engine
	registry  *pdfdoc.Registry
	sidecar   Sidecar
	notifier  ColorNotifier
	scanLimit int
	validate  *validator.Validate
	log       *zap.Logger
}

// New creates the document handler.
func New(engine *correlate.Engine, registry *pdfdoc.Registry, sidecar Sidecar, notifier ColorNotifier, scanLimit int, log *zap.Logger) *Handler {
	return &Handler{
		engine:    engine,
		registry:  registry,
		sidecar:   sidecar,
		notifier:  notifier,
		scanLimit: scanLimit,
		validate:  validator.New(),
		log:       log,
	}
}

// RegisterRoutes mounts the document routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/documents/open", h.handleOpen)
	r.Get("/documents", h.handleListDocuments)
	r.Delete("/documents/{name}", h.handleDeleteDocument)
	r.Delete("/documents", h.handleClearDocuments)
	r.Post("/highlights", h.handleHighlight)
	r.Post("/export", h.handleExport)
	r.Get("/colors", h.handleListColors)
	r.Post("/colors", h.handleAddColor)
}

type openResponse struct {
	FileHash        string            `json:"fileHash,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	Colors          []string          `json:"colors"`
	SessionsCreated []session.Session `json:"sessionsCreated"`
}

// handleOpen registers a newly opened document: uploads it for indexing,
// scans existing annotation colors and runs the bulk correlation pass.
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	name, doc, ok := h.readDocument(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// A dead sidecar degrades to name-based scoping; it never blocks the
	// document from opening locally.
	var result backend.UploadResult
	if h.sidecar != nil {
		uploaded, err := h.sidecar.Upload(ctx, name, doc)
		if err != nil {
			h.log.Warn("document upload failed, degrading to name scoping",
				zap.String("document", name), zap.Error(err))
		} else {
			result = uploaded
		}
	}

	scanned, err := pdfdoc.ExtractColors(doc, h.scanLimit)
	if err != nil {
		h.log.Warn("annotation color scan failed", zap.String("document", name), zap.Error(err))
	}

	docKey := result.FileHash
	if docKey == "" {
		docKey = name
	}
	h.registry.MergeScan(docKey, scanned)
	h.notifyColors()
	h.engine.SetDocument(correlate.Document{Hash: result.FileHash, Name: name})

	created, err := h.engine.RunExtractionPass(ctx, scanned)
	if err != nil {
		h.log.Warn("bulk extraction pass failed", zap.String("document", name), zap.Error(err))
	}
	if created == nil {
		created = []session.Session{}
	}

	utils.RespondJSON(w, http.StatusOK, openResponse{
		FileHash:        result.FileHash,
		Summary:         result.Summary,
		Colors:          h.registry.Colors(),
		SessionsCreated: created,
	})
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.sidecar.ListDocuments(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, docs)
}

func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.sidecar.DeleteDocument(r.Context(), chi.URLParam(r, "name")); err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := h.sidecar.ClearDocuments(r.Context()); err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type highlightResponse struct {
	Session session.Session `json:"session"`
	Created bool            `json:"created"`
}

// handleHighlight routes a highlight event through the correlation engine.
func (h *Handler) handleHighlight(w http.ResponseWriter, r *http.Request) {
	var hl highlight.Highlight
	if err := json.NewDecoder(r.Body).Decode(&hl); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if hl.Comment.Text != "" && hl.Comment.Author == "" {
		hl.Comment.Author = localAuthor
	}

	result, err := h.engine.HandleHighlight(r.Context(), hl)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, highlightResponse{Session: result.Session, Created: result.Created})
}

// handleExport burns the posted highlights into the document and returns
// the result. The export is all-or-nothing: any failure yields an error
// response and no bytes.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	name, doc, ok := h.readDocument(w, r)
	if !ok {
		return
	}

	var highlights []highlight.Highlight
	if raw := r.FormValue("highlights"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &highlights); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid highlights payload")
			return
		}
	}

	burned, err := pdfdoc.BurnHighlights(doc, highlights)
	if err != nil {
		h.log.Error("export failed", zap.String("document", name), zap.Error(err))
		utils.RespondError(w, http.StatusUnprocessableEntity, "export failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(burned); err != nil {
		h.log.Warn("writing export response failed", zap.Error(err))
	}
}

func (h *Handler) handleListColors(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"colors": h.registry.Colors()})
}

type addColorPayload struct {
	Color string `json:"color" validate:"required"`
}

func (h *Handler) handleAddColor(w http.ResponseWriter, r *http.Request) {
	var payload addColorPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.registry.Add(payload.Color) {
		utils.RespondError(w, http.StatusBadRequest, "invalid or duplicate color")
		return
	}
	h.notifyColors()
	utils.RespondJSON(w, http.StatusCreated, map[string][]string{"colors": h.registry.Colors()})
}

func (h *Handler) notifyColors() {
	if h.notifier != nil {
		h.notifier.ColorsChanged()
	}
}

// readDocument pulls the uploaded file out of a multipart form.
func (h *Handler) readDocument(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if err := r.ParseMultipartForm(maxDocumentBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file field is required")
		return "", nil, false
	}
	defer file.Close()

	doc, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read file")
		return "", nil, false
	}
	return header.Filename, doc, true
}
