package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/backend"
	documentHandler "github.com/titier-app/titier/bridge/internal/handler/document"
	sessionsHandler "github.com/titier-app/titier/bridge/internal/handler/sessions"
	streamHandler "github.com/titier-app/titier/bridge/internal/handler/stream"
	syncHandler "github.com/titier-app/titier/bridge/internal/handler/syncws"
	middlewarePkg "github.com/titier-app/titier/bridge/internal/middleware"
	"github.com/titier-app/titier/bridge/internal/pdfdoc"
	"github.com/titier-app/titier/bridge/internal/service/chatstream"
	"github.com/titier-app/titier/bridge/internal/service/correlate"
	"github.com/titier-app/titier/bridge/internal/service/store"
	"github.com/titier-app/titier/bridge/internal/synchub"
	"github.com/titier-app/titier/bridge/pkg/utils"
)

// Deps carries everything the router wires together.
type Deps struct {
	Store       *store.Store
	Engine      *correlate.Engine
	Registry    *pdfdoc.Registry
	Chat        *chatstream.Client
	Hub         *synchub.Hub
	Sidecar     *backend.Client
	ScanLimit   int
	MultiWindow bool
	Log         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessions := sessionsHandler.New(d.Store)
	documents := documentHandler.New(d.Engine, d.Registry, d.Sidecar, d.Hub, d.ScanLimit, d.Log)
	streams := streamHandler.New(d.Chat, d.Store, d.Log)
	syncs := syncHandler.New(d.Hub, d.Log)

	r.Route("/api", func(api chi.Router) {
		sessions.RegisterRoutes(api)
		documents.RegisterRoutes(api)
		streams.RegisterRoutes(api)
		syncs.RegisterRoutes(api)

		api.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			status := map[string]any{
				"chatState":   string(d.Chat.State()),
				"sessions":    len(d.Store.List()),
				"multiWindow": d.MultiWindow,
			}
			if d.Sidecar != nil {
				if st, err := d.Sidecar.GetStatus(r.Context()); err != nil {
					status["sidecar"] = map[string]any{"healthy": false, "error": err.Error()}
				} else {
					status["sidecar"] = st
				}
			}
			utils.RespondJSON(w, http.StatusOK, status)
		})
	})

	return r
}
