package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/titier-app/titier/bridge/internal/backend"
	"github.com/titier-app/titier/bridge/internal/config"
	"github.com/titier-app/titier/bridge/internal/handler"
	"github.com/titier-app/titier/bridge/internal/logging"
	"github.com/titier-app/titier/bridge/internal/pdfdoc"
	"github.com/titier-app/titier/bridge/internal/service/chatstream"
	"github.com/titier-app/titier/bridge/internal/service/correlate"
	"github.com/titier-app/titier/bridge/internal/service/store"
	"github.com/titier-app/titier/bridge/internal/synchub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Log.File, cfg.Log.Prod)
	defer logger.Sync()

	sidecar := backend.New(cfg.Sidecar.BaseURL, cfg.Sidecar.Timeout, logger)

	hub := synchub.New(logger)
	defer hub.Close()

	sessionStore := store.New(sidecar, hub, logger)

	// Pull persisted sessions from the sidecar so restarted windows see
	// their history. The sidecar being down is not fatal.
	if err := sessionStore.HydrateFromMirror(ctx); err != nil {
		logger.Warn("session hydration failed, starting empty", zap.Error(err))
	}

	registry := pdfdoc.NewRegistry()
	engine := correlate.New(sessionStore, registry, logger)
	chat := chatstream.New(sessionStore, sidecar, logger)

	router := handler.NewRouter(handler.Deps{
		Store:       sessionStore,
		Engine:      engine,
		Registry:    registry,
		Chat:        chat,
		Hub:         hub,
		Sidecar:     sidecar,
		ScanLimit:   cfg.Scan.PageLimit,
		MultiWindow: cfg.Windows.MultiWindow,
		Log:         logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("bridge listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
