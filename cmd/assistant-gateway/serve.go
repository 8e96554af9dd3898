package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/chat"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/config"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/lifecycle"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/live/sessions"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/persona"
	gatewayserver "github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/server"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/store"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/tools/dispatcher"
	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/upstream"
)

const cancelDrainTimeout = 5 * time.Second

type serveDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
	stderr       io.Writer
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
		stderr:     os.Stderr,
	}
}

func newServeCmd(deps serveDeps) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), deps, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert the demo catalog on startup")
	return cmd
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:         store.Driver(cfg.DBDriver),
		DSN:            cfg.DatabaseURL,
		MaxOpenConns:   cfg.DBMaxOpenConns,
		ConnectTimeout: cfg.DBConnectTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func loadPersona(cfg config.Config) (*persona.Catalog, error) {
	if cfg.PersonaFile == "" {
		return persona.Default(), nil
	}
	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}
	return p, nil
}

func runServe(ctx context.Context, deps serveDeps, seed bool) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if deps.stderr == nil {
		deps.stderr = os.Stderr
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, deps.stderr)

	catalog, err := loadPersona(cfg)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.DBAutoMigrate {
		applied, err := st.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		for _, m := range applied {
			logger.Info("migration applied", "version", m.Version, "path", m.Path)
		}
	}
	if seed {
		if err := st.SeedDemo(ctx); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	gemini, err := upstream.NewGemini(ctx, upstream.Options{
		APIKey:    cfg.GeminiAPIKey,
		ChatModel: cfg.ChatModel,
		LiveModel: cfg.LiveModel,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	tools := dispatcher.New(st.Catalog().Capabilities(), dispatcher.Options{
		Timeout:        cfg.ToolTimeout,
		ServiceAliases: catalog.ServiceAliases(),
		Logger:         logger,
	})

	orchestrator, err := chat.New(chat.Options{
		Model:        gemini,
		Tools:        tools,
		Store:        st,
		Persona:      catalog,
		Logger:       logger,
		ModelTimeout: cfg.ChatTimeout,
	})
	if err != nil {
		return fmt.Errorf("build chat: %w", err)
	}

	gw := gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Chat:          orchestrator,
		Conversations: st,
		Tools:         tools,
		Connector:     gemini.Live(),
		Persona:       catalog,
		DB:            st,
		Registry:      sessions.NewRegistry(logger),
		Tracker:       sessions.NewTracker(),
		Lifecycle:     &lifecycle.Lifecycle{},
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"db_driver", cfg.DBDriver,
		"chat_model", cfg.ChatModel,
		"live_model", cfg.LiveModel,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.Drain()
	warned := gw.WarnVoiceSessions()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitVoiceSessions(waitCtx) {
		canceled := gw.CancelVoiceSessions()
		logger.Warn("voice sessions cancelled after grace period", "warned", warned, "canceled", canceled)
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cancelDrainTimeout)
		gw.WaitVoiceSessions(drainCtx)
		drainCancel()
	}
	if n := gw.CloseUpstreams(); n > 0 {
		logger.Info("closed leftover upstream sessions", "count", n)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}
