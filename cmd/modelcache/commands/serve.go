package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/modelcache/internal/config"
	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/port"
	"github.com/vertextoedge/modelcache/internal/service/loader"
	"github.com/vertextoedge/modelcache/internal/service/maintenance"
	"github.com/vertextoedge/modelcache/internal/service/server"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(global *globalOptions) *cobra.Command {
	var bindAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache HTTP service",
		Long: `Serve starts the HTTP API, the periodic maintenance loop and background
loads for every entry under models: in the configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(global)
			if err != nil {
				return err
			}
			if bindAddr != "" {
				rt.cfg.HTTP.BindAddr = bindAddr
			}
			return runServe(rt)
		},
	}

	cmd.Flags().StringVar(&bindAddr, "bind", "", "Override http.bind_addr")
	return cmd
}

func runServe(rt *runtime) error {
	log := rt.logger
	cfg := rt.cfg

	log.Info("starting modelcache",
		zap.String("version", Version),
		zap.String("backend", cfg.Store.Backend),
		zap.String("path", cfg.Store.Path))

	httpServer := server.New(&server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}, rt.loader, rt.store, rt.registry, log.Named("server"))

	maintenanceService := maintenance.New(&maintenance.Config{
		Interval:         cfg.Maintenance.GetInterval(),
		TempFileMaxAge:   cfg.Maintenance.GetTempFileMaxAge(),
		SessionRetention: cfg.Maintenance.GetSessionRetention(),
		GCDiscardRatio:   cfg.Maintenance.GCDiscardRatio,
	}, maintenanceDeps(rt), log.Named("maintenance"))

	ctx, cancel := signalContext()
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start(ctx)
	}()

	go func() {
		if err := maintenanceService.Start(ctx); err != nil {
			log.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	prefetchModels(ctx, rt.loader, cfg.Models, log)

	log.Info("modelcache started", zap.String("http_addr", cfg.HTTP.BindAddr))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping services")
	case runErr = <-serverErr:
		if runErr != nil {
			log.Error("HTTP server failed", zap.Error(runErr))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	maintenanceService.Stop()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}
	if err := rt.Close(); err != nil {
		log.Error("failed to close cache store", zap.Error(err))
	}

	log.Info("modelcache stopped")
	return runErr
}

// maintenanceDeps wires the optional housekeeping capabilities of the store
func maintenanceDeps(rt *runtime) maintenance.Deps {
	deps := maintenance.Deps{
		Sessions: rt.loader,
		Stats:    rt.loader,
	}
	if tc, ok := rt.store.(port.TempCleaner); ok {
		deps.Temp = tc
	}
	if gc, ok := rt.store.(port.GarbageCollector); ok {
		deps.GC = gc
	}
	return deps
}

type sessionStarter interface {
	Start(ctx context.Context, src domain.Source, identity string, opts loader.Options) (*loader.Session, error)
}

// prefetchModels starts a background load for every configured model and
// returns the number started
func prefetchModels(ctx context.Context, starter sessionStarter, models []config.ModelConfig, log *zap.Logger) int {
	started := 0
	for _, m := range models {
		sess, err := starter.Start(ctx, domain.RemoteSource{URL: m.URL}, m.Name, loader.Options{Digest: m.Digest})
		if err != nil {
			log.Error("failed to start prefetch", zap.String("name", m.Name), zap.Error(err))
			continue
		}
		log.Info("prefetch started", zap.String("name", m.Name), zap.String("load_id", sess.ID))
		started++
	}
	return started
}
