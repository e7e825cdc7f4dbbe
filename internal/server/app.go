// Package server initializes and runs the deglet server: it opens the
// database, applies migrations, wires the services and runs the HTTP API
// alongside the gRPC health service until a termination signal arrives.
package server

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/deglet/internal/logging"
	"github.com/dmitrijs2005/deglet/internal/server/auth"
	"github.com/dmitrijs2005/deglet/internal/server/config"
	"github.com/dmitrijs2005/deglet/internal/server/cosigner"
	"github.com/dmitrijs2005/deglet/internal/server/metrics"
	"github.com/dmitrijs2005/deglet/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/deglet/internal/server/rest"
	"github.com/dmitrijs2005/deglet/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	gs "github.com/dmitrijs2005/deglet/internal/server/grpc"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	httpServer *rest.Server
	grpcServer *gs.GRPCServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	key, err := auth.KeyFromSeed(c.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	logger.Info(ctx, "server key loaded", "kid", auth.EncodePublicKey(key.Public().(ed25519.PublicKey)))

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mx := metrics.NewMetrics(reg)

	// A nil *cosigner.Client stored in the interface would read as enabled.
	var cs services.Cosigner
	if c.CosignerURL != "" {
		cs = cosigner.New(c.CosignerURL, c.CosignerTimeout, logger, cosigner.WithMetrics(mx))
	} else {
		logger.Warn(ctx, "cosigner_server not configured, cosigning will not be available")
	}

	svc := rest.Services{
		Auth:    services.NewAuthService(db, m, logger, mx),
		Users:   services.NewUserService(db, m, logger, c.MinSaltEntropy),
		Blobs:   services.NewBlobService(db, m, logger),
		Wallets: services.NewCosignerService(db, m, cs, logger),
	}

	httpServer := rest.NewServer(rest.Options{
		Address:        c.HTTPAddr,
		PublicURL:      c.PublicURL,
		AllowedOrigins: c.AllowedOrigins,
		SigningKey:     key,
		Gatherer:       reg,
	}, svc, logger, mx)

	return &App{
		config:     c,
		logger:     logger,
		db:         db,
		httpServer: httpServer,
		grpcServer: gs.NewGRPCServer(c.GRPCAddr, db, logger, mx),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until a signal arrives or either server fails, then stops
// both and closes the database.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()
	go func() {
		defer wg.Done()
		if err := app.grpcServer.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "failed to close database", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
