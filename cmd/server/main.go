package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/ticket-gate/internal/clock"
	"github.com/iliyamo/ticket-gate/internal/config"
	"github.com/iliyamo/ticket-gate/internal/credential"
	"github.com/iliyamo/ticket-gate/internal/database"
	"github.com/iliyamo/ticket-gate/internal/handler"
	"github.com/iliyamo/ticket-gate/internal/lease"
	"github.com/iliyamo/ticket-gate/internal/logging"
	"github.com/iliyamo/ticket-gate/internal/queue"
	"github.com/iliyamo/ticket-gate/internal/repository"
	"github.com/iliyamo/ticket-gate/internal/router"
	"github.com/iliyamo/ticket-gate/internal/service"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	db, err := database.Open(ctx, dsn, database.Pool(cfg.DBPool))
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	rdb := config.NewRedisClient() // nil when Redis is unreachable
	if rdb != nil {
		defer rdb.Close()
	}

	sealer, err := credential.NewSealer(cfg.Credential.MasterKey)
	if err != nil {
		return err
	}
	store := repository.NewStore(db)
	clk := clock.NewSystem()
	rc := cfg.Reservation

	reservations := service.NewReservationService(store, clk, logger, service.HoldLimits{
		DefaultTTL:  rc.DefaultTTL,
		MaxTTL:      rc.MaxTTL,
		MaxQuantity: rc.MaxQuantity,
		SweepBatch:  rc.SweepBatch,
	})
	issuer := service.NewCredentialIssuer(store, sealer, credential.NewRenderer(cfg.Credential.ImageSize), clk, logger, cfg.Credential.Grace)

	var (
		salePub service.SalePublisher = service.InlineIssuance{Issuer: issuer}
		scanPub service.ScanPublisher
	)
	if cfg.RabbitURL != "" {
		pub := queue.NewPublisher(cfg.RabbitURL, logger)
		salePub, scanPub = pub, pub
	}
	audit := service.NewScanAuditor(store, scanPub, clk, logger)
	verifier := service.NewCredentialVerifier(store, sealer, audit, clk, logger)
	finalizer := service.NewSaleFinalizer(store, reservations, salePub, clk, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(logging.RequestLogger(logger))
	router.RegisterAll(e, router.Deps{
		JWTSecret:    cfg.JWTSecret,
		Redis:        rdb,
		Health:       handler.Health(db),
		Reservations: handler.NewReservationHandler(reservations, clk),
		Internal:     handler.NewInternalHandler(finalizer, issuer, reservations),
		Credentials:  handler.NewCredentialHandler(issuer, verifier, audit),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		var l service.Lease
		if rdb != nil {
			l = lease.NewRedisLease(rdb, "")
		}
		return reservations.RunSweeper(ctx, rc.SweepInterval, rc.SweepLockTTL, l)
	})
	if cfg.RabbitURL != "" {
		g.Go(func() error {
			return queue.NewConsumer(cfg.RabbitURL, issuer, logger).Run(ctx)
		})
	}
	return g.Wait()
}
