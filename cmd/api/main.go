package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/deal"
	"escrowflow/dispute"
	"escrowflow/draft"
	"escrowflow/identity"
	"escrowflow/notify"
	"escrowflow/rating"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	arbiters := config.NewArbiters(cfg.ArbitratorIDs)

	identityService := identity.NewService(identity.NewRepository(pool))
	machine := deal.NewMachine()
	dealService := deal.NewService(pool, machine, arbiters, cfg.MaxAmount())
	dealRepo := deal.NewRepository(pool)
	disputeService := dispute.NewService(pool, dealService, arbiters)
	disputeRepo := dispute.NewRepository(pool)
	ratingService := rating.NewService(pool, dealService)
	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	drafts := draft.NewStore(1024, cfg.DraftTTL)

	dispatcher := notify.NewDispatcher(pool, notify.NewLogSink(log), log, 5*time.Second)
	go dispatcher.Run(ctx)

	srv := &Server{
		dealService:     dealService,
		dealQueries:     dealRepo,
		disputeService:  disputeService,
		disputeQueries:  disputeRepo,
		ratingService:   ratingService,
		identityService: identityService,
		authService:     authService,
		drafts:          drafts,
		provisionToken:  cfg.ProvisionToken,
		log:             log,
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server")
	}
}
