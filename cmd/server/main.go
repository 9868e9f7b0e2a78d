package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/ametov/parley/internal/adapters/http"
	"github.com/ametov/parley/internal/adapters/record"
	"github.com/ametov/parley/internal/adapters/rtc"
	signaladapter "github.com/ametov/parley/internal/adapters/signal"
	"github.com/ametov/parley/internal/app"
	"github.com/ametov/parley/internal/app/orch"
	"github.com/ametov/parley/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	engine, err := rtc.NewEngine(rtc.Config{
		ICEServers: cfg.ICEServers,
		AnnounceIP: cfg.AnnounceIP,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media engine")
	}
	recorder, err := record.NewRecorder(cfg.RecordingDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init recorder")
	}

	peers := app.NewPeerRegistry()
	producers := app.NewProducerRegistry(peers)
	o := &orch.Orchestrator{
		Engine:      engine,
		Rooms:       app.NewRoomRegistry(engine, cfg.CloseEmptyRooms),
		Peers:       peers,
		Transports:  app.NewTransportRegistry(peers),
		Producers:   producers,
		Consumers:   app.NewConsumerRegistry(peers),
		Recordings:  app.NewRecordingManager(recorder, producers),
		CallTimeout: cfg.EngineCallTimeout,
	}
	limiter := signaladapter.NewPeerRateLimiter(cfg.MsgRateLimit, cfg.MsgRateInterval)
	ctrl := signaladapter.NewController(o, cfg.ReadLimit, cfg.PingPeriod, limiter)
	o.Notifier = ctrl

	// No room state survives the engine; stop taking connections and exit.
	engineDied := make(chan error, 1)
	engine.OnDied(func(err error) {
		select {
		case engineDied <- err:
		default:
		}
		cancel()
	})

	r := router.SetupRouter(ctx, cfg, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Parley server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	engine.Close()

	select {
	case err := <-engineDied:
		log.Error().Err(err).Msg("media engine died, exiting")
		os.Exit(1)
	default:
	}
	log.Info().Msg("Server exited gracefully")
}
