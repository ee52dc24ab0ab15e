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

	router "github.com/dkeye/Lecture/internal/adapters/http"
	"github.com/dkeye/Lecture/internal/adapters/rtc"
	signalws "github.com/dkeye/Lecture/internal/adapters/signal"
	"github.com/dkeye/Lecture/internal/adapters/store"
	"github.com/dkeye/Lecture/internal/adapters/translate"
	"github.com/dkeye/Lecture/internal/app"
	"github.com/dkeye/Lecture/internal/app/captions"
	"github.com/dkeye/Lecture/internal/app/lock"
	"github.com/dkeye/Lecture/internal/app/orch"
	"github.com/dkeye/Lecture/internal/app/roomstate"
	"github.com/dkeye/Lecture/internal/config"
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
		log.Fatal().Err(err).Msg("failed to load config")
	}

	kv, err := store.NewRedisKV(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer kv.Close()

	engine, err := rtc.NewRTCEngine(cfg.AnnouncedIP)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build media engine")
	}

	locks := lock.New()
	registry := app.NewRegistry(locks, cfg.LockTimeout)
	rooms := roomstate.NewEphemeral(locks, cfg.LockTimeout)
	roster := roomstate.NewRosterStore(kv, cfg.RosterTTL, cfg.CASMaxAttempts, cfg.CASBackoff)
	translator := translate.NewClient(cfg.TranslateURL, cfg.TranslateToken, 10*time.Second)

	o := &orch.Orchestrator{
		Registry:        registry,
		Rooms:           rooms,
		Roster:          roster,
		Engine:          engine,
		Locks:           locks,
		JoinLockTimeout: cfg.JoinLockTimeout,
		SyncStagger:     cfg.SyncStagger,
	}

	limiter := signalws.NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow)
	ctrl := signalws.NewSignalWSController(o, limiter, cfg.AnnouncedIP, cfg.TargetLang)

	// The controller is the event emitter; the orchestrator and the
	// caption pipeline get it after construction to break the cycle.
	o.Emitter = ctrl
	o.Captions = captions.NewPipeline(rooms, ctrl, translator, cfg.CaptionSilence, cfg.CaptionClear)

	r := router.SetupRouter(ctx, cfg, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Lecture server started")
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
	log.Info().Msg("Server exited gracefully")
}
