package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/acadexa/assessment-backend/internal/clock"
	"github.com/acadexa/assessment-backend/internal/config"
	"github.com/acadexa/assessment-backend/internal/database"
	"github.com/acadexa/assessment-backend/internal/eventbus"
	"github.com/acadexa/assessment-backend/internal/grader"
	"github.com/acadexa/assessment-backend/internal/handler"
	"github.com/acadexa/assessment-backend/internal/logger"
	"github.com/acadexa/assessment-backend/internal/repository"
	"github.com/acadexa/assessment-backend/internal/router"
	"github.com/acadexa/assessment-backend/internal/scheduler"
	"github.com/acadexa/assessment-backend/internal/service"
	"github.com/acadexa/assessment-backend/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("grader", string(cfg.GraderEngine)).
		Msg("Starting Assessment Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	gradeRepo := repository.NewGradeRepository(pool)

	// ─── Select Free-Text Grader ───────────────────────────────────────
	var freeText grader.FreeTextGrader
	switch cfg.GraderEngine {
	case config.GraderEngineLLM:
		llm, err := grader.NewLLM(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize LLM grader")
		}
		freeText = llm
	default:
		freeText = grader.NewLexical(
			cfg.LexicalKeywordWeight,
			cfg.LexicalSimilarityWeight,
			cfg.LexicalSimilarityThreshold,
		)
	}
	engine := grader.NewEngine(freeText, log)

	// ─── Event Bus and Scheduler ───────────────────────────────────────
	clk := clock.System{}
	bus := eventbus.New(rdb, log)

	sched, err := scheduler.New(clk, cfg.SchedulerPoolSize, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}
	sched.Start()

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb, userRepo)
	examService := service.NewExamService(examRepo, questionRepo, sessionRepo, gradeRepo, clk)
	gradingService := service.NewGradingService(gradeRepo, sessionRepo, questionRepo, engine, clk, log)
	sessionService := service.NewSessionService(
		sessionRepo, examRepo, questionRepo, gradingService, bus, sched, clk, log)

	// The sweeper is the safety net for auto-submit timers lost to a
	// restart: any session past its deadline gets submitted on the next tick.
	sched.EnqueuePeriodic(cfg.SweepInterval, sessionService.SweepExpired)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Exam:    handler.NewExamHandler(examService),
		Session: handler.NewSessionHandler(sessionService),
		Grade:   handler.NewGradeHandler(gradingService),
		WS:      handler.NewWSHandler(sessionService, bus, log, cfg.AllowedOrigins),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the timer loop and release the task pool.
	sched.Stop()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
