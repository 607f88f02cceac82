package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"report-orchestrator/internal/config"
	"report-orchestrator/internal/domain/ports/adapter"
	aiAdapters "report-orchestrator/internal/infra/adapters/ai"
	pipe "report-orchestrator/internal/infra/adapters/pipeline"
	pg "report-orchestrator/internal/infra/db/postgres"
	"report-orchestrator/internal/infra/logging"
	"report-orchestrator/internal/infra/metrics"
	red "report-orchestrator/internal/infra/redis"
	"report-orchestrator/internal/infra/web"
	"report-orchestrator/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, insecure cookies)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	convCache := red.NewConversationCache(redisClient, cfg.Redis.TTL)
	feed := red.NewChangeFeed(redisClient, logger)

	// ---- Repositories ----
	convRepo := pg.NewConversationRepo(pool, convCache, feed, logger)
	txManager := pg.NewTxManager(pool)

	// ---- Pipeline adapter ----
	pipeline, err := pipe.NewHTTPClient(&cfg.Pipeline, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline adapter")
	}

	// ---- Titler chain (OpenAI -> Gemini, optional) ----
	var chain []adapter.TitleGenerator
	if cfg.AI.OpenAIKey != "" {
		t, err := aiAdapters.NewOpenAITitler(cfg.AI.OpenAIKey, cfg.AI.TitlerModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai titler")
		}
		chain = append(chain, t)
	}
	if cfg.AI.GeminiKey != "" {
		t, err := aiAdapters.NewGeminiTitler(ctx, cfg.AI.GeminiKey, "")
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini titler")
		}
		chain = append(chain, t)
	}
	var titler adapter.TitleGenerator
	if len(chain) > 0 {
		titler = aiAdapters.NewMultiTitler(logger, chain...)
	} else {
		logger.Warn().Msg("no AI provider configured; conversation titles fall back to previews")
		titler = aiAdapters.NoopTitler{}
	}

	// ---- Orchestrator ----
	orch := usecase.NewOrchestrator(cfg, pipeline, convRepo, feed, txManager, titler,
		aiAdapters.NewTokenEstimator(), nil, logger)
	defer orch.Close()

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.API.JWTSecret, !cfg.Runtime.Dev, "", cfg.API.SessionTTL)
	srv := web.NewServer(orch, auth, rateLimiter, cfg.API.SubmitRatePerMinute, logger)
	router := srv.Router()
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
