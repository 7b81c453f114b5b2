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

	"github.com/jwalitptl/dorm-notify/internal/channel"
	"github.com/jwalitptl/dorm-notify/internal/channel/external"
	"github.com/jwalitptl/dorm-notify/internal/channel/realtime"
	"github.com/jwalitptl/dorm-notify/internal/config"
	billinghandler "github.com/jwalitptl/dorm-notify/internal/handler/billing"
	healthhandler "github.com/jwalitptl/dorm-notify/internal/handler/health"
	intenthandler "github.com/jwalitptl/dorm-notify/internal/handler/intent"
	webhookhandler "github.com/jwalitptl/dorm-notify/internal/handler/webhook"
	"github.com/jwalitptl/dorm-notify/internal/linker"
	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository/postgres"
	"github.com/jwalitptl/dorm-notify/internal/router"
	"github.com/jwalitptl/dorm-notify/internal/service/pipeline"
	"github.com/jwalitptl/dorm-notify/pkg/auth"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
	redisbroker "github.com/jwalitptl/dorm-notify/pkg/messaging/redis"
	"github.com/jwalitptl/dorm-notify/pkg/metrics"
	"github.com/jwalitptl/dorm-notify/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.NewLogger(&logger.Config{
		Level:      level,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
	broker, err := redisbroker.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &zl)
	if err != nil {
		log.Fatal(err, "failed to create redis broker")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	intentRepo := postgres.NewIntentRepository(baseRepo)
	linkRepo := postgres.NewLinkRepository(baseRepo)

	pipelineSvc := pipeline.NewService(intentRepo, broker, log)
	linkerSvc := linker.NewService(linkRepo, pipelineSvc, log)

	registry := realtime.NewRegistry()
	realtimeAdapter := realtime.NewAdapter(registry, log)
	externalAdapter := external.NewAdapter(external.Config{
		BaseURL:        cfg.External.BaseURL,
		Token:          cfg.External.Token,
		RequestTimeout: cfg.External.RequestTimeout,
		RatePerSecond:  cfg.External.RatePerSecond,
		RateBurst:      cfg.External.RateBurst,
	}, linkerSvc, log)

	routes := map[model.IntentKind][]channel.Adapter{
		model.KindBillReady:         {realtimeAdapter, externalAdapter},
		model.KindPaymentConfirmed:  {realtimeAdapter, externalAdapter},
		model.KindMaintenanceUpdate: {realtimeAdapter, externalAdapter},
		model.KindAccountLinked:     {realtimeAdapter},
		model.KindAccountUnlinked:   {realtimeAdapter},
	}

	dispatcher := worker.NewDispatcher(
		intentRepo,
		routes,
		pipelineSvc,
		cfg.Dispatcher.ToWorkerConfig(),
		log,
		metrics.New("dorm_notify"),
	)

	tokens := auth.NewSessionTokenService(cfg.Auth.SessionSecret, cfg.Auth.ExpiryHours)

	intentH := intenthandler.NewHandler(pipelineSvc, registry, log)
	billingH := billinghandler.NewHandler(pipelineSvc, log)
	webhookH := webhookhandler.NewHandler(linkerSvc, log)
	healthH := healthhandler.NewHandler(db)

	r := router.NewRouter(intentH, billingH, webhookH, healthH, tokens, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Start(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "graceful shutdown failed")
	}
}
