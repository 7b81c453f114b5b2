// The dispatcher binary runs the delivery pipeline without the HTTP edge.
// In this deployment shape the realtime channel is served by the api pods
// (sessions live where the connections are), so only the external channel
// is routed here; bill and payment kinds still fold in realtime results when
// both binaries run against the same store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/dorm-notify/internal/channel"
	"github.com/jwalitptl/dorm-notify/internal/channel/external"
	"github.com/jwalitptl/dorm-notify/internal/config"
	"github.com/jwalitptl/dorm-notify/internal/linker"
	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/repository/postgres"
	"github.com/jwalitptl/dorm-notify/internal/service/pipeline"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
	redisbroker "github.com/jwalitptl/dorm-notify/pkg/messaging/redis"
	"github.com/jwalitptl/dorm-notify/pkg/metrics"
	"github.com/jwalitptl/dorm-notify/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
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

	externalAdapter := external.NewAdapter(external.Config{
		BaseURL:        cfg.External.BaseURL,
		Token:          cfg.External.Token,
		RequestTimeout: cfg.External.RequestTimeout,
		RatePerSecond:  cfg.External.RatePerSecond,
		RateBurst:      cfg.External.RateBurst,
	}, linkerSvc, log)

	routes := map[model.IntentKind][]channel.Adapter{
		model.KindBillReady:         {externalAdapter},
		model.KindPaymentConfirmed:  {externalAdapter},
		model.KindMaintenanceUpdate: {externalAdapter},
	}

	dispatcher := worker.NewDispatcher(
		intentRepo,
		routes,
		pipelineSvc,
		cfg.Dispatcher.ToWorkerConfig(),
		log,
		metrics.New("dorm_notify_dispatcher"),
	)

	go serveOps(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		cancel()
	}()

	dispatcher.Start(ctx)
}

func serveOps(log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	if err := http.ListenAndServe(":8081", mux); err != nil {
		log.Error(err, "ops server failed")
	}
}
