// Command memoryd runs the Memory Service: Memory.Ingest, Memory.Recall,
// Memory.Research, and the Profile/Summary services, exposed over the
// internal HTTP surface in internal/memoryapi.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/audit"
	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/ingest"
	"github.com/manifold-labs/chatmemory/internal/memoryapi"
	"github.com/manifold-labs/chatmemory/internal/memstore"
	"github.com/manifold-labs/chatmemory/internal/observability"
	"github.com/manifold-labs/chatmemory/internal/profile"
	"github.com/manifold-labs/chatmemory/internal/recall"
	"github.com/manifold-labs/chatmemory/internal/research"
	"github.com/manifold-labs/chatmemory/internal/summary"
)

func main() {
	cfg := config.LoadMemory()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	observability.InitLogger("", "info")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Fatal().Err(err).Msg("memoryd_otel_init_failed")
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(shutCtx)
	}()

	stores, err := memstore.NewStores(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("memoryd_stores_init_failed")
	}
	defer stores.Close()

	sharedBus := bus.New(cfg.Redis)
	defer sharedBus.Close()

	auditSink, err := audit.NewSink(ctx, cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("memoryd_audit_sink_init_failed")
	}

	var researchEnqueuer ingest.ResearchEnqueuer
	if cfg.Tuning.ResearchSidecarEnabled && cfg.Kafka.Brokers != "" {
		producer := research.NewProducer(cfg.Kafka)
		defer producer.Close()
		researchEnqueuer = producer
	}

	profileSvc := profile.NewService(stores.Rows, sharedBus)
	summarySvc := summary.NewService(stores.Rows)

	pipeline := ingest.NewPipeline(stores.Rows, stores.Search, stores.Vector, nil, auditSink, researchEnqueuer, sharedBus, profileSvc, cfg.Tuning.QualityThreshold)
	cadence := ingest.NewCadenceTracker(cfg.Tuning.AuditMsgThreshold, cfg.Tuning.AuditTokenThreshold, cfg.Tuning.AuditTimeMS)
	queue := ingest.NewQueue(pipeline, cfg.IngestWorkers, cfg.IngestQueueSize)

	recallEngine := recall.NewEngine(stores.Rows, stores.Search, stores.Vector, nil)

	app := memoryapi.New(stores.Rows, stores.Search, sharedBus, pipeline, cadence, queue, recallEngine, profileSvc, summarySvc, nil, cfg.Tuning.RecallDeadlineDefaultMS, cfg.Tuning.RecallDeadlineMaxMS)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           app.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("memoryd_listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("memoryd_listen_failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("memoryd_shutting_down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
}
