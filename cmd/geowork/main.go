package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/geowork/internal/api"
	"github.com/ternarybob/geowork/internal/common"
	"github.com/ternarybob/geowork/internal/queue"
	"github.com/ternarybob/geowork/internal/scheduler"
	"github.com/ternarybob/geowork/internal/storage/sqlite"
	"github.com/ternarybob/geowork/internal/updateprocessor"
	"github.com/ternarybob/geowork/internal/workfailer"
	"github.com/ternarybob/geowork/internal/workreaper"
)

var (
	dbPath   = flag.String("db", "geowork.db", "Path to the SQLite database file")
	httpAddr = flag.String("addr", ":8080", "HTTP listen address")
	logLevel = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger := arbor.NewLogger().
		WithConsoleWriter(arbormodels.WriterConfiguration{
			Type:             arbormodels.LogWriterTypeConsole,
			TimeFormat:       "15:04:05",
			TextOutput:       true,
			DisableTimestamp: false,
		}).
		WithLevelFromString(*logLevel)

	cfg := common.LoadConfig()

	db, err := sqlite.Open(*dbPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *dbPath).Msg("failed to open database")
	}
	defer db.Close()

	jobs := sqlite.NewJobStorage(db, logger)
	steps := sqlite.NewWorkflowStepStorage(db, logger)
	items := sqlite.NewWorkItemStorage(db, logger)
	userWork := sqlite.NewUserWorkStorage(db, logger)
	batches := sqlite.NewAggregationBatchStorage(db, logger)

	queues := queue.NewFactory(db.Conn(), cfg.Queue.VisibilityTimeout, cfg.Queue.MaxReceive, logger)

	pods := scheduler.NewPodCache(newEnvPodCounter(), cfg.Pods.CacheTTL)

	sched := scheduler.New(queues, items, userWork, pods, logger, scheduler.Config{
		ScaleFactor:               cfg.Scheduler.ScaleFactor,
		FastScaleFactor:           cfg.Scheduler.FastScaleFactor,
		Schedulers:                cfg.Scheduler.Schedulers,
		DrainBatchSize:            cfg.Scheduler.QueueMaxBatchSize,
		MaxGetMessageTries:        cfg.Scheduler.QueueMaxGetMessageTries,
		SelectorBatchSize:         cfg.Scheduler.SelectorBatchSize,
		MaxWorkItemsOnUpdateQueue: cfg.Scheduler.MaxWorkItemsOnUpdateQueue,
	})

	processor := updateprocessor.New(jobs, steps, items, userWork, batches, queues, logger, cfg.Errors.MaxErrorsForJob)

	failer := workfailer.New(items, processor, logger, time.Duration(cfg.Failer.FailableAgeMins)*time.Minute)
	reaper := workreaper.New(jobs, steps, items, logger, time.Duration(cfg.Reaper.ReapableMins)*time.Minute, cfg.Reaper.BatchSize)

	server := api.NewServer(jobs, steps, items, userWork, queues, processor, logger, api.Config{
		MaxCMRGranulesPerQuery: 2000,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// RunOnce already long-polls inside drainSchedulerQueue, so the ticker
	// interval here only paces how quickly a cycle that found nothing retries.
	go sched.Run(ctx, time.Second)
	runPeriodic(ctx, logger, "failer", cfg.Failer.CronExpr, time.Duration(cfg.Failer.PeriodSec)*time.Second, failer.RunOnce)
	runPeriodic(ctx, logger, "reaper", cfg.Reaper.CronExpr, time.Duration(cfg.Reaper.PeriodSec)*time.Second, reaper.RunOnce)

	httpSrv := &http.Server{Addr: *httpAddr, Handler: server.Routes()}
	go func() {
		logger.Info().Str("addr", *httpAddr).Msg("geowork API listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	logger.Info().Msg("geowork stopped")
}

// runPeriodic starts loop as a robfig/cron schedule when cronExpr is set,
// falling back to a plain ticker at period otherwise (spec §6's
// WORK_FAILER_PERIOD_SEC / WORK_REAPER_PERIOD_SEC, extended with an optional
// cron expression for operators who want calendar-aligned runs instead of a
// fixed interval).
func runPeriodic(ctx context.Context, logger arbor.ILogger, name, cronExpr string, period time.Duration, loop func(context.Context) error) {
	if cronExpr == "" {
		go func() {
			ticker := time.NewTicker(period)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := loop(ctx); err != nil {
						logger.Error().Err(err).Str("loop", name).Msg("periodic loop failed")
					}
				}
			}
		}()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cronExpr, func() {
		if err := loop(ctx); err != nil {
			logger.Error().Err(err).Str("loop", name).Msg("cron loop failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("loop", name).Str("cron", cronExpr).Msg("invalid cron expression")
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

// envPodCounter reads GEOWORK_POD_COUNTS ("serviceID=count,serviceID=count")
// once at startup. Worker pod counts come from the container orchestrator in
// a real deployment (out of scope for this core); this is the stand-in for
// local runs and for deployments that prefer a static config over a live
// orchestrator query.
type envPodCounter struct {
	counts map[string]int
}

func newEnvPodCounter() *envPodCounter {
	counts := make(map[string]int)
	raw := os.Getenv("GEOWORK_POD_COUNTS")
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			continue
		}
		counts[strings.TrimSpace(kv[0])] = n
	}
	return &envPodCounter{counts: counts}
}

func (e *envPodCounter) PodCount(_ context.Context, serviceID string) (int, error) {
	if n, ok := e.counts[serviceID]; ok {
		return n, nil
	}
	return 1, nil
}
