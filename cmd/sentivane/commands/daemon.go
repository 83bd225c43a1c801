package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sentivane/sentivane/config"
	"github.com/sentivane/sentivane/handlers"
	"github.com/sentivane/sentivane/index"
	"github.com/sentivane/sentivane/logger"
	"github.com/sentivane/sentivane/queue"
	"github.com/sentivane/sentivane/source"
	"github.com/sentivane/sentivane/store"
	"github.com/sentivane/sentivane/sym"
)

// DaemonCmd runs the worker pool in the foreground.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Pulse + " Run the job worker pool in the foreground",
	Long: sym.Pulse + ` Run the Sentivane daemon.

The daemon:
- Polls the queue and executes collection and recomputation jobs
- Enforces per-source rate limits, daily quotas and circuit breakers
- Hot-reloads the index weight set when the config file changes
- Shuts down gracefully on Ctrl+C, re-queuing interrupted jobs

The daemon does not schedule jobs itself; an external scheduler (cron,
systemd timer) enqueues the daily pair, or pass --enqueue-daily to enqueue
today's collection and recompute jobs at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")
		enqueueDaily, _ := cmd.Flags().GetBool("enqueue-daily")
		return runDaemon(workers, enqueueDaily)
	},
}

func init() {
	DaemonCmd.Flags().Int("workers", 0, "Override the configured worker count")
	DaemonCmd.Flags().Bool("enqueue-daily", false, "Enqueue today's daily_collection and recompute jobs at startup")
}

func runDaemon(workers int, enqueueDaily bool) error {
	cfg, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	if workers > 0 {
		cfg.Queue.Workers = workers
	}

	records := store.NewStore(database)
	history := index.NewStore(database)
	engine := index.NewEngine(records, history, cfg.Index, logger.Logger)

	clients := make(map[string]handlers.Collector, len(cfg.Sources))
	for name, sc := range cfg.Sources {
		fetcher := source.NewHTTPFetcher(sc.URL, sc.APIKeyEnv)
		clients[name] = source.NewClient(name, sc, fetcher, records, logger.Logger)
	}

	q := queue.NewQueue(database)
	q.SetConfiguredSources(configuredSourceNames(cfg))
	registry := queue.NewHandlerRegistry()
	handlers.Register(registry, clients, engine, cfg.Collection, logger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := queue.NewWorkerPool(ctx, q, registry, cfg.Queue, logger.Logger)

	// Weight changes apply without a restart; everything else needs one
	if path := config.ActiveConfigFile(); path != "" {
		watcher, err := config.NewWatcher(path, func(next *config.Config) {
			if err := engine.SetWeights(next.Index.Weights); err != nil {
				logger.Logger.Warnw("Reloaded weights rejected", "error", err)
			}
		}, logger.Logger)
		if err != nil {
			logger.Logger.Warnw("Config hot reload unavailable", "error", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	if enqueueDaily {
		today := time.Now().UTC().Format("2006-01-02")
		for _, jobType := range []queue.JobType{queue.TypeDailyCollection, queue.TypeRecompute} {
			id, err := q.Enqueue(jobType, queue.Params{Date: today}, queue.PriorityNormal, cfg.Queue.MaxAttempts)
			if err != nil {
				logger.Logger.Warnw("Failed to enqueue daily job", "type", string(jobType), "error", err)
				continue
			}
			pterm.Info.Printfln("Enqueued %s for %s (%s)", jobType, today, id)
		}
	}

	pool.Start()

	pterm.DefaultSection.Println(sym.Pulse + " Sentivane daemon")
	pterm.Info.Printfln("Workers: %d", cfg.Queue.Workers)
	pterm.Info.Printfln("Poll interval: %v", cfg.Queue.PollInterval())
	pterm.Info.Printfln("Sources: %d configured", len(cfg.Sources))
	pterm.Info.Printfln("Database: %s", cfg.Database.Path)
	pterm.Println()
	pterm.Info.Println("Press Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Println()
	pterm.Warning.Println(sym.Close + " Shutting down...")

	pool.Stop()
	cancel()

	pterm.Success.Println("Daemon stopped")
	return nil
}
