package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"walkin-queue/internal/api"
	"walkin-queue/internal/cleanup"
	"walkin-queue/internal/config"
	"walkin-queue/internal/database"
	"walkin-queue/internal/dispatch"
	"walkin-queue/internal/gateway"
	"walkin-queue/internal/jobqueue"
	"walkin-queue/internal/memstore"
	"walkin-queue/internal/queue"
	"walkin-queue/internal/ratelimit"
	"walkin-queue/internal/redisdb"
	"walkin-queue/internal/websocket"
	"walkin-queue/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	flagSet := pflag.NewFlagSet("walkin-queue", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config (default: $CONFIG_PATH, then environment only)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tickets, closeTickets, err := openTicketStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeTickets()
	log.Info("[INIT] Ticket store ready", "driver", cfg.Storage.Driver)

	jobStore, closeJobs, err := openJobStore(ctx, cfg.Jobs)
	if err != nil {
		return err
	}
	defer closeJobs()

	gw, closeGateway, err := gateway.New(gateway.Config{
		Provider:    cfg.Notify.Provider,
		FromEmail:   cfg.Notify.FromEmail,
		FromPhone:   cfg.Notify.FromPhone,
		AMQPURL:     cfg.Notify.AMQPURL,
		Exchange:    cfg.Notify.Exchange,
		RoutingBase: cfg.Notify.Routing,
	}, log)
	if err != nil {
		return err
	}
	defer closeGateway()
	log.Info("[INIT] Notification gateway ready", "provider", cfg.Notify.Provider)

	jobs := jobqueue.New(jobStore, log)
	dispatcher := dispatch.New(jobs, dispatch.Templates{
		Shop:      cfg.Notify.Shop,
		SiteURL:   cfg.Notify.SiteURL,
		GraceTime: cfg.Notify.GraceTime,
	}, log)
	coordinator := queue.New(tickets, dispatcher, log)

	board := websocket.New(coordinator, jobs, log)
	coordinator.OnChange(board.Broadcast)

	w := worker.New(jobs, gw, worker.Config{
		Interval:    cfg.Jobs.Interval,
		Pacing:      cfg.Jobs.Pacing,
		SendTimeout: cfg.Jobs.SendTimeout,
	}, log, board.Broadcast)

	limiter := ratelimit.New(cfg.HTTPServer.EnrollPerMinute, time.Minute)
	janitor, err := cleanup.New(cfg.Jobs.PurgeSchedule, jobs, limiter, log)
	if err != nil {
		return err
	}

	server := api.NewServer(coordinator, jobs, dispatcher, limiter, board, log)
	httpServer := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
	}

	w.Start(ctx)
	janitor.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("[INIT] Server starting", "addr", cfg.HTTPServer.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("[SHUTDOWN] Stopping server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
		defer cancel()

		w.Stop()
		janitor.Stop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openTicketStore(ctx context.Context, cfg config.Storage) (queue.TicketStore, func(), error) {
	if cfg.Driver == "memory" {
		return memstore.New(), func() {}, nil
	}

	db, err := database.New(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

func openJobStore(ctx context.Context, cfg config.Jobs) (jobqueue.Store, func(), error) {
	if cfg.RedisURL == "" {
		return jobqueue.NewMemoryStore(), func() {}, nil
	}

	rdb, err := redisdb.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return redisdb.NewJobStore(rdb, cfg.RedisPrefix), func() { rdb.Close() }, nil
}
