package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tinybatch/internal/api"
	"tinybatch/internal/config"
	"tinybatch/internal/metrics"
	"tinybatch/internal/output"
	"tinybatch/internal/task"
	"tinybatch/internal/telemetry"
	"tinybatch/internal/tinify"
)

const serviceName = "tinybatch"

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mp, shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:      serviceName,
		ExporterEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init telemetry")
	}
	instruments, err := metrics.New(mp)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create metrics")
	}

	board := task.NewBoard()
	scheduler, err := buildScheduler(cfg, board, instruments)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}

	if paths := flag.Args(); len(paths) > 0 {
		if _, err := scheduler.Submit(paths); err != nil {
			log.Fatal().Err(err).Msg("failed to queue command line paths")
		}
	}

	router := setupRouter(instruments)
	wireAPI(router, scheduler, board)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)
	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")
		return gracefulShutdown(srv, scheduler, shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}

	telemetryCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownTelemetry(telemetryCtx)
	log.Info().Msg("server exited cleanly")
}

func setLogLevel(raw string) {
	level, err := zerolog.ParseLevel(raw)
	if err != nil || raw == "" {
		log.Warn().Str("log_level", raw).Msg("unknown log level, using info")
		return
	}
	zerolog.SetGlobalLevel(level)
}

func setupRouter(m api.RequestMetrics) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.Instrument(m))
	r.Use(api.ZerologLogger())
	return r
}

func buildScheduler(cfg config.Config, board *task.Board, m task.Metrics) (*task.Scheduler, error) {
	client := tinify.NewClient(tinify.Options{
		Endpoint:    cfg.Endpoint,
		HTTPTimeout: cfg.HTTPTimeout,
		UploadRate:  cfg.UploadRate,
		UploadBurst: cfg.UploadBurst,
	})
	return task.NewScheduler(client, task.Options{
		MaxConcurrentTasks:   cfg.MaxConcurrentTasks,
		Credentials:          cfg.APIKeys,
		AllowedExtensions:    cfg.AllowedExtensions,
		TaskTimeout:          cfg.TaskTimeout,
		RequeueOnCredentials: cfg.RequeueOnCredentials,
		Output:               output.Policy{Replace: cfg.ReplaceInPlace, Dir: cfg.OutputDir},
		Notifier:             task.Notifiers{board, task.LogNotifier{}},
		Metrics:              m,
	})
}

func wireAPI(router *gin.Engine, scheduler *task.Scheduler, board *task.Board) {
	apiHandler := api.NewAPI(scheduler, board)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func gracefulShutdown(srv *http.Server, scheduler *task.Scheduler, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	<-scheduler.Done()
	if !scheduler.WaitAll(ctx) {
		log.Warn().Msg("transfers did not finish before timeout")
	}
	return nil
}
