package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/docseek/internal/config"
	"github.com/xxxsen/docseek/internal/embed"
	"github.com/xxxsen/docseek/internal/filestore"
	"github.com/xxxsen/docseek/internal/handler"
	"github.com/xxxsen/docseek/internal/index"
	"github.com/xxxsen/docseek/internal/ingest"
	"github.com/xxxsen/docseek/internal/job"
	"github.com/xxxsen/docseek/internal/loader"
	"github.com/xxxsen/docseek/internal/middleware"
	"github.com/xxxsen/docseek/internal/retrieval"
	"github.com/xxxsen/docseek/internal/schedule"
	"github.com/xxxsen/docseek/internal/service"
	"github.com/xxxsen/docseek/internal/splitter"
	"github.com/xxxsen/docseek/internal/staging"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docseek",
		Short: "document ingestion and hybrid retrieval server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run docseek server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "remove expired staging once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runCleanup(cfg)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd, cleanupCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

type app struct {
	uploads *service.UploadService
	engine  *retrieval.Engine
	store   *index.Lazy
	writer  *ingest.Writer
}

func (a *app) close() {
	a.writer.Release()
	if err := a.store.Close(); err != nil {
		logutil.GetLogger(context.Background()).Warn("close index failed", zap.Error(err))
	}
}

func buildApp(cfg *config.Config) (*app, error) {
	st, err := staging.New(cfg.Staging.Dir)
	if err != nil {
		return nil, fmt.Errorf("init staging: %w", err)
	}
	embedder, err := embed.Build(cfg.Embed, cfg.Index.Dimension)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	store := index.NewLazy(cfg.Index)
	if _, err := store.Get(); err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	sp, err := splitter.New(cfg.Splitter.ChunkSize, cfg.Splitter.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("init splitter: %w", err)
	}
	writer, err := ingest.NewWriter(store, embedder, cfg.Ingest.BatchSize, cfg.Ingest.Workers)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init index writer: %w", err)
	}
	archive, err := filestore.New(cfg.Archive)
	if err != nil {
		writer.Release()
		_ = store.Close()
		return nil, fmt.Errorf("init archive: %w", err)
	}
	opts := []service.UploadOption{service.WithKeepOnSuccess(cfg.Staging.KeepOnSuccess)}
	if archive != nil {
		opts = append(opts, service.WithArchive(archive))
	}
	pipeline := ingest.NewPipeline(loader.NewDispatcher(), sp, writer)
	engine := retrieval.NewEngine(store, embedder,
		retrieval.WithCandidateFactor(cfg.Retrieval.CandidateFactor),
		retrieval.WithTimeout(time.Duration(cfg.Retrieval.TimeoutSeconds)*time.Second),
	)
	return &app{
		uploads: service.NewUploadService(st, pipeline, opts...),
		engine:  engine,
		store:   store,
		writer:  writer,
	}, nil
}

func retention(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Staging.RetentionHours) * time.Hour
}

func runCleanup(cfg *config.Config) error {
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return job.NewStagingCleanupJob(a.uploads, retention(cfg)).Run(context.Background())
}

func runServer(cfg *config.Config) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("staging_dir", cfg.Staging.Dir),
		zap.String("index", cfg.Index.Type),
		zap.Int("dimension", cfg.Index.Dimension),
		zap.String("archive", cfg.Archive.Type),
	)
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewStagingCleanupJob(a.uploads, retention(cfg)), cfg.Staging.CleanupSpec); err != nil {
		return fmt.Errorf("schedule staging cleanup: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		Uploads: handler.NewUploadHandler(a.uploads, cfg.Staging.MaxChunkBytes),
		Search:  handler.NewSearchHandler(a.engine, cfg.Retrieval.DefaultLimit),
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
