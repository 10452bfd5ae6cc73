package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bryanwahyu/docguard/internal/application"
	appanalysis "github.com/bryanwahyu/docguard/internal/application/analysis"
	"github.com/bryanwahyu/docguard/internal/config"
	domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
	"github.com/bryanwahyu/docguard/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/docguard/internal/infra/db/mysql"
	"github.com/bryanwahyu/docguard/internal/infra/db/postgres"
	"github.com/bryanwahyu/docguard/internal/infra/db/sqlite"
	"github.com/bryanwahyu/docguard/internal/infra/docservice"
	"github.com/bryanwahyu/docguard/internal/infra/fetch"
	"github.com/bryanwahyu/docguard/internal/infra/logging"
	"github.com/bryanwahyu/docguard/internal/infra/reputation/urlscan"
	"github.com/bryanwahyu/docguard/internal/infra/reputation/virustotal"
	minioStore "github.com/bryanwahyu/docguard/internal/infra/storage"
	"github.com/bryanwahyu/docguard/internal/infra/telemetry"
	"github.com/bryanwahyu/docguard/internal/middleware"
)

// app holds everything both commands need.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	telemetry *telemetry.Provider
	db        *sql.DB
	store     *minioStore.Store // nil when MinIO is not configured
	svc       *appanalysis.Service
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	a.telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Service:  cfg.Telemetry.Service,
		Version:  getVersion(),
	})
	if err != nil {
		return nil, err
	}

	// storage analisa
	var (
		repo     domain.Repository
		failures domain.FailureLog
	)
	switch cfg.Database.Driver {
	case "sqlite":
		a.db, err = sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		r := sqlite.NewAnalysisRepository(a.db)
		repo, failures = r, r
	case "mysql":
		a.db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, err
		}
		if err := mysqlp.EnsureSchema(ctx, a.db); err != nil {
			a.db.Close()
			return nil, err
		}
		repo, failures = mysqlp.NewAnalysisRepository(a.db), mysqlp.NewFailureRepository(a.db)
	case "postgres":
		a.db, err = postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, a.db); err != nil {
			a.db.Close()
			return nil, err
		}
		repo, failures = postgres.NewAnalysisRepository(a.db), postgres.NewFailureRepository(a.db)
	default:
		return nil, eris.Wrap(config.ErrUnsupportedDriver, cfg.Database.Driver)
	}
	log.Info("database ready", zap.String("driver", cfg.Database.Driver))

	// init minio, opsional: tanpa endpoint render tidak disimpan
	var images domain.ImageStore
	if cfg.Minio.Endpoint != "" {
		a.store, err = minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			a.db.Close()
			return nil, err
		}
		images = a.store
	}

	if budget := cfg.URLScan.PollInterval * time.Duration(cfg.URLScan.PollAttempts); budget >= cfg.Pipeline.StageTimeout {
		log.Warn("urlscan poll budget does not fit inside the stage timeout",
			zap.Duration("poll_budget", budget), zap.Duration("stage_timeout", cfg.Pipeline.StageTimeout))
	}

	docs := docservice.NewClient(cfg.Services.DocumentURL, nil)
	llm := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.VisionModel)

	a.svc = &appanalysis.Service{
		Repo:     repo,
		Failures: failures,
		Fetcher:  fetch.New(cfg.Pipeline.FetchTimeout, cfg.Pipeline.MaxDocumentBytes),
		Stages: domain.Stages{
			Structural:     docservice.Structural{Client: docs},
			Content:        docservice.Content{Client: docs},
			Visual:         &openai.VisualAnalyzer{Client: llm, Renderer: docs, Images: images},
			FileReputation: virustotal.NewClient(cfg.VirusTotal.BaseURL, cfg.VirusTotal.APIKey, nil),
			Prioritizer:    &openai.Prioritizer{Client: llm},
			URLReputation: urlscan.NewClient(urlscan.Options{
				BaseURL:      cfg.URLScan.BaseURL,
				APIKey:       cfg.URLScan.APIKey,
				PollInterval: cfg.URLScan.PollInterval,
				PollAttempts: cfg.URLScan.PollAttempts,
				Logger:       log.Named("urlscan"),
			}),
			Synthesizer: &openai.Synthesizer{Client: llm},
		},
		Clock:  application.SystemClock{},
		Logger: log.Named("analysis"),
		Tracer: a.telemetry.Tracer(),
		Options: appanalysis.Options{
			StageTimeout:         cfg.Pipeline.StageTimeout,
			RetryAttempts:        cfg.Pipeline.Retry.MaxAttempts,
			RetryBaseDelay:       cfg.Pipeline.Retry.BaseDelay,
			DegradeURLReputation: cfg.Pipeline.DegradeURLReputation,
		},
	}
	return a, nil
}

func (a *app) healthCheckers() map[string]middleware.HealthChecker {
	checks := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: a.db},
	}
	if a.store != nil {
		checks["storage"] = middleware.CheckerFunc(a.store.Ping)
	}
	return checks
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.log.Warn("telemetry shutdown error", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("database close error", zap.Error(err))
	}
	_ = a.log.Sync()
}
