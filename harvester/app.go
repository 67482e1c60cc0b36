package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/edm-harvester/internal/cache"
	"github.com/animus-labs/edm-harvester/internal/fetch"
	"github.com/animus-labs/edm-harvester/internal/harvest"
	"github.com/animus-labs/edm-harvester/internal/platform/httpserver"
	"github.com/animus-labs/edm-harvester/internal/platform/objectstore"
	"github.com/animus-labs/edm-harvester/internal/platform/postgres"
	"github.com/animus-labs/edm-harvester/internal/platform/runledger"
	"github.com/animus-labs/edm-harvester/internal/publish"
	"github.com/animus-labs/edm-harvester/internal/reconcile"
	"github.com/animus-labs/edm-harvester/internal/resolver"
	"github.com/animus-labs/edm-harvester/internal/shacl"
	"github.com/animus-labs/edm-harvester/internal/sparql"
	"github.com/animus-labs/edm-harvester/internal/transform"
	"github.com/animus-labs/edm-harvester/internal/triply"
)

// app holds the wired components of one harvester process.
type app struct {
	orchestrator *harvest.Orchestrator
	cache        *cache.Store
	db           *sql.DB
	bucket       *objectstore.Bucket
}

// configError marks failures caused by configuration or pipeline files, as
// opposed to unreachable dependencies.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	pipeline, err := transform.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		return nil, configError{err}
	}
	datasetShapes, err := shacl.LoadShapes(pipeline.DatasetShapesPath)
	if err != nil {
		return nil, configError{fmt.Errorf("dataset shapes: %w", err)}
	}
	edmShapes, err := shacl.LoadShapes(pipeline.EDMShapesPath)
	if err != nil {
		return nil, configError{fmt.Errorf("edm shapes: %w", err)}
	}

	cacheStore, err := cache.New(cache.Config{Root: cfg.CacheDir, MemoryEntries: cfg.CacheMemoryEntries})
	if err != nil {
		return nil, configError{fmt.Errorf("cache: %w", err)}
	}
	fetcher := fetch.New(fetch.NewHTTPClient(cfg.HTTPTimeout), cacheStore, logger)
	engine := sparql.NewEngine(fetcher, logger)

	a := &app{cache: cacheStore}

	var (
		provisioner resolver.Provisioner
		services    resolver.ServiceEnsurer
		saved       transform.SavedQueries
		runs        transform.QueryRunner
		publishers  []publish.Publisher
	)
	if cfg.TriplyEnabled {
		client, err := triply.New(ctx, cfg.Triply)
		if err != nil {
			return nil, configError{fmt.Errorf("triply: %w", err)}
		}
		reconciler := reconcile.New(client, logger)
		provisioner, services, saved, runs = client, reconciler, reconciler, client
		if cfg.hasTarget(publish.TargetTriply) {
			publishers = append(publishers, publish.NewTriply(client, cfg.Triply.Account, logger))
		}
	}

	if cfg.hasTarget(publish.TargetS3) {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return nil, configError{fmt.Errorf("object store: %w", err)}
		}
		bucket, err := objectstore.Open(storeCfg)
		if err != nil {
			return nil, configError{fmt.Errorf("object store: %w", err)}
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = bucket.Ensure(startupCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("object store unavailable: %w", err)
		}
		a.bucket = bucket
		publishers = append(publishers, publish.NewS3(bucket, logger))
	}

	var ledger harvest.Ledger
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, configError{fmt.Errorf("database: %w", err)}
	}
	if dbCfg.Enabled() {
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("database unavailable: %w", err)
		}
		recorder := runledger.NewRecorder(db)
		if err := recorder.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db = db
		ledger = recorder
	}

	res := resolver.New(resolver.Config{MaxInMemoryBytes: cfg.InMemoryMaxBytes, Account: cfg.Triply.Account}, fetcher, provisioner, services, logger)
	runner := transform.NewRunner(transform.RunnerConfig{PageSize: pipeline.PageSize}, engine, saved, runs, logger)

	a.orchestrator, err = harvest.New(harvest.Config{
		RegistryEndpoint: cfg.RegistryEndpoint,
		CatalogQuery:     pipeline.CatalogQuery,
		MetadataQuery:    pipeline.MetadataQuery,
		DatasetShapes:    datasetShapes,
		EDMShapes:        edmShapes,
		Templates:        pipeline.Templates,
		ReportGraph:      cfg.ReportGraph,
	}, harvest.Deps{
		Engine:      engine,
		Resolver:    res,
		Transformer: runner,
		Publishers:  publishers,
		Ledger:      ledger,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, configError{err}
	}
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *app) readinessChecks() []httpserver.ReadinessCheck {
	checks := []httpserver.ReadinessCheck{
		{
			Name: "cache",
			Check: func(ctx context.Context) error {
				return cacheWritable(a.cache.Root())
			},
		},
	}
	if a.db != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return a.db.PingContext(checkCtx)
			},
		})
	}
	if a.bucket != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return a.bucket.Check(checkCtx)
			},
		})
	}
	return checks
}
