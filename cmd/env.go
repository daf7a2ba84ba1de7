package main

import (
	"context"
	"time"

	"github.com/Samweli/GEEST/internal/analysis"
	"github.com/Samweli/GEEST/internal/evaluator"
	"github.com/Samweli/GEEST/internal/fetcher"
	"github.com/Samweli/GEEST/internal/gis"
	"github.com/Samweli/GEEST/internal/project"
	"github.com/Samweli/GEEST/internal/resilience"
)

// storeRetry converts the retry config section into a policy.
func storeRetry() resilience.RetryConfig {
	return resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)
}

// projectOptions converts the store config section into project open
// options.
func projectOptions() *project.Options {
	opts := &project.Options{
		Driver:     cfg.Store.Driver,
		ConnString: cfg.Store.DatabaseURL,
	}
	if cfg.Store.Pool.MaxConns > 0 || cfg.Store.Pool.MinConns > 0 {
		opts.Pool = &project.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		}
	}
	retry := storeRetry()
	opts.Retry = &retry
	return opts
}

// openProject opens the project at --project with the configured index
// backend.
func openProject(ctx context.Context) (*project.Project, error) {
	return project.Open(ctx, projectRoot, projectOptions())
}

// buildAnalysis wires the capability stack and evaluator for proj. The
// project's own cell size wins over the config default when both are
// set.
func buildAnalysis(proj *project.Project) *analysis.Analysis {
	var capability gis.Capability = gis.NewLocal(proj.Root)
	capability = gis.NewThrottled(capability, cfg.GIS.OpsPerSecond)
	capability = gis.NewGuardedFromConfig(capability, resilience.FromCircuitConfig(
		cfg.GIS.Circuit.FailureThreshold,
		cfg.GIS.Circuit.ResetTimeoutSecs,
	))

	cellSize := cfg.Analysis.CellSizeMeters
	if proj.Desc.CellSizeMeters > 0 {
		cellSize = proj.Desc.CellSizeMeters
	}
	eval := evaluator.New(capability, evaluator.Config{
		CellSizeMeters: cellSize,
		Resolve:        proj.ResolveSource,
	})
	return analysis.New(proj, capability, eval)
}

// newSyncer builds the remote-source syncer from the fetcher config.
func newSyncer() *fetcher.Syncer {
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         cfg.Fetcher.UserAgent,
		Timeout:           time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Fetcher.RequestsPerSecond,
		Burst:             cfg.Fetcher.Burst,
		Retry:             storeRetry(),
	})
	ftpFetcher := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout: time.Duration(cfg.Fetcher.FTPTimeoutSecs) * time.Second,
		Retry:   storeRetry(),
	})
	return fetcher.NewSyncer(httpFetcher, ftpFetcher)
}
