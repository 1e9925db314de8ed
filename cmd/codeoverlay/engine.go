package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"codeoverlay/internal/analysis"
	"codeoverlay/internal/config"
	"codeoverlay/internal/debounce"
	"codeoverlay/internal/jobs"
	"codeoverlay/internal/metrics"
	"codeoverlay/internal/protocol"
	"codeoverlay/internal/slogutil"
	"codeoverlay/internal/storage"
	"codeoverlay/internal/workspace"
)

// engine bundles the long-lived components shared by serve, analyze and
// replay.
type engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	runner    *jobs.Runner
	db        *storage.DB
	cache     *storage.AnalysisCache
	workspace *workspace.Workspace
}

type engineOptions struct {
	Sink  protocol.Sink
	Clock debounce.Clock
	// NoCache skips the on-disk analysis cache even when enabled in config.
	NoCache bool
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	return slogutil.Open(slogutil.Options{
		Level:      slogutil.LevelFromString(cfg.Logging.Level),
		Format:     slogutil.Format(cfg.Logging.Format),
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

// newEngine wires the analyzer, cache, job runner and workspace. The runner
// is started; call close to release everything.
func newEngine(cfg *config.Config, logger *slog.Logger, opts engineOptions) (*engine, error) {
	e := &engine{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	throttle := analysis.ThrottleOptions{
		RatePerSecond: cfg.Analysis.RatePerSecond,
		Burst:         cfg.Analysis.Burst,
		Timeout:       time.Duration(cfg.Analysis.TimeoutMs) * time.Millisecond,
		Logger:        logger,
		OnCache: func(_ analysis.Feature, hit bool) {
			e.metrics.CacheLookup(hit)
		},
	}
	if cfg.Cache.Enabled && !opts.NoCache {
		if err := e.openCache(); err != nil {
			return nil, err
		}
		throttle.Cache = e.cache
	}

	e.runner = jobs.NewRunner(logger, jobs.RunnerConfig{
		QueueSize:   cfg.Analysis.QueueSize,
		WorkerCount: cfg.Analysis.Workers,
	})
	e.runner.SetObserver(func(j *jobs.Job) {
		e.metrics.Job(string(j.Type), string(j.Status))
		if j.Status == jobs.JobFailed {
			logger.Debug("job failed", "job", j.ID, "type", j.Type, "window", j.Key, "error", j.Error)
		}
	})
	e.runner.Start()

	e.workspace = workspace.New(workspace.Options{
		Config:      cfg,
		Analyzer:    analysis.NewThrottled(analysis.LocalAnalyzer{}, throttle),
		Feasibility: analysis.TreeFeasibility{},
		Runner:      e.runner,
		Sink:        opts.Sink,
		Clock:       opts.Clock,
		Metrics:     e.metrics,
		Logger:      logger,
	})
	return e, nil
}

// openCache opens the analysis cache. A relative cache.path resolves
// against the working directory.
func (e *engine) openCache() error {
	path := e.cfg.Cache.Path
	db, err := storage.Open(path, e.logger)
	if err != nil {
		return err
	}
	cache, err := storage.NewAnalysisCache(db, storage.CacheOptions{
		TTL:      time.Duration(e.cfg.Cache.TtlSeconds) * time.Second,
		Compress: e.cfg.Cache.Compress,
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	e.db, e.cache = db, cache
	return nil
}

// settle drains pending work: debounced suggestion passes run now and the
// runner is waited on until nothing is queued.
func (e *engine) settle(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		if err := e.runner.WaitIdle(ctx); err != nil {
			return err
		}
		for _, id := range e.workspace.Windows() {
			if doc, err := e.workspace.Document(id); err == nil {
				doc.Flush()
			}
		}
	}
	return e.runner.WaitIdle(ctx)
}

// close closes every document, stops the runner and releases the cache.
func (e *engine) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := e.workspace.CloseAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.runner.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if _, err := e.cache.Purge(ctx); err != nil {
			errs = append(errs, err)
		}
		e.cache.Close()
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
