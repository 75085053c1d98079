// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon runs draftforged: an HTTP API in front of a worker
// pool that executes pipeline runs from a queue, with optional cron
// schedules for recurring digests.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/daemon/api"
	"github.com/draftforge/draftforge/internal/daemon/queue"
	"github.com/draftforge/draftforge/internal/daemon/scheduler"
	forgelog "github.com/draftforge/draftforge/internal/log"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/tracing"
	"github.com/draftforge/draftforge/pkg/pipeline"
)

// Options configures a Daemon.
type Options struct {
	Version  string
	Config   *config.Config
	Store    *store.Store
	Registry *pipeline.Registry
	Logger   *slog.Logger

	// Tracing emits run spans when set.
	Tracing *tracing.Provider

	// Registerer overrides the metrics registry, mainly for tests.
	Registerer prometheus.Registerer
}

// Daemon owns the queue, worker pool, scheduler, and HTTP server.
type Daemon struct {
	cfg      *config.Config
	store    *store.Store
	registry *pipeline.Registry
	queue    *queue.Memory
	sched    *scheduler.Scheduler
	server   *http.Server
	metrics  *Metrics
	tracing  *tracing.Provider
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New wires a daemon from its parts.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Registry == nil {
		return nil, errors.New("daemon requires config, store, and registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		cfg:      opts.Config,
		store:    opts.Store,
		registry: opts.Registry,
		queue:    queue.NewMemory(),
		metrics:  NewMetrics(opts.Registerer),
		tracing:  opts.Tracing,
		logger:   logger.With("component", "daemon"),
	}

	if opts.Config.Daemon.Schedules.Enabled {
		sched, err := scheduler.New(opts.Config.Daemon.Schedules.File, d, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build scheduler: %w", err)
		}
		d.sched = sched
	}

	var chatter api.Chatter
	if p, ok := opts.Registry.Get("pmf"); ok {
		if c, ok := p.(api.Chatter); ok {
			chatter = c
		}
	}

	var schedules api.ScheduleLister
	if d.sched != nil {
		schedules = d.sched
	}

	apiServer := api.NewServer(api.Config{
		Version:   opts.Version,
		Submitter: d,
		Store:     opts.Store,
		Registry:  opts.Registry,
		Chatter:   chatter,
		Schedules: schedules,
		Auth: api.AuthConfig{
			Enabled:     opts.Config.Daemon.Auth.Enabled,
			TokenHashes: opts.Config.Daemon.Auth.TokenHashes,
			JWTSecret:   opts.Config.Daemon.Auth.JWTSecret,
			SessionTTL:  opts.Config.Daemon.Auth.SessionTTL,
		},
		Logger: logger,
	})

	d.server = &http.Server{
		Addr:              opts.Config.Daemon.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return d, nil
}

// Submit records a queued run and enqueues it for a worker.
func (d *Daemon) Submit(ctx context.Context, name string, inputs map[string]interface{}, priority int) (string, error) {
	if _, ok := d.registry.Get(name); !ok {
		return "", fmt.Errorf("unknown pipeline: %s", name)
	}

	runID := uuid.New().String()
	if err := d.store.CreateRun(ctx, &store.Run{
		ID:       runID,
		Pipeline: name,
		Status:   store.StatusQueued,
		Inputs:   inputs,
	}); err != nil {
		return "", err
	}

	if err := d.queue.Enqueue(&queue.Job{
		RunID:    runID,
		Pipeline: name,
		Inputs:   inputs,
		Priority: priority,
	}); err != nil {
		return "", err
	}

	d.metrics.setQueueDepth(d.queue.Len())
	d.logger.Info("run queued", forgelog.RunIDKey, runID, forgelog.PipelineKey, name)
	return runID, nil
}

// Run starts workers, the scheduler, and the HTTP server, then blocks
// until ctx is cancelled and everything drains.
func (d *Daemon) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	for i := 0; i < d.cfg.Daemon.MaxConcurrentRuns; i++ {
		d.wg.Add(1)
		go d.worker(workerCtx, i)
	}

	if d.sched != nil {
		d.sched.Start(workerCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("listening", "addr", d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stopWorkers()
		d.wg.Wait()
		return err
	case <-ctx.Done():
	}

	d.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.ShutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("server shutdown failed", forgelog.Error(err))
	}

	if d.sched != nil {
		d.sched.Stop()
	}
	d.queue.Close()
	stopWorkers()
	d.wg.Wait()
	return nil
}

// worker pulls jobs off the queue and executes them one at a time.
func (d *Daemon) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := d.logger.With("worker", id)

	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		d.metrics.setQueueDepth(d.queue.Len())
		d.execute(ctx, logger, job)
	}
}

func (d *Daemon) execute(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	logger = logger.With(forgelog.RunIDKey, job.RunID, forgelog.PipelineKey, job.Pipeline)

	p, ok := d.registry.Get(job.Pipeline)
	if !ok {
		d.failRun(ctx, job, fmt.Errorf("unknown pipeline: %s", job.Pipeline), nil)
		return
	}

	if job.Pipeline == "podcast" {
		d.seedDigestHistory(ctx, job)
	}

	run, err := d.store.GetRun(ctx, job.RunID)
	if err != nil {
		logger.Error("run record missing", forgelog.Error(err))
		return
	}
	now := time.Now()
	run.Status = store.StatusRunning
	run.StartedAt = &now
	if err := d.store.UpdateRun(ctx, run); err != nil {
		logger.Error("failed to mark run running", forgelog.Error(err))
	}

	start := time.Now()
	runCtx := ctx
	var span trace.Span
	if d.tracing != nil {
		runCtx, span = d.tracing.StartRun(ctx, job.Pipeline, job.RunID)
	}
	result, err := p.Run(runCtx, job.Inputs)
	if span != nil {
		tracing.EndSpan(span, err)
	}
	if err != nil {
		logger.Error("run failed", forgelog.Error(err))
		// Pipelines return their partial result alongside the error, so
		// the stages that did run stay inspectable.
		var stages []pipeline.StageResult
		if result != nil {
			stages = result.Stages
		}
		d.failRun(ctx, job, err, stages)
		d.metrics.recordRun(job.Pipeline, store.StatusFailed, time.Since(start), 0)
		return
	}

	// The store tracks runs by the daemon-issued ID.
	result.RunID = job.RunID
	if err := d.store.RecordResult(ctx, result); err != nil {
		logger.Error("failed to persist result", forgelog.Error(err))
		return
	}

	if job.Pipeline == "podcast" {
		d.recordDigestHistory(ctx, result)
	}

	d.metrics.recordRun(job.Pipeline, store.StatusCompleted, time.Since(start), result.Usage.TotalTokens)
	logger.Info("run completed",
		"mock", result.Mock,
		"stages", len(result.Stages),
		forgelog.DurationKey, time.Since(start).Milliseconds())
}

func (d *Daemon) failRun(ctx context.Context, job *queue.Job, runErr error, stages []pipeline.StageResult) {
	if err := d.store.RecordFailure(ctx, job.RunID, runErr, stages); err != nil {
		d.logger.Error("failed to persist run failure", forgelog.Error(err))
	}
}

// seedDigestHistory injects previously delivered digest titles so
// novelty scoring can demote repeats. An explicit history input wins.
func (d *Daemon) seedDigestHistory(ctx context.Context, job *queue.Job) {
	if _, ok := job.Inputs["history"]; ok {
		return
	}
	titles, err := d.store.RecentDigestTitles(ctx, 0)
	if err != nil {
		d.logger.Warn("failed to load digest history", forgelog.Error(err))
		return
	}
	if len(titles) == 0 {
		return
	}

	history := make([]interface{}, 0, len(titles))
	for _, title := range titles {
		history = append(history, map[string]interface{}{"title": title})
	}
	if job.Inputs == nil {
		job.Inputs = make(map[string]interface{}, 1)
	}
	job.Inputs["history"] = history
}

// recordDigestHistory remembers the shows a digest delivered so the
// next run scores them as stale.
func (d *Daemon) recordDigestHistory(ctx context.Context, result *pipeline.Result) {
	curation, _ := result.Output["curation"].(map[string]interface{})

	var shows []map[string]interface{}
	switch v := curation["shows"].(type) {
	case []map[string]interface{}:
		shows = v
	case []interface{}:
		for _, raw := range v {
			if m, ok := raw.(map[string]interface{}); ok {
				shows = append(shows, m)
			}
		}
	}

	entries := make(map[string]string, len(shows))
	for _, show := range shows {
		name, _ := show["name"].(string)
		if name == "" {
			name, _ = show["title"].(string)
		}
		if name != "" {
			entries[name] = name
		}
	}
	if len(entries) == 0 {
		return
	}
	if err := d.store.AddDigestEntries(ctx, entries); err != nil {
		d.logger.Warn("failed to record digest history", forgelog.Error(err))
	}
}
