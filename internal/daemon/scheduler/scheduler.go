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

// Package scheduler runs pipelines on cron schedules, typically the
// recurring podcast digest. Schedules live in a YAML file that is
// watched for changes and reloaded without a restart.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	forgelog "github.com/draftforge/draftforge/internal/log"
)

// Submitter starts a pipeline run. Implemented by the daemon.
type Submitter interface {
	Submit(ctx context.Context, pipeline string, inputs map[string]interface{}, priority int) (string, error)
}

// Schedule is one recurring pipeline run.
type Schedule struct {
	// Name uniquely identifies the schedule.
	Name string `yaml:"name" json:"name"`

	// Cron is a standard five-field cron expression.
	Cron string `yaml:"cron" json:"cron"`

	// Pipeline names the pipeline to run.
	Pipeline string `yaml:"pipeline" json:"pipeline"`

	// Inputs are passed to every triggered run.
	Inputs map[string]interface{} `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Enabled gates execution without removing the entry.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Timezone for cron evaluation. Defaults to UTC.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`

	expr       *Expr
	nextRun    time.Time
	lastRun    *time.Time
	runCount   int64
	errorCount int64
}

// Status is a schedule's runtime state for the API.
type Status struct {
	Name       string     `json:"name"`
	Cron       string     `json:"cron"`
	Pipeline   string     `json:"pipeline"`
	Enabled    bool       `json:"enabled"`
	NextRun    time.Time  `json:"next_run"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	RunCount   int64      `json:"run_count"`
	ErrorCount int64      `json:"error_count"`
}

// scheduleFile is the YAML layout of the schedules file.
type scheduleFile struct {
	Schedules []Schedule `yaml:"schedules"`
}

// Scheduler triggers pipeline runs when their schedules come due.
type Scheduler struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
	submitter Submitter
	file      string
	logger    *slog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New builds a scheduler. When file is non-empty the schedules are
// loaded from it immediately.
func New(file string, submitter Submitter, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		schedules: make(map[string]*Schedule),
		submitter: submitter,
		file:      file,
		logger:    logger.With("component", "scheduler"),
	}
	if file != "" {
		if err := s.loadFile(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers or replaces a schedule.
func (s *Scheduler) Add(sched Schedule) error {
	expr, err := ParseCron(sched.Cron)
	if err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression: %w", sched.Name, err)
	}
	sched.expr = expr

	loc := time.UTC
	if sched.Timezone != "" {
		loc, err = time.LoadLocation(sched.Timezone)
		if err != nil {
			return fmt.Errorf("schedule %s: invalid timezone: %w", sched.Name, err)
		}
	}
	sched.nextRun = expr.Next(time.Now().In(loc))

	s.mu.Lock()
	s.schedules[sched.Name] = &sched
	s.mu.Unlock()
	return nil
}

// Remove deletes a schedule by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	delete(s.schedules, name)
	s.mu.Unlock()
}

// List returns the status of every schedule.
func (s *Scheduler) List() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, Status{
			Name:       sched.Name,
			Cron:       sched.Cron,
			Pipeline:   sched.Pipeline,
			Enabled:    sched.Enabled,
			NextRun:    sched.nextRun,
			LastRun:    sched.lastRun,
			RunCount:   sched.runCount,
			ErrorCount: sched.errorCount,
		})
	}
	return out
}

// Start launches the tick loop and, when a schedules file is set, a
// watcher that reloads it on change.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	if s.file != "" {
		go s.watch(ctx)
	}
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sched := range s.schedules {
		if !sched.Enabled || now.Before(sched.nextRun) {
			continue
		}

		go s.trigger(ctx, sched.Name, sched.Pipeline, sched.Inputs)

		loc := time.UTC
		if sched.Timezone != "" {
			if l, err := time.LoadLocation(sched.Timezone); err == nil {
				loc = l
			}
		}
		sched.nextRun = sched.expr.Next(now.In(loc))
		t := now
		sched.lastRun = &t
		sched.runCount++
	}
}

func (s *Scheduler) trigger(ctx context.Context, name, pipeline string, inputs map[string]interface{}) {
	logger := s.logger.With("schedule", name, forgelog.PipelineKey, pipeline)

	merged := make(map[string]interface{}, len(inputs)+1)
	for k, v := range inputs {
		merged[k] = v
	}
	merged["scheduled"] = true

	runID, err := s.submitter.Submit(ctx, pipeline, merged, 0)
	if err != nil {
		logger.Error("scheduled run failed to submit", forgelog.Error(err))
		s.mu.Lock()
		if sched, ok := s.schedules[name]; ok {
			sched.errorCount++
		}
		s.mu.Unlock()
		return
	}
	logger.Info("scheduled run submitted", forgelog.RunIDKey, runID)
}

// loadFile replaces all schedules with the file's contents.
func (s *Scheduler) loadFile() error {
	raw, err := os.ReadFile(s.file)
	if err != nil {
		return fmt.Errorf("failed to read schedules file: %w", err)
	}

	var parsed scheduleFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to parse schedules file: %w", err)
	}

	s.mu.Lock()
	s.schedules = make(map[string]*Schedule, len(parsed.Schedules))
	s.mu.Unlock()

	for _, sched := range parsed.Schedules {
		if err := s.Add(sched); err != nil {
			return err
		}
	}
	return nil
}

// watch reloads the schedules file whenever it changes.
func (s *Scheduler) watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Error("failed to create schedules watcher", forgelog.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(s.file); err != nil {
		s.logger.Error("failed to watch schedules file", forgelog.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.loadFile(); err != nil {
				s.logger.Error("failed to reload schedules", forgelog.Error(err))
				continue
			}
			s.logger.Info("schedules reloaded", "count", len(s.List()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("schedules watcher error", forgelog.Error(err))
		}
	}
}
