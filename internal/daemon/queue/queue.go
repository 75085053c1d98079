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

// Package queue holds pending pipeline runs until a worker picks them
// up.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned for operations on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Job is one pending pipeline run.
type Job struct {
	// RunID is the store run this job executes.
	RunID string

	// Pipeline names the registered pipeline.
	Pipeline string

	// Inputs are the run inputs.
	Inputs map[string]interface{}

	// Priority orders jobs; higher runs first. Scheduled digests use
	// low priority so interactive runs jump ahead.
	Priority int

	// EnqueuedAt is when the job entered the queue.
	EnqueuedAt time.Time
}

// Memory is an in-process priority queue.
type Memory struct {
	mu     sync.Mutex
	jobs   []*Job
	signal chan struct{}
	closed bool
}

// NewMemory creates an empty queue.
func NewMemory() *Memory {
	return &Memory{signal: make(chan struct{}, 1)}
}

// Enqueue adds a job, keeping higher-priority jobs first.
func (q *Memory) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	inserted := false
	for i, j := range q.jobs {
		if job.Priority > j.Priority {
			q.jobs = append(q.jobs[:i], append([]*Job{job}, q.jobs[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		q.jobs = append(q.jobs, job)
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the next job, blocking until one is
// available, the queue closes, or ctx is cancelled.
func (q *Memory) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-q.signal:
			if !ok {
				return nil, ErrClosed
			}
		}
	}
}

// Len returns the number of queued jobs.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close closes the queue; blocked Dequeue calls return ErrClosed.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	return nil
}
