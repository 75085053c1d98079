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

package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	submits []string
	inputs  []map[string]interface{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, pipeline string, inputs map[string]interface{}, priority int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, pipeline)
	f.inputs = append(f.inputs, inputs)
	return "run-1", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"every hour", "0 * * * *", false},
		{"weekday mornings", "0 9 * * 1-5", false},
		{"every 15 minutes", "*/15 * * * *", false},
		{"listed minutes", "0,30 * * * *", false},
		{"daily shortcut", "@daily", false},
		{"weekly shortcut", "@weekly", false},
		{"too few fields", "* * *", true},
		{"too many fields", "* * * * * *", true},
		{"minute out of range", "60 * * * *", true},
		{"bad step", "*/0 * * * *", true},
		{"inverted range", "30-10 * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCronNext(t *testing.T) {
	from := time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC) // Monday

	expr, err := ParseCron("0 9 * * 1-5")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), expr.Next(from))

	// From Friday evening the next weekday-9am slot is Monday.
	friday := time.Date(2026, 3, 13, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), expr.Next(friday))

	expr, err = ParseCron("*/15 * * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 8, 45, 0, 0, time.UTC), expr.Next(from))

	expr, err = ParseCron("@monthly")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), expr.Next(from))
}

func TestScheduler_TickTriggersDueSchedule(t *testing.T) {
	sub := &fakeSubmitter{}
	s, err := New("", sub, discardLogger())
	require.NoError(t, err)

	require.NoError(t, s.Add(Schedule{
		Name:     "daily-digest",
		Cron:     "* * * * *",
		Pipeline: "podcast",
		Inputs:   map[string]interface{}{"goal": "stay current on ai agents"},
		Enabled:  true,
	}))

	// Force the schedule due, then tick.
	s.mu.Lock()
	s.schedules["daily-digest"].nextRun = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	s.tick(context.Background(), time.Now())

	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.submits) == 1
	}, time.Second, 10*time.Millisecond)

	sub.mu.Lock()
	assert.Equal(t, "podcast", sub.submits[0])
	assert.Equal(t, true, sub.inputs[0]["scheduled"])
	assert.Equal(t, "stay current on ai agents", sub.inputs[0]["goal"])
	sub.mu.Unlock()

	status := s.List()
	require.Len(t, status, 1)
	assert.Equal(t, int64(1), status[0].RunCount)
	assert.NotNil(t, status[0].LastRun)
	assert.True(t, status[0].NextRun.After(time.Now()))
}

func TestScheduler_DisabledScheduleDoesNotTrigger(t *testing.T) {
	sub := &fakeSubmitter{}
	s, err := New("", sub, discardLogger())
	require.NoError(t, err)

	require.NoError(t, s.Add(Schedule{
		Name: "off", Cron: "* * * * *", Pipeline: "podcast", Enabled: false,
	}))

	s.mu.Lock()
	s.schedules["off"].nextRun = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	s.tick(context.Background(), time.Now())
	time.Sleep(20 * time.Millisecond)

	sub.mu.Lock()
	assert.Empty(t, sub.submits)
	sub.mu.Unlock()
}

func TestScheduler_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schedules:
  - name: morning-digest
    cron: "0 7 * * *"
    pipeline: podcast
    enabled: true
    inputs:
      goal: daily ai news
  - name: weekly-repurpose
    cron: "@weekly"
    pipeline: repurpose
    enabled: false
`), 0o600))

	s, err := New(path, &fakeSubmitter{}, discardLogger())
	require.NoError(t, err)

	status := s.List()
	require.Len(t, status, 2)

	names := []string{status[0].Name, status[1].Name}
	assert.Contains(t, names, "morning-digest")
	assert.Contains(t, names, "weekly-repurpose")
}

func TestScheduler_RejectsBadCronInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schedules:
  - name: broken
    cron: "not a cron"
    pipeline: podcast
    enabled: true
`), 0o600))

	_, err := New(path, &fakeSubmitter{}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}
