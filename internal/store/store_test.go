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

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/pipeline"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "draftforge.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RunLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &Run{
		ID:       "run-1",
		Pipeline: "pmf",
		Status:   StatusQueued,
		Inputs:   map[string]interface{}{"idea": "meal kits for climbers"},
	}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "pmf", got.Pipeline)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, "meal kits for climbers", got.Inputs["idea"])
	assert.Nil(t, got.StartedAt)

	got.Status = StatusRunning
	now := time.Now()
	got.StartedAt = &now
	require.NoError(t, s.UpdateRun(ctx, got))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	_, err = s.GetRun(ctx, "run-nope")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateRun(ctx, &Run{ID: "run-nope", Pipeline: "pmf", Status: StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecordResult(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, &Run{
		ID: "run-2", Pipeline: "podcast", Status: StatusRunning,
	}))

	started := time.Now().Add(-time.Minute)
	result := &pipeline.Result{
		Pipeline: "podcast",
		RunID:    "run-2",
		Output:   map[string]interface{}{"digest": "# Your Podcast Digest"},
		Usage:    llm.TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
		Mock:     true,
		Stages: []pipeline.StageResult{
			{Name: "interests", Status: pipeline.StatusCompleted, Confidence: 0.9, Iterations: 1, Duration: 2 * time.Second},
			{Name: "discovery", Status: pipeline.StatusCompleted, Duration: time.Second,
				Output: map[string]interface{}{"mock": true}},
		},
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	require.NoError(t, s.RecordResult(ctx, result))

	run, err := s.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.True(t, run.Mock)
	assert.Equal(t, 150, run.TotalTokens)
	assert.Equal(t, "# Your Podcast Digest", run.Output["digest"])
	require.NotNil(t, run.CompletedAt)

	stages, err := s.GetStages(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "interests", stages[0].Name)
	assert.Equal(t, 0.9, stages[0].Confidence)
	assert.Equal(t, 2*time.Second, stages[0].Duration)
	assert.Equal(t, true, stages[1].Output["mock"])
}

func TestStore_RecordFailure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, &Run{
		ID: "run-3", Pipeline: "repurpose", Status: StatusRunning,
	}))

	stages := []pipeline.StageResult{
		{Name: "keywords", Status: pipeline.StatusCompleted, Confidence: 0.8},
		{Name: "draft-twitter", Status: pipeline.StatusFailed, Error: "parse failed"},
	}
	require.NoError(t, s.RecordFailure(ctx, "run-3", errors.New("stage drafts: parse failed"), stages))

	run, err := s.GetRun(ctx, "run-3")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "parse failed")

	saved, err := s.GetStages(ctx, "run-3")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "parse failed", saved[1].Error)
}

func TestStore_ListRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, r := range []*Run{
		{ID: "a", Pipeline: "pmf", Status: StatusCompleted},
		{ID: "b", Pipeline: "podcast", Status: StatusCompleted},
		{ID: "c", Pipeline: "pmf", Status: StatusFailed},
	} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	runs, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = s.ListRuns(ctx, RunFilter{Pipeline: "pmf"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, RunFilter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "c", runs[0].ID)

	runs, err = s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStore_ChatTranscript(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendChatMessage(ctx, ChatMessage{
		RunID: "run-4", Persona: "Maya", Role: "user", Content: "What worries you about the price?",
	}))
	require.NoError(t, s.AppendChatMessage(ctx, ChatMessage{
		RunID: "run-4", Persona: "Maya", Role: "persona", Content: "It feels steep for a starter plan.",
	}))

	history, err := s.ChatHistory(ctx, "run-4")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "persona", history[1].Role)
	assert.False(t, history[0].CreatedAt.IsZero())

	history, err = s.ChatHistory(ctx, "run-other")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_DigestHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDigestEntries(ctx, map[string]string{
		"The AI Agents Show": "Why agent loops fail",
		"Deep Dives":         "Vector search in production",
	}))

	titles, err := s.RecentDigestTitles(ctx, 30)
	require.NoError(t, err)
	assert.Len(t, titles, 2)
	assert.Contains(t, titles, "Why agent loops fail")
}
