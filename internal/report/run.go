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

package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
)

// RunSummary describes one pipeline run for reporting.
type RunSummary struct {
	Pipeline    string
	RunID       string
	Mock        bool
	StartedAt   time.Time
	CompletedAt time.Time
	TotalTokens int
	Stages      []StageRow
}

// StageRow is one stage of a run.
type StageRow struct {
	Name       string
	Status     string
	Confidence float64
	Iterations int
	Duration   time.Duration
	Error      string
}

// WriteRunSummary renders a pipeline run as Markdown.
func WriteRunSummary(output io.Writer, run *RunSummary) error {
	md := markdown.NewMarkdown(output)

	md.H1(fmt.Sprintf("Run %s", run.RunID))
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Pipeline", run.Pipeline},
			{"Started", run.StartedAt.Format(time.RFC3339)},
			{"Duration", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()},
			{"Tokens", strconv.Itoa(run.TotalTokens)},
			{"Mock", strconv.FormatBool(run.Mock)},
		},
	})
	md.PlainText("")

	md.H2("Stages")
	md.PlainText("")

	rows := make([][]string, len(run.Stages))
	for i, s := range run.Stages {
		confidence := "-"
		if s.Confidence > 0 {
			confidence = fmt.Sprintf("%.2f", s.Confidence)
		}
		iterations := "-"
		if s.Iterations > 0 {
			iterations = strconv.Itoa(s.Iterations)
		}
		rows[i] = []string{
			s.Name,
			statusLabel(s.Status),
			confidence,
			iterations,
			s.Duration.Round(time.Millisecond).String(),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Stage", "Status", "Confidence", "Iterations", "Duration"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, s := range run.Stages {
		if s.Error != "" {
			md.Warningf("Stage %s failed: %s", s.Name, s.Error)
			md.PlainText("")
		}
	}

	return md.Build()
}

func statusLabel(status string) string {
	switch status {
	case "completed":
		return "✅ completed"
	case "failed":
		return "❌ failed"
	case "skipped":
		return "⏭ skipped"
	default:
		return status
	}
}
