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

package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/internal/report"
	"github.com/draftforge/draftforge/internal/store"
)

func newRunsCmd(a *cliApp) *cobra.Command {
	var (
		status       string
		pipelineName string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 1 {
				return showRun(cmd, st, args[0])
			}

			runs, err := st.ListRuns(cmd.Context(), store.RunFilter{
				Status:   status,
				Pipeline: pipelineName,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), styleMuted.Render("no runs recorded"))
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tPIPELINE\tSTATUS\tTOKENS\tCREATED")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					run.ID, run.Pipeline, renderStatus(run.Status),
					run.TotalTokens, run.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (queued, running, completed, failed)")
	cmd.Flags().StringVar(&pipelineName, "pipeline", "", "filter by pipeline name")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func showRun(cmd *cobra.Command, st *store.Store, runID string) error {
	ctx := cmd.Context()

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	stages, err := st.GetStages(ctx, runID)
	if err != nil {
		return err
	}

	summary := &report.RunSummary{
		Pipeline:    run.Pipeline,
		RunID:       run.ID,
		Mock:        run.Mock,
		TotalTokens: run.TotalTokens,
	}
	if run.StartedAt != nil {
		summary.StartedAt = *run.StartedAt
	}
	if run.CompletedAt != nil {
		summary.CompletedAt = *run.CompletedAt
	}
	for _, s := range stages {
		summary.Stages = append(summary.Stages, report.StageRow{
			Name:       s.Name,
			Status:     string(s.Status),
			Confidence: s.Confidence,
			Iterations: s.Iterations,
			Duration:   s.Duration,
			Error:      s.Error,
		})
	}
	if err := report.WriteRunSummary(cmd.OutOrStdout(), summary); err != nil {
		return err
	}

	if run.Error != "" {
		fmt.Fprintln(cmd.OutOrStdout(), renderError(run.Error))
	}
	return nil
}
