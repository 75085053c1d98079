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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/draftforge/draftforge/internal/extract"
	"github.com/draftforge/draftforge/internal/report"
	"github.com/draftforge/draftforge/pkg/pipeline"
)

// inputFlag collects repeated key=value pairs into a pipeline input
// map. Values that parse as JSON become structured inputs.
type inputFlag map[string]interface{}

var _ pflag.Value = (*inputFlag)(nil)

func (f *inputFlag) String() string { return fmt.Sprintf("%v", map[string]interface{}(*f)) }

func (f *inputFlag) Type() string { return "key=value" }

func (f *inputFlag) Set(pair string) error {
	key, value, found := strings.Cut(pair, "=")
	if !found || key == "" {
		return fmt.Errorf("invalid input %q: expected key=value", pair)
	}
	if *f == nil {
		*f = make(map[string]interface{})
	}

	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") ||
		trimmed == "true" || trimmed == "false" {
		var parsed interface{}
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			(*f)[key] = parsed
			return nil
		}
	}
	(*f)[key] = value
	return nil
}

func newRunCmd(a *cliApp) *cobra.Command {
	var (
		inputs      = make(inputFlag)
		contentGlob string
		outputPath  string
		queryExpr   string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Execute a pipeline locally and print a run report",
		Long: `Execute a pipeline in the foreground.

Inputs are passed as repeated --input key=value flags. Values that look
like JSON are parsed; everything else is a string. For the repurpose
pipeline, --content selects the newest file matching a glob pattern
(doublestar syntax, e.g. "posts/**/*.md") as the content input.

Without a configured provider the run executes in mock mode with
canned responses. --query applies a jq expression to the pipeline
output and prints the result as JSON instead of the run report.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := map[string]interface{}(inputs)

			if contentGlob != "" {
				content, path, err := loadContentGlob(contentGlob)
				if err != nil {
					return err
				}
				in["content"] = content
				a.logger.Info("loaded content file", "path", path)
			}

			registry, err := a.pipelineRegistry()
			if err != nil {
				return err
			}
			p, ok := registry.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown pipeline %q (try \"draftforge pipelines\")", args[0])
			}

			result, runErr := p.Run(cmd.Context(), in)
			if result != nil {
				if err := writeResult(cmd, result, outputPath, asJSON, queryExpr); err != nil {
					return err
				}
			}
			if runErr != nil {
				return fmt.Errorf("pipeline %s: %w", args[0], runErr)
			}
			if result.Mock {
				fmt.Fprintln(cmd.ErrOrStderr(), renderOK("completed in mock mode (no API key configured)"))
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), renderOK(fmt.Sprintf("completed, %d tokens", result.Usage.TotalTokens)))
			}
			return nil
		},
	}

	cmd.Flags().VarP(&inputs, "input", "i", "pipeline input as key=value (repeatable)")
	cmd.Flags().StringVar(&contentGlob, "content", "", "glob pattern; newest match becomes the content input")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the pipeline output to a file")
	cmd.Flags().StringVar(&queryExpr, "query", "", "jq expression applied to the pipeline output")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON instead of a report")
	return cmd
}

// loadContentGlob resolves a doublestar glob and reads the most
// recently modified match.
func loadContentGlob(pattern string) (content, path string, err error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return "", "", fmt.Errorf("invalid content pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", "", fmt.Errorf("no files match %q", pattern)
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] < matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return "", "", err
	}
	return string(data), matches[0], nil
}

// writeResult renders a finished (or partially finished) run.
func writeResult(cmd *cobra.Command, result *pipeline.Result, outputPath string, asJSON bool, queryExpr string) error {
	if queryExpr != "" {
		value, err := extract.NewQueryExecutor(0, 0).Query(cmd.Context(), queryExpr, result.Output)
		if err != nil {
			return fmt.Errorf("output query %q: %w", queryExpr, err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(value); err != nil {
			return err
		}
	} else if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		summary := &report.RunSummary{
			Pipeline:    result.Pipeline,
			RunID:       result.RunID,
			Mock:        result.Mock,
			StartedAt:   result.StartedAt,
			CompletedAt: result.CompletedAt,
			TotalTokens: result.Usage.TotalTokens,
		}
		for _, s := range result.Stages {
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
	}

	if outputPath == "" {
		return nil
	}

	// Digest pipelines produce Markdown; everything else gets JSON.
	if md, ok := result.Output["digest"].(string); ok && strings.HasSuffix(outputPath, ".md") {
		return os.WriteFile(outputPath, []byte(md), 0o644)
	}
	data, err := json.MarshalIndent(result.Output, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func newPipelinesCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List available pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.pipelineRegistry()
			if err != nil {
				return err
			}
			for _, p := range registry.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n    %s\n",
					styleHeader.Render(p.Name()), styleMuted.Render(p.Description()))
			}
			return nil
		},
	}
}
