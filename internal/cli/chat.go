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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/pkg/pipeline"
)

func newChatCmd(a *cliApp) *cobra.Command {
	var (
		runID        string
		personasFile string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interview a customer persona from a market-fit run",
		Long: `Start an interactive interview with a synthetic customer persona.

Personas come from a previous pmf run (--run) or a JSON file
(--personas). When chatting against a stored run the transcript is
saved alongside it. End the session with "exit" or Ctrl-D.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			personas, st, err := loadPersonas(a, cmd, runID, personasFile)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			persona, err := selectPersona(personas)
			if err != nil {
				return err
			}

			registry, err := a.pipelineRegistry()
			if err != nil {
				return err
			}
			p, ok := registry.Get("pmf")
			if !ok {
				return fmt.Errorf("pmf pipeline is not registered")
			}
			pmf, ok := p.(*pipeline.PMFPipeline)
			if !ok {
				return fmt.Errorf("pmf pipeline does not support chat")
			}

			return chatLoop(cmd, a, pmf, st, runID, persona)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "pmf run ID to load personas from")
	cmd.Flags().StringVar(&personasFile, "personas", "", "JSON file with a list of persona objects")
	return cmd
}

// loadPersonas reads personas from a stored run or a JSON file. The
// returned store is non-nil only when a run was loaded, so the caller
// can persist the transcript.
func loadPersonas(a *cliApp, cmd *cobra.Command, runID, personasFile string) ([]map[string]interface{}, *store.Store, error) {
	switch {
	case runID != "":
		st, err := a.openStore()
		if err != nil {
			return nil, nil, err
		}
		run, err := st.GetRun(cmd.Context(), runID)
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		personas := personaList(run.Output["personas"])
		if len(personas) == 0 {
			st.Close()
			return nil, nil, fmt.Errorf("run %s has no personas (is it a completed pmf run?)", runID)
		}
		return personas, st, nil

	case personasFile != "":
		data, err := os.ReadFile(personasFile)
		if err != nil {
			return nil, nil, err
		}
		var raw []map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("invalid personas file: %w", err)
		}
		if len(raw) == 0 {
			return nil, nil, fmt.Errorf("personas file %s is empty", personasFile)
		}
		return raw, nil, nil

	default:
		return nil, nil, fmt.Errorf("either --run or --personas is required")
	}
}

func personaList(v interface{}) []map[string]interface{} {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// selectPersona prompts with a picker when more than one persona is
// available.
func selectPersona(personas []map[string]interface{}) (map[string]interface{}, error) {
	if len(personas) == 1 {
		return personas[0], nil
	}

	options := make([]huh.Option[int], 0, len(personas))
	for i, p := range personas {
		name, _ := p["name"].(string)
		if name == "" {
			name = fmt.Sprintf("persona %d", i+1)
		}
		if role, _ := p["role"].(string); role != "" {
			name = fmt.Sprintf("%s (%s)", name, role)
		}
		options = append(options, huh.NewOption(name, i))
	}

	var choice int
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().
			Title("Who do you want to interview?").
			Options(options...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return nil, err
	}
	return personas[choice], nil
}

func chatLoop(cmd *cobra.Command, a *cliApp, pmf *pipeline.PMFPipeline, st *store.Store, runID string, persona map[string]interface{}) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	name, _ := persona["name"].(string)
	if name == "" {
		name = "persona"
	}
	fmt.Fprintf(out, "Interviewing %s. Type your questions; \"exit\" ends the session.\n\n", stylePersona.Render(name))

	var history []pipeline.ChatMessage
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, styleHeader.Render("you> "))
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			break
		}

		reply, err := pmf.Chat(ctx, persona, message, history)
		if err != nil {
			fmt.Fprintln(out, renderError(err.Error()))
			continue
		}

		fmt.Fprintf(out, "%s %s\n", stylePersona.Render(name+">"), reply.Response)
		fmt.Fprintln(out, styleMuted.Render(fmt.Sprintf("  sentiment: %s  topics: %s",
			reply.Sentiment, strings.Join(reply.Topics, ", "))))
		if reply.Mock {
			fmt.Fprintln(out, styleMuted.Render("  (mock reply, no API key configured)"))
		}

		history = append(history,
			pipeline.ChatMessage{Role: "user", Content: message},
			pipeline.ChatMessage{Role: "assistant", Content: reply.Response},
		)

		if st != nil && runID != "" {
			for _, msg := range []store.ChatMessage{
				{RunID: runID, Persona: name, Role: "user", Content: message},
				{RunID: runID, Persona: name, Role: "persona", Content: reply.Response},
			} {
				if err := st.AppendChatMessage(ctx, msg); err != nil {
					a.logger.Warn("failed to save chat turn", "error", err)
				}
			}
		}
	}
	return scanner.Err()
}
