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
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/draftforge/draftforge/internal/config"
)

func newInitCmd(a *cliApp) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive first-time setup",
		Long: `Create a config file with a chosen LLM provider.

The API key is stored in a secret backend and referenced from the
config as ${secret:NAME}; the config file itself never contains the
key. Choosing "mock" skips the key and runs everything with canned
responses.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				var err error
				path, err = config.Path()
				if err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			providerType, apiKey, err := promptProvider()
			if err != nil {
				return err
			}

			cfg := config.DefaultConfig()
			if providerType != "mock" {
				secretName := providerType + "_api_key"
				if err := a.resolver.Set(cmd.Context(), secretName, apiKey, ""); err != nil {
					return fmt.Errorf("failed to store API key: %w", err)
				}
				cfg.DefaultProvider = providerType
				cfg.Providers = map[string]config.ProviderConfig{
					providerType: {
						Type:   providerType,
						APIKey: fmt.Sprintf("${secret:%s}", secretName),
					},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderOK("API key stored in secret backend"))
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderOK(fmt.Sprintf("wrote %s", path)))
			fmt.Fprintln(cmd.OutOrStdout(), styleMuted.Render("try: draftforge run pmf -i idea=\"meal kits for climbers\""))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func promptProvider() (providerType, apiKey string, err error) {
	providerForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which LLM provider do you want to use?").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Google Gemini", "gemini"),
					huh.NewOption("None, demo mode with canned responses", "mock"),
				).
				Value(&providerType),
		),
	)
	if err := providerForm.Run(); err != nil {
		return "", "", err
	}
	if providerType == "mock" {
		return providerType, "", nil
	}

	keyForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API key").
				Description("Stored in a secret backend, not in config.yaml").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("an API key is required")
					}
					return nil
				}),
		),
	)
	if err := keyForm.Run(); err != nil {
		return "", "", err
	}
	return providerType, apiKey, nil
}
