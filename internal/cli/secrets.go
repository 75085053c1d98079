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

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newSecretsCmd(a *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage stored credentials",
		Long: `Store API keys outside the config file.

Config values written as ${secret:NAME} are resolved at startup from
the secret backends (environment, OS keychain, encrypted file), so
config.yaml never holds raw keys.`,
	}

	var backend string
	setCmd := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret (prompts when no value is given)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 2 {
				value = args[1]
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "Value for %s: ", args[0])
				data, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("failed to read secret: %w", err)
				}
				value = string(data)
			}
			if value == "" {
				return fmt.Errorf("secret value must not be empty")
			}

			if err := a.resolver.Set(cmd.Context(), args[0], value, backend); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderOK(fmt.Sprintf("stored %s", args[0])))
			return nil
		},
	}
	setCmd.Flags().StringVar(&backend, "backend", "", "backend to write to (keychain, file); default is the first writable one")

	getCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a secret's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := a.resolver.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.resolver.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), styleMuted.Render("no secrets stored"))
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret from all writable backends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.resolver.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderOK(fmt.Sprintf("deleted %s", args[0])))
			return nil
		},
	}

	cmd.AddCommand(setCmd, getCmd, listCmd, deleteCmd)
	return cmd
}
