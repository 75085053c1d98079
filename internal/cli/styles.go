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
	"github.com/charmbracelet/lipgloss"
)

var (
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))

	stylePersona = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
)

func renderOK(msg string) string {
	return styleOK.Render("✓") + " " + msg
}

func renderError(msg string) string {
	return styleError.Render("✗") + " " + msg
}

// renderStatus colors a run status for list output.
func renderStatus(status string) string {
	switch status {
	case "completed":
		return styleOK.Render(status)
	case "failed":
		return styleError.Render(status)
	case "running":
		return styleWarn.Render(status)
	default:
		return styleMuted.Render(status)
	}
}
