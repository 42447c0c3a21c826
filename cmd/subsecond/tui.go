// Copyright 2026 The Subsecond Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shadr/subsecond/orchestrator"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	readyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	buildStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

func newBuildSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = buildStyle
	return s
}

// tickMsg requests a status refresh; the view polls rather than subscribes,
// matching the driver's own poll-based status reporting elsewhere.
type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// statusModel renders per-target orchestrator state and the connected
// client count; it does not show build durations or jump-table symbol
// counts. It is a presentation layer over the stdin protocol and
// orchestrator state machine that changes no semantics (SPEC_FULL.md §6
// "Interactive status").
type statusModel struct {
	group   *orchestrator.Group
	tr      statusTransport
	spinner spinner.Model
}

type statusTransport interface {
	SubscriberCount() int
}

func newStatusModel(group *orchestrator.Group, tr statusTransport) statusModel {
	return statusModel{group: group, tr: tr, spinner: newBuildSpinner()}
}

func (m statusModel) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m statusModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("subsecond") + "\n\n")
	fmt.Fprintf(&b, "connected clients: %d\n\n", m.tr.SubscriberCount())
	for _, o := range m.group.Orchestrators {
		state := o.State()
		switch state {
		case orchestrator.StateReady:
			fmt.Fprintf(&b, "  %-20s %s\n", o.Target, readyStyle.Render(state.String()))
		case orchestrator.StateIdle:
			fmt.Fprintf(&b, "  %-20s %s\n", o.Target, buildStyle.Render(state.String()))
		default:
			fmt.Fprintf(&b, "  %-20s %s %s\n", o.Target, m.spinner.View(), buildStyle.Render(state.String()))
		}
	}
	b.WriteString("\n[r] thin build  [R] fat rebuild  [e/q] quit\n")
	return b.String()
}
