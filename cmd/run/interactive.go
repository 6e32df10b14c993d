package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-scripting/linker"
	"github.com/wippyai/wasm-scripting/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E7D5B")).
			Padding(0, 1)

	resourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#B0B0B0"))

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E7D5B"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type sharedFunc struct {
	resource string
	name     string
	binding  *linker.FunctionBinding
}

type viewState int

const (
	stateSelect viewState = iota
	stateArgs
	stateResult
)

type interactiveModel struct {
	ctx      context.Context
	host     *runtime.Host
	funcs    []sharedFunc
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    viewState
	result   string
	err      error
}

type callResultMsg struct {
	result string
	err    error
}

func newInteractiveModel(ctx context.Context, h *runtime.Host) *interactiveModel {
	m := &interactiveModel{ctx: ctx, host: h, state: stateSelect}
	m.refresh()
	return m
}

// refresh rebuilds the function list; unloads elsewhere may have purged
// entries.
func (m *interactiveModel) refresh() {
	m.funcs = m.funcs[:0]
	for _, resource := range m.host.Resources() {
		c := m.host.Context(resource)
		for _, name := range c.GlobalFunctionNames() {
			m.funcs = append(m.funcs, sharedFunc{resource: resource, name: name, binding: c.GlobalFunction(name)})
		}
	}
	if m.selected >= len(m.funcs) {
		m.selected = 0
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelect && m.selected > 0 {
				m.selected--
				return m, nil
			}

		case "down", "j":
			if m.state == stateSelect && m.selected < len(m.funcs)-1 {
				m.selected++
				return m, nil
			}

		case "enter":
			switch m.state {
			case stateSelect:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.call
				}
				m.state = stateArgs
				return m, textinput.Blink

			case stateArgs:
				return m, m.call

			case stateResult:
				m.reset()
				return m, nil
			}

		case "tab":
			if m.state == stateArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
				return m, nil
			}

		case "esc":
			if m.state != stateSelect {
				m.reset()
				return m, nil
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateResult
		return m, nil
	}

	if m.state == stateArgs {
		cmds := make([]tea.Cmd, len(m.inputs))
		for i := range m.inputs {
			m.inputs[i], cmds[i] = m.inputs[i].Update(msg)
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelect
	m.inputs = nil
	m.result = ""
	m.err = nil
	m.refresh()
}

func (m *interactiveModel) prepareInputs() {
	sig := m.funcs[m.selected].binding.Signature()
	m.inputs = make([]textinput.Model, len(sig.Params))
	for i, k := range sig.Params {
		ti := textinput.New()
		ti.Placeholder = k.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 30
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) call() tea.Msg {
	f := m.funcs[m.selected]
	texts := make([]string, 0, len(m.inputs))
	for _, in := range m.inputs {
		if in.Value() == "" {
			break
		}
		texts = append(texts, in.Value())
	}
	args, err := parseArgs(f.binding.Signature(), texts)
	if err != nil {
		return callResultMsg{err: err}
	}
	results, err := f.binding.Call(m.ctx, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: formatResults(results)}
}

func (m *interactiveModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Script Host"))
	b.WriteString(" ")
	b.WriteString(strings.Join(m.host.Resources(), ", "))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelect:
		if len(m.funcs) == 0 {
			b.WriteString("No shared functions loaded.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			return b.String()
		}
		b.WriteString("Select a shared function:\n\n")
		for i, f := range m.funcs {
			line := formatShared(f)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for _, in := range m.inputs {
			b.WriteString(in.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}

func formatShared(f sharedFunc) string {
	return resourceStyle.Render(f.resource+"/") + funcStyle.Render(f.name) + " " +
		kindStyle.Render(f.binding.Signature().Describe())
}

func runInteractive(ctx context.Context, h *runtime.Host) error {
	p := tea.NewProgram(newInteractiveModel(ctx, h), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
