package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"loadpilot/internal/planner"
	"loadpilot/internal/styles"
)

type step int

const (
	stepURL step = iota
	stepPercentage
	stepTestType
	stepDone
)

const defaultPercentage = 100

// Model is the three-question form. Each question is answered with enter;
// invalid answers keep the form on the same question.
type Model struct {
	baseline float64
	step     step

	url        textinput.Model
	percentage textinput.Model
	cursor     int

	answers planner.Answers
	err     string
	aborted bool
}

func NewModel(baselineTPS float64) Model {
	u := textinput.New()
	u.Placeholder = planner.DefaultURL
	u.Focus()
	u.Width = 50
	u.PromptStyle = styles.Active
	u.TextStyle = styles.Active

	p := textinput.New()
	p.Placeholder = strconv.Itoa(defaultPercentage)
	p.Width = 10

	return Model{baseline: baselineTPS, url: u, percentage: p}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Answers is valid once the form has finished without being aborted.
func (m Model) Answers() planner.Answers { return m.answers }

func (m Model) Aborted() bool { return m.aborted }

func (m Model) Done() bool { return m.step == stepDone }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m.updateInputs(msg)
	}

	switch key.String() {
	case "ctrl+c", "esc":
		m.aborted = true
		return m, tea.Quit
	case "enter":
		return m.submit()
	}

	if m.step == stepTestType {
		switch key.String() {
		case "up", "k", "shift+tab":
			m.cursor = (m.cursor + len(planner.TestTypes) - 1) % len(planner.TestTypes)
		case "down", "j", "tab":
			m.cursor = (m.cursor + 1) % len(planner.TestTypes)
		}
		return m, nil
	}
	return m.updateInputs(msg)
}

func (m Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.step {
	case stepURL:
		m.url, cmd = m.url.Update(msg)
	case stepPercentage:
		m.percentage, cmd = m.percentage.Update(msg)
	}
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	m.err = ""

	switch m.step {
	case stepURL:
		raw := strings.TrimSpace(m.url.Value())
		if raw == "" {
			raw = planner.DefaultURL
		}
		if _, err := planner.ValidateURL(raw); err != nil {
			m.err = "Enter an absolute http(s) URL"
			return m, nil
		}
		m.answers.URL = raw
		m.step = stepPercentage
		m.url.Blur()
		m.url.PromptStyle = styles.Subtle
		m.url.TextStyle = styles.Subtle
		m.percentage.PromptStyle = styles.Active
		m.percentage.TextStyle = styles.Active
		return m, m.percentage.Focus()

	case stepPercentage:
		pct := float64(defaultPercentage)
		if raw := strings.TrimSpace(m.percentage.Value()); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				m.err = "Enter a number"
				return m, nil
			}
			pct = v
		}
		if err := planner.ValidatePercentage(pct); err != nil {
			m.err = "Percentage must be greater than 0"
			return m, nil
		}
		m.answers.Percentage = pct
		m.step = stepTestType
		m.percentage.Blur()
		return m, nil

	case stepTestType:
		m.answers.TestType = planner.TestTypes[m.cursor]
		m.step = stepDone
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	if m.aborted {
		return styles.Warn.Render("Aborted.") + "\n"
	}
	if m.step == stepDone {
		return ""
	}

	s := strings.Builder{}
	s.WriteString(styles.Title.Render("User Input Required"))
	s.WriteString("\n\n")

	s.WriteString(styles.Subtle.Render("Enter the target URL for the test"))
	s.WriteString("\n")
	s.WriteString(m.url.View())
	s.WriteString("\n\n")

	if m.step >= stepPercentage {
		s.WriteString(styles.Subtle.Render(fmt.Sprintf(
			"Baseline TPS is %.2f. What percentage of this workload do you want to test?", m.baseline)))
		s.WriteString("\n")
		s.WriteString(m.percentage.View())
		s.WriteString("\n\n")
	}

	if m.step == stepTestType {
		s.WriteString(styles.Subtle.Render("Select the test type"))
		s.WriteString("\n")
		for i, tt := range planner.TestTypes {
			if i == m.cursor {
				s.WriteString(styles.Active.Render("> " + tt.Title()))
			} else {
				s.WriteString("  " + tt.Title())
			}
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	if m.err != "" {
		s.WriteString(styles.Error.Render(m.err))
		s.WriteString("\n\n")
	}

	s.WriteString(styles.RenderKey("enter", "confirm"))
	s.WriteString("  ")
	s.WriteString(styles.RenderKey("esc", "abort"))

	return styles.Box.Render(s.String())
}
