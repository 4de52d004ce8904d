package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a one-line scrolling chart of the last Width samples, scaled
// to the largest visible sample.
type Sparkline struct {
	Width int
	Style lipgloss.Style

	data []uint64
}

func NewSparkline(width int, style lipgloss.Style) *Sparkline {
	return &Sparkline{Width: width, Style: style, data: make([]uint64, 0, width)}
}

func (s *Sparkline) Add(v uint64) {
	s.data = append(s.data, v)
	if len(s.data) > s.Width {
		s.data = s.data[len(s.data)-s.Width:]
	}
}

func (s *Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}

	var max uint64
	for _, v := range s.data {
		if v > max {
			max = v
		}
	}

	var graph strings.Builder
	for _, v := range s.data {
		if max == 0 {
			graph.WriteRune(levels[0])
			continue
		}
		idx := int(float64(v) / float64(max) * float64(len(levels)-1))
		graph.WriteRune(levels[idx])
	}
	if pad := s.Width - len(s.data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}
	return s.Style.Render(graph.String())
}
