package main

import (
	"fmt"
	"strings"

	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/observation"
	"github.com/brensch/pct/store"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type band int

const (
	bandInternal band = iota
	bandLeaf
	bandItem
	bandMask
	numBands
)

func (b band) String() string {
	switch b {
	case bandInternal:
		return "internal"
	case bandLeaf:
		return "leaf"
	case bandItem:
		return "item"
	default:
		return "mask"
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	tabStyle   = lipgloss.NewStyle().Padding(0, 1)
	activeTab  = tabStyle.Reverse(true)
	validStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle  = dimStyle
)

type model struct {
	rows   []store.ObservationRow
	layout layout.Layout
	height int

	idx    int
	band   band
	offset int

	decoded observation.Decoded
	err     error
}

func newModel(rows []store.ObservationRow, l layout.Layout, height int) model {
	if height <= 0 {
		height = 20
	}
	m := model{rows: rows, layout: l, height: height}
	m.decode()
	return m
}

func (m *model) decode() {
	m.decoded, m.err = m.rows[m.idx].Decode(m.layout)
	m.offset = 0
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "right", "n":
		if m.idx < len(m.rows)-1 {
			m.idx++
			m.decode()
		}
	case "left", "p":
		if m.idx > 0 {
			m.idx--
			m.decode()
		}
	case "tab":
		m.band = (m.band + 1) % numBands
		m.offset = 0
	case "shift+tab":
		m.band = (m.band + numBands - 1) % numBands
		m.offset = 0
	case "down", "j":
		if m.offset+m.height < m.bandRows() {
			m.offset++
		}
	case "up", "k":
		if m.offset > 0 {
			m.offset--
		}
	}
	return m, nil
}

func (m model) bandRows() int {
	if m.err != nil {
		return 0
	}
	switch m.band {
	case bandInternal:
		return m.decoded.Internal.Rows()
	case bandLeaf:
		return m.decoded.Leaf.Rows()
	case bandItem:
		return m.decoded.Item.Rows()
	default:
		return m.decoded.FullMask.Rows()
	}
}

func (m model) View() string {
	var b strings.Builder
	r := m.rows[m.idx]
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  step %d  env %d  [%d/%d]", r.Run, r.Step, r.Env, m.idx+1, len(m.rows))))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("action %d  reward %.4f  done %v  %s\n\n", r.Action, r.Reward, r.Done, m.layout))

	for i := band(0); i < numBands; i++ {
		if i == m.band {
			b.WriteString(activeTab.Render(i.String()))
		} else {
			b.WriteString(tabStyle.Render(i.String()))
		}
	}
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()))
	} else {
		b.WriteString(renderBand(m.decoded, m.band, m.offset, m.height))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("←/→ sample  tab band  ↑/↓ scroll  q quit"))
	b.WriteString("\n")
	return b.String()
}

// renderBand draws up to height rows of one band of sample 0 starting at offset.
func renderBand(d observation.Decoded, which band, offset, height int) string {
	var b strings.Builder
	switch which {
	case bandMask:
		end := min(offset+height, d.FullMask.Rows())
		for r := offset; r < end; r++ {
			line := fmt.Sprintf("%4d  %s", r, maskKind(d, r))
			if d.FullMask.At(0, r) != 0 {
				b.WriteString(validStyle.Render(line + "  1"))
			} else {
				b.WriteString(dimStyle.Render(line + "  0"))
			}
			b.WriteString("\n")
		}
		return b.String()
	}

	var v observation.View
	switch which {
	case bandInternal:
		v = d.Internal
	case bandLeaf:
		v = d.Leaf
	default:
		v = d.Item
	}
	end := min(offset+height, v.Rows())
	for r := offset; r < end; r++ {
		line := fmt.Sprintf("%4d  %s", r, formatRow(v.Row(0, r)))
		switch {
		case which == bandLeaf && d.LeafValid.At(0, r) != 0:
			b.WriteString(validStyle.Render(line + "  valid"))
		case isZero(v.Row(0, r)):
			b.WriteString(dimStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// maskKind names the band that row r of the full mask belongs to.
func maskKind(d observation.Decoded, r int) string {
	switch {
	case r < d.Internal.Rows():
		return "internal"
	case r < d.Internal.Rows()+d.Leaf.Rows():
		return "leaf    "
	default:
		return "item    "
	}
}

func formatRow(row []float32) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = fmt.Sprintf("%7.3f", v)
	}
	return strings.Join(parts, " ")
}

func isZero(row []float32) bool {
	for _, v := range row {
		if v != 0 {
			return false
		}
	}
	return true
}
