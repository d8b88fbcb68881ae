package main

import (
	"strings"
	"testing"

	"github.com/brensch/pct/layout"
	"github.com/brensch/pct/observation"
	"github.com/brensch/pct/store"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inspectRows(t *testing.T, l layout.Layout, n int) []store.ObservationRow {
	t.Helper()
	rows := make([]store.ObservationRow, n)
	for i := range rows {
		s := observation.Sample{
			Internal: [][]float32{{0, 0, 0, 1, 1, 1}},
			Leaves:   []observation.LeafNode{{Features: [8]float32{1, 1, 1, 2, 2, 2}, Valid: true}, {}},
			Item:     observation.Item{float32(i + 1), 1, 1},
		}
		obs := make([]float32, observation.SampleSize(l))
		require.NoError(t, observation.Encode(obs, s, l))
		rows[i] = store.ObservationRow{Run: "r", Step: int32(i), Rows: int32(l.MinRows()), Cols: 9, Obs: obs}
	}
	return rows
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_Navigation(t *testing.T) {
	l, err := layout.New(4, 3, 6)
	require.NoError(t, err)
	m := newModel(inspectRows(t, l, 2), l, 2)
	require.NoError(t, m.err)

	next, _ := m.Update(key("right"))
	m = next.(model)
	assert.Equal(t, 1, m.idx)
	next, _ = m.Update(key("right"))
	m = next.(model)
	assert.Equal(t, 1, m.idx, "stays on the last sample")

	next, _ = m.Update(key("down"))
	m = next.(model)
	assert.Equal(t, 1, m.offset)
	next, _ = m.Update(key("down"))
	m = next.(model)
	assert.Equal(t, 2, m.offset)
	next, _ = m.Update(key("down"))
	m = next.(model)
	assert.Equal(t, 2, m.offset, "internal band has 4 rows, 2 visible")

	next, _ = m.Update(key("tab"))
	m = next.(model)
	assert.Equal(t, bandLeaf, m.band)
	assert.Zero(t, m.offset)
	assert.Contains(t, m.View(), "valid")

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
}

func TestRenderBand(t *testing.T) {
	l, err := layout.New(2, 2, 6)
	require.NoError(t, err)
	rows := inspectRows(t, l, 1)
	d, err := rows[0].Decode(l)
	require.NoError(t, err)

	leaf := renderBand(d, bandLeaf, 0, 10)
	lines := strings.Split(strings.TrimRight(leaf, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "valid")
	assert.NotContains(t, lines[1], "valid")

	mask := renderBand(d, bandMask, 0, 10)
	assert.Len(t, strings.Split(strings.TrimRight(mask, "\n"), "\n"), l.MinRows())

	item := renderBand(d, bandItem, 0, 10)
	assert.Contains(t, item, "1.000")
}

func TestModel_BadRow(t *testing.T) {
	l, err := layout.New(2, 2, 6)
	require.NoError(t, err)
	rows := []store.ObservationRow{{Run: "r", Rows: 1, Cols: 9, Obs: make([]float32, 9)}}
	m := newModel(rows, l, 5)
	assert.Error(t, m.err)
	assert.Contains(t, m.View(), "layout needs at least")
}
