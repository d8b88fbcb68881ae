package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear(t *testing.T) {
	assert.InDelta(t, 1e-3, Linear(1e-3, 0, 100), 1e-15)
	assert.InDelta(t, 5e-4, Linear(1e-3, 50, 100), 1e-15)
	assert.InDelta(t, 0, Linear(1e-3, 100, 100), 1e-15)
	assert.Equal(t, 1e-3, Linear(1e-3, 10, 0))
}

func TestParamGroups_UpdateLinear(t *testing.T) {
	g := ParamGroups{{Name: "actor", LR: 1}, {Name: "critic", LR: 2}}
	lr, err := g.UpdateLinear(0.4, 1, 4)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, lr, 1e-12)
	for _, pg := range g {
		assert.InDelta(t, 0.3, pg.LR, 1e-12, pg.Name)
	}

	_, err = g.UpdateLinear(0.4, 5, 4)
	assert.Error(t, err)
	_, err = g.UpdateLinear(0.4, -1, 4)
	assert.Error(t, err)
}
