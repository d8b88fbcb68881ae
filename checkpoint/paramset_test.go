package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamSet_LoadStrict(t *testing.T) {
	ps, err := NewParamSet([]ParamSpec{
		{Name: "critic.fc.weight", Shape: []int{1, 4}},
		{Name: "critic.fc.bias", Shape: []int{1}},
	})
	require.NoError(t, err)
	assert.False(t, ps.Loaded())

	// Missing bias: nothing is applied.
	err = Load(ps, Serialized{Params: StateDict{"module.critic.fc.weight": shaped(1, 4)}})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, []string{"critic.fc.bias"}, loadErr.Missing)
	assert.False(t, ps.Loaded())

	err = Load(ps, Serialized{Params: StateDict{
		"module.critic.fc.weight":         shaped(1, 4),
		"module.critic.fc.add_bias._bias": shaped(1, 1),
	}})
	require.NoError(t, err)
	assert.True(t, ps.Loaded())
	assert.ElementsMatch(t, []string{"critic.fc.weight", "critic.fc.bias"}, ps.StateDict().Keys())
}

func TestParamSet_ShapeMismatch(t *testing.T) {
	ps, err := NewParamSet([]ParamSpec{{Name: "fc.bias", Shape: []int{4}}})
	require.NoError(t, err)

	err = Load(ps, Serialized{Params: StateDict{"fc._bias": shaped(4, 2)}})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, loadErr.Shape, "fc.bias")
	assert.False(t, ps.Loaded())
}

func TestParamSet_Duplicate(t *testing.T) {
	_, err := NewParamSet([]ParamSpec{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)
	_, err = NewParamSet([]ParamSpec{{Name: ""}})
	assert.Error(t, err)
}

func TestReadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	b, err := json.Marshal([]ParamSpec{{Name: "b", Shape: []int{2}}, {Name: "a", Shape: []int{2, 3}}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	ps, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ps.ParameterKeys())
}
