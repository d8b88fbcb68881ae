package checkpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(n int) Tensor {
	t := Tensor{Shape: []int{n}, Data: make([]float32, n)}
	for i := range t.Data {
		t.Data[i] = float32(i)
	}
	return t
}

func shaped(shape ...int) Tensor {
	t := Tensor{Shape: shape}
	t.Data = make([]float32, t.Numel())
	return t
}

// wrappedPolicy mimics a checkpoint saved from a data-parallel wrapped policy.
func wrappedPolicy() StateDict {
	return StateDict{
		"module.actor.embedder.layers.0.weight":        shaped(64, 6),
		"actor.embedder.layers.1.module.weight":        shaped(64, 8),
		"module.actor.encoder.attn.W_query":            shaped(1, 64, 64),
		"module.critic.fc.weight":                      shaped(1, 128),
		"module.critic.fc.add_bias._bias":              shaped(3, 1),
		"module.dist.linear.add_bias._bias":            shaped(50, 1),
		"module.actor.encoder.layers.0.module.weights": shaped(4, 5, 6, 7),
	}
}

func TestRenameKey_Examples(t *testing.T) {
	cases := map[string]string{
		"module.actor.embedder.layers.0.weight":       "actor.embedder.layers.0.weight",
		"actor.embedder.layers.1.module.weight":       "actor.embedder.layers.1.weight",
		"actor.embedder.layers.1.module.bias":         "actor.embedder.layers.1.module.bias",
		"module.add_bias._bias":                       "bias",
		"module.critic.fc.add_bias._bias":             "critic.fc.bias",
		"module.actor.encoder.layers.0.module.weight": "actor.encoder.layers.0.weight",
		"critic.fc.weight":                            "critic.fc.weight",
	}
	for in, want := range cases {
		assert.Equal(t, want, RenameKey(in, DefaultRules), "key %q", in)
	}
}

func TestRemap_RuleOrder(t *testing.T) {
	// With the legacy rule first, "add_bias." would already be "addbias." and
	// the helper prefix would survive.
	reordered := []Rule{DefaultRules[4], DefaultRules[2], DefaultRules[3]}
	assert.Equal(t, "critic.addbias.bias", RenameKey("module.critic.add_bias._bias", reordered))
	assert.Equal(t, "critic.bias", RenameKey("module.critic.add_bias._bias", DefaultRules))
}

func TestSqueezeLegacy(t *testing.T) {
	assert.Equal(t, []int{4}, SqueezeLegacy(shaped(4, 1)).Shape)
	assert.Equal(t, []int{2, 3}, SqueezeLegacy(shaped(2, 3, 1)).Shape)
	assert.Equal(t, []int{}, SqueezeLegacy(shaped(1)).Shape)
	assert.Equal(t, []int{4, 5}, SqueezeLegacy(shaped(4, 5)).Shape)
	assert.Equal(t, []int{4, 5, 6, 7}, SqueezeLegacy(shaped(4, 5, 6, 7)).Shape)
	assert.Equal(t, []int{4, 5, 6, 1}, SqueezeLegacy(shaped(4, 5, 6, 1)).Shape)
}

func TestRemap_Success(t *testing.T) {
	target := []string{
		"actor.embedder.layers.0.weight",
		"actor.embedder.layers.1.weight",
		"actor.encoder.attn.W_query",
		"critic.fc.weight",
		"critic.fc.bias",
		"dist.linear.bias",
		"actor.encoder.layers.0.weights",
	}
	stats := &RunningStats{Mean: []float32{1}, Var: []float32{2}, Count: 3}

	out, err := Remap(Serialized{Params: wrappedPolicy(), Stats: stats}, target)
	require.NoError(t, err)
	assert.ElementsMatch(t, target, out.Keys())

	assert.Equal(t, []int{3}, out["critic.fc.bias"].Shape)
	assert.Equal(t, []int{50}, out["dist.linear.bias"].Shape)
	assert.Equal(t, []int{1, 128}, out["critic.fc.weight"].Shape)
	assert.Equal(t, []int{1, 64, 64}, out["actor.encoder.attn.W_query"].Shape)
	assert.Equal(t, []int{4, 5, 6, 7}, out["actor.encoder.layers.0.weights"].Shape)
}

func TestRemap_Idempotent(t *testing.T) {
	first, err := Rename(wrappedPolicy())
	require.NoError(t, err)
	for _, k := range first.Keys() {
		assert.Equal(t, k, RenameKey(k, DefaultRules))
	}

	second, err := Remap(Serialized{Params: first}, first.Keys())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRemap_IdempotentRepeatedUnderscoreBias(t *testing.T) {
	assert.Equal(t, "fc.bias", RenameKey("module.fc.__bias", DefaultRules))
	assert.Equal(t, "fc.bias", RenameKey("module.module.fc.___bias", DefaultRules))

	params := StateDict{"module.fc.__bias": shaped(4, 1, 1)}
	first, err := Rename(params)
	require.NoError(t, err)
	assert.Equal(t, []string{"fc.bias"}, first.Keys())
	assert.Equal(t, []int{4, 1}, first["fc.bias"].Shape)

	second, err := Rename(first, WithLegacySqueeze(false))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The squeeze drops one unit dimension per pass.
	again, err := Rename(first)
	require.NoError(t, err)
	assert.Equal(t, []string{"fc.bias"}, again.Keys())
	assert.Equal(t, []int{4}, again["fc.bias"].Shape)
}

func TestRemap_MissingKey(t *testing.T) {
	params := StateDict{"module.critic.fc.weight": shaped(1, 128)}
	target := []string{"critic.fc.weight", "critic.fc.bias"}

	_, err := Remap(Serialized{Params: params}, target)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, []string{"critic.fc.bias"}, loadErr.Missing)
	assert.Empty(t, loadErr.Unexpected)
	assert.Contains(t, err.Error(), `missing key "critic.fc.bias"`)
}

func TestRemap_UnexpectedKey(t *testing.T) {
	params := StateDict{
		"module.critic.fc.weight": shaped(1, 128),
		"module.critic.extra":     vec(2),
	}
	_, err := Remap(Serialized{Params: params}, []string{"critic.fc.weight"})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, []string{"critic.extra"}, loadErr.Unexpected)
}

func TestRemap_Collision(t *testing.T) {
	params := StateDict{
		"module.critic.bias":    vec(2),
		"critic.add_bias._bias": vec(2),
	}
	_, err := Remap(Serialized{Params: params}, []string{"critic.bias"})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	require.Len(t, loadErr.Collisions, 1)
	assert.Contains(t, loadErr.Collisions[0], "critic.bias")
}

func TestRemap_SqueezeDisabled(t *testing.T) {
	params := StateDict{"module.fc._bias": shaped(4, 1)}
	out, err := Remap(Serialized{Params: params}, []string{"fc.bias"}, WithLegacySqueeze(false))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1}, out["fc.bias"].Shape)
}

func TestRemap_BadTensor(t *testing.T) {
	params := StateDict{"fc.weight": {Shape: []int{2, 2}, Data: make([]float32, 3)}}
	_, err := Remap(Serialized{Params: params}, []string{"fc.weight"})
	require.Error(t, err)
	var loadErr *LoadError
	assert.False(t, errors.As(err, &loadErr))
}
