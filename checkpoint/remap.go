package checkpoint

import (
	"fmt"
	"sort"
	"strings"
)

// LoadError reports a checkpoint whose remapped keys do not match the target
// parameter names one-to-one.
type LoadError struct {
	Missing    []string // expected by the target, absent from the checkpoint
	Unexpected []string // present in the checkpoint, unknown to the target
	Collisions []string // several source keys renamed to the same name
	Shape      string   // first shape mismatch, if any
}

func (e *LoadError) Error() string {
	var parts []string
	if len(e.Collisions) > 0 {
		parts = append(parts, fmt.Sprintf("renamed key collision %q", e.Collisions[0]))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing key %q (%d total)", e.Missing[0], len(e.Missing)))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected key %q (%d total)", e.Unexpected[0], len(e.Unexpected)))
	}
	if e.Shape != "" {
		parts = append(parts, e.Shape)
	}
	return "checkpoint: load failed: " + strings.Join(parts, "; ")
}

// Rule is one rewrite of a parameter name. Applies may be nil, in which case
// the rule applies to every key. Prefix rules only rewrite a leading Old;
// the others replace every occurrence.
type Rule struct {
	Name    string
	Applies func(key string) bool
	Old     string
	New     string
	Prefix  bool
}

func (r Rule) apply(key string) (string, bool) {
	if r.Applies != nil && !r.Applies(key) {
		return key, false
	}
	if r.Prefix {
		if !strings.HasPrefix(key, r.Old) {
			return key, false
		}
		return r.New + strings.TrimPrefix(key, r.Old), true
	}
	return strings.ReplaceAll(key, r.Old, r.New), true
}

const embedderMarker = "actor.embedder.layers"

func isEmbedderKey(key string) bool  { return strings.Contains(key, embedderMarker) }
func notEmbedderKey(key string) bool { return !isEmbedderKey(key) }

// DefaultRules rewrite names produced by a data-parallel wrapped policy into
// the flat names of the bare policy. Order is significant: later rules assume
// the wrapper prefix is already gone.
//
// Embedder layer keys only lose the leading wrapper and "module.weight" ->
// "weight", so an inner "module.bias" survives; every other key loses each
// "module." occurrence. The embedder and generic rules are mutually exclusive
// per key.
var DefaultRules = []Rule{
	{Name: "embedder-wrapper", Applies: isEmbedderKey, Old: "module.", New: "", Prefix: true},
	{Name: "embedder-module-weight", Applies: isEmbedderKey, Old: "module.weight", New: "weight"},
	{Name: "module-prefix", Applies: notEmbedderKey, Old: "module.", New: ""},
	{Name: "add-bias", Old: "add_bias.", New: ""},
	{Name: "legacy-bias", Old: "_bias", New: "bias"},
}

// RenameKey runs key through rules in order, repeating the pass until the key
// stops changing, so "__bias" ends as "bias" and a renamed key renames to
// itself. Applicability is evaluated on the key as it stands when each rule
// is reached. Rules must shorten any key they change.
func RenameKey(key string, rules []Rule) string {
	for {
		next := key
		for _, r := range rules {
			next, _ = r.apply(next)
		}
		if len(next) >= len(key) {
			return next
		}
		key = next
	}
}

// SqueezeLegacy drops a trailing singleton dimension from tensors of rank 3 or
// less. Older checkpoints stored biases as (n, 1). It drops one dimension per
// call, so it is not idempotent on shapes ending in two unit dimensions; a
// state dict that was already squeezed should be renamed with
// WithLegacySqueeze(false).
func SqueezeLegacy(t Tensor) Tensor {
	if t.Rank() == 0 || t.Rank() > 3 || t.Shape[t.Rank()-1] != 1 {
		return t
	}
	shape := make([]int, t.Rank()-1)
	copy(shape, t.Shape)
	return Tensor{Shape: shape, Data: t.Data}
}

type options struct {
	rules   []Rule
	squeeze bool
}

// Option configures Remap.
type Option func(*options)

// WithRules replaces DefaultRules.
func WithRules(rules []Rule) Option {
	return func(o *options) { o.rules = rules }
}

// WithLegacySqueeze toggles SqueezeLegacy. It is on by default.
func WithLegacySqueeze(enabled bool) Option {
	return func(o *options) { o.squeeze = enabled }
}

// Rename applies the renaming rules and the legacy squeeze to every parameter,
// without checking against a target. Two source keys that end up with the same
// name are reported as a LoadError.
func Rename(params StateDict, opts ...Option) (StateDict, error) {
	o := options{rules: DefaultRules, squeeze: true}
	for _, opt := range opts {
		opt(&o)
	}

	out := make(StateDict, len(params))
	from := make(map[string]string, len(params))
	var collisions []string
	for _, k := range params.Keys() {
		v := params[k]
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("checkpoint: parameter %q: %w", k, err)
		}
		nk := RenameKey(k, o.rules)
		if prev, ok := from[nk]; ok {
			collisions = append(collisions, fmt.Sprintf("%s (from %s and %s)", nk, prev, k))
			continue
		}
		from[nk] = k
		if o.squeeze {
			v = SqueezeLegacy(v)
		}
		out[nk] = v
	}
	if len(collisions) > 0 {
		return nil, &LoadError{Collisions: collisions}
	}
	return out, nil
}

// Remap renames the checkpoint parameters and checks that the result matches
// target exactly. Stats are ignored. Either the full mapping is returned or a
// LoadError naming the unmatched keys.
func Remap(s Serialized, target []string, opts ...Option) (StateDict, error) {
	out, err := Rename(s.Params, opts...)
	if err != nil {
		return nil, err
	}
	if err := matchKeys(out, target); err != nil {
		return nil, err
	}
	return out, nil
}

func matchKeys(d StateDict, target []string) error {
	want := make(map[string]bool, len(target))
	for _, k := range target {
		want[k] = true
	}

	var missing, unexpected []string
	for k := range want {
		if _, ok := d[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range d {
		if !want[k] {
			unexpected = append(unexpected, k)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unexpected)
	return &LoadError{Missing: missing, Unexpected: unexpected}
}

// Module is a policy whose parameters can be replaced by name.
type Module interface {
	ParameterKeys() []string
	LoadStateDict(StateDict) error
}

// Load remaps s onto m's parameter names and applies it. Nothing is applied
// when remapping fails.
func Load(m Module, s Serialized, opts ...Option) error {
	d, err := Remap(s, m.ParameterKeys(), opts...)
	if err != nil {
		return err
	}
	return m.LoadStateDict(d)
}
