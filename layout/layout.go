// Package layout describes the fixed row/column layout of a PCT observation.
//
// An observation is a (rows, FeatureWidth) matrix per sample. Rows are split into
// three contiguous bands: internal nodes, leaf (candidate placement) nodes, and the
// current item. The band boundaries come from a Layout built once at startup and
// shared read-only by every codec call in a run.
package layout

import "fmt"

const (
	// FeatureWidth is the number of columns per node row in the raw observation.
	FeatureWidth = 9
	// LeafFeatureCols is the number of leading leaf feature columns.
	LeafFeatureCols = 8
	// LeafValidCol holds the per-leaf validity flag.
	LeafValidCol = 8
	// ItemCols is the number of leading columns describing the current item.
	ItemCols = 6
	// ScaledCols is the number of leading spatial columns rescaled by the
	// normalization factor.
	ScaledCols = 6
	// MaskCol holds the full mask for every row, independent of band.
	MaskCol = FeatureWidth - 1
)

// ConfigError reports an invalid Layout parameter.
type ConfigError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("layout: invalid %s=%d: %s", e.Field, e.Value, e.Reason)
}

// validInternalLengths are the internal node feature lengths produced by the
// experiment settings.
var validInternalLengths = map[int]bool{6: true, 7: true}

// Layout is the immutable description of the PCT observation bands.
type Layout struct {
	internalHolder int
	leafHolder     int
	internalLength int
}

// New validates the parameters and returns a Layout.
func New(internalHolder, leafHolder, internalLength int) (Layout, error) {
	if internalHolder <= 0 {
		return Layout{}, &ConfigError{Field: "internal_node_holder", Value: internalHolder, Reason: "must be positive"}
	}
	if leafHolder <= 0 {
		return Layout{}, &ConfigError{Field: "leaf_node_holder", Value: leafHolder, Reason: "must be positive"}
	}
	if !validInternalLengths[internalLength] {
		return Layout{}, &ConfigError{Field: "internal_node_length", Value: internalLength, Reason: "must be 6 or 7"}
	}
	return Layout{
		internalHolder: internalHolder,
		leafHolder:     leafHolder,
		internalLength: internalLength,
	}, nil
}

// InternalLengthForSetting maps an experiment setting to its internal node length.
// Settings 1 and 2 use 6 columns; setting 3 adds a density column.
func InternalLengthForSetting(setting int) (int, error) {
	switch setting {
	case 1, 2:
		return 6, nil
	case 3:
		return 7, nil
	default:
		return 0, &ConfigError{Field: "setting", Value: setting, Reason: "must be 1, 2 or 3"}
	}
}

func (l Layout) InternalHolder() int { return l.internalHolder }
func (l Layout) LeafHolder() int     { return l.leafHolder }
func (l Layout) InternalLength() int { return l.internalLength }

// LeafStart is the first row of the leaf band.
func (l Layout) LeafStart() int { return l.internalHolder }

// LeafEnd is one past the last row of the leaf band.
func (l Layout) LeafEnd() int { return l.internalHolder + l.leafHolder }

// ItemStart is the first row of the current item band.
func (l Layout) ItemStart() int { return l.LeafEnd() }

// MinRows is the smallest row count that holds all three bands.
func (l Layout) MinRows() int { return l.LeafEnd() + 1 }

// IsZero reports whether l was never built through New.
func (l Layout) IsZero() bool { return l.internalHolder == 0 }

func (l Layout) String() string {
	return fmt.Sprintf("layout(internal=%d leaf=%d internal_len=%d)", l.internalHolder, l.leafHolder, l.internalLength)
}
