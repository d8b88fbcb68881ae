package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Data is the container geometry and the set of item sizes the environment
// samples from.
type Data struct {
	ContainerSize [3]float64
	ItemSizeSet   [][3]float64
}

// hclDataFile is the on-disk form of Data:
//
//	container_size = [10, 10, 10]
//	item_range {
//	  lower      = 1
//	  higher     = 5
//	  resolution = 1
//	}
//	item { size = [2, 3, 4] }
type hclDataFile struct {
	ContainerSize []float64      `hcl:"container_size"`
	Range         *hclItemRange  `hcl:"item_range,block"`
	Items         []*hclItemSize `hcl:"item,block"`
}

type hclItemRange struct {
	Lower      int     `hcl:"lower"`
	Higher     int     `hcl:"higher"`
	Resolution float64 `hcl:"resolution,optional"`
}

type hclItemSize struct {
	Size []float64 `hcl:"size"`
}

// DefaultData is the discrete 10x10x10 container with every item whose sides
// are in 1..5.
func DefaultData() Data {
	return Data{
		ContainerSize: [3]float64{10, 10, 10},
		ItemSizeSet:   itemGrid(1, 5, 1),
	}
}

func itemGrid(lower, higher int, resolution float64) [][3]float64 {
	var out [][3]float64
	for i := lower; i <= higher; i++ {
		for j := lower; j <= higher; j++ {
			for k := lower; k <= higher; k++ {
				out = append(out, [3]float64{float64(i) * resolution, float64(j) * resolution, float64(k) * resolution})
			}
		}
	}
	return out
}

// LoadData parses an HCL data file. Explicit item blocks come after the
// generated range, in file order.
func LoadData(path string) (Data, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Data{}, fmt.Errorf("failed to parse data file %s: %w", path, diags)
	}

	var raw hclDataFile
	diags = gohcl.DecodeBody(file.Body, nil, &raw)
	if diags.HasErrors() {
		return Data{}, fmt.Errorf("failed to decode data file %s: %w", path, diags)
	}

	var d Data
	if len(raw.ContainerSize) != 3 {
		return Data{}, fmt.Errorf("data file %s: container_size needs 3 values, got %d", path, len(raw.ContainerSize))
	}
	for i, v := range raw.ContainerSize {
		if v <= 0 {
			return Data{}, fmt.Errorf("data file %s: container_size[%d]=%v must be positive", path, i, v)
		}
		d.ContainerSize[i] = v
	}

	if r := raw.Range; r != nil {
		if r.Lower <= 0 || r.Higher < r.Lower {
			return Data{}, fmt.Errorf("data file %s: item_range %d..%d is empty", path, r.Lower, r.Higher)
		}
		res := r.Resolution
		if res == 0 {
			res = 1
		}
		d.ItemSizeSet = append(d.ItemSizeSet, itemGrid(r.Lower, r.Higher, res)...)
	}
	for i, it := range raw.Items {
		if len(it.Size) != 3 {
			return Data{}, fmt.Errorf("data file %s: item %d needs 3 sizes, got %d", path, i, len(it.Size))
		}
		d.ItemSizeSet = append(d.ItemSizeSet, [3]float64{it.Size[0], it.Size[1], it.Size[2]})
	}
	if len(d.ItemSizeSet) == 0 {
		return Data{}, fmt.Errorf("data file %s: no items", path)
	}
	return d, nil
}

// NormFactor maps container units onto the network's unit scale.
func (d Data) NormFactor() float64 {
	m := d.ContainerSize[0]
	for _, v := range d.ContainerSize[1:] {
		if v > m {
			m = v
		}
	}
	return 1.0 / m
}
