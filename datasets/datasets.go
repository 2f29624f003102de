// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets provides geospatial dataset adapters: each dataset maps an
// on-disk archive layout to indexed tensor samples.
//
// A Sample is a mapping of well-known string keys to tensors; datasets produce
// samples fresh on every index access, reopening and closing the underlying
// raster files each time. Batching, shuffling and parallel loading are left to
// the datamodules package and the GoMLX training framework.
package datasets

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Well-known Sample keys.
const (
	// SampleImage is the key of the input image tensor.
	SampleImage = "image"
	// SampleMask is the key of the per-pixel target tensor.
	SampleMask = "mask"
	// SamplePrediction is the key filled in by task Predict calls.
	SamplePrediction = "prediction"
)

// Sample is one example of a dataset: a mapping from string keys ("image",
// "mask", ...) to tensors. The image channel count and the mask shape vary
// per dataset.
type Sample map[string]*tensors.Tensor

// Transform takes a sample and returns a transformed version of it. It may
// modify the sample in place.
type Transform func(sample Sample) (Sample, error)

// Dataset is an indexed collection of samples. Access is synchronous and
// pull-based: index in, tensors out.
type Dataset interface {
	// Name identifies the dataset. Used for debugging and pretty-printing.
	Name() string

	// Len returns the number of samples in the dataset.
	Len() int

	// At returns the sample at the given index, in [0, Len()).
	At(index int) (Sample, error)
}

// concatDataset chains the samples of several datasets in order.
type concatDataset struct {
	parts []Dataset
	size  int
}

// Concat combines datasets into one: its length is the sum of the part
// lengths, and indices map to the parts in order.
func Concat(parts ...Dataset) Dataset {
	ds := &concatDataset{parts: parts}
	for _, part := range parts {
		ds.size += part.Len()
	}
	return ds
}

// Name implements Dataset.
func (ds *concatDataset) Name() string {
	names := make([]string, len(ds.parts))
	for ii, part := range ds.parts {
		names[ii] = part.Name()
	}
	return fmt.Sprintf("Concat(%s)", strings.Join(names, ", "))
}

// Len implements Dataset.
func (ds *concatDataset) Len() int { return ds.size }

// At implements Dataset.
func (ds *concatDataset) At(index int) (Sample, error) {
	if index < 0 || index >= ds.size {
		return nil, errors.Errorf("sample index %d out of range for %s with %d samples", index, ds.Name(), ds.size)
	}
	for _, part := range ds.parts {
		if index < part.Len() {
			return part.At(index)
		}
		index -= part.Len()
	}
	panic("unreachable") // size is the sum of the part lengths.
}

// subsetDataset re-maps indices into a subset of another dataset.
type subsetDataset struct {
	base    Dataset
	indices []int
}

// Subset creates a view of ds restricted to the given indices, in the given
// order. The indices are validated at construction.
func Subset(ds Dataset, indices []int) (Dataset, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= ds.Len() {
			return nil, errors.Errorf("subset index %d out of range for %s with %d samples", idx, ds.Name(), ds.Len())
		}
	}
	return &subsetDataset{base: ds, indices: indices}, nil
}

// Name implements Dataset.
func (ds *subsetDataset) Name() string {
	return fmt.Sprintf("Subset(%s)[%d]", ds.base.Name(), len(ds.indices))
}

// Len implements Dataset.
func (ds *subsetDataset) Len() int { return len(ds.indices) }

// At implements Dataset.
func (ds *subsetDataset) At(index int) (Sample, error) {
	if index < 0 || index >= len(ds.indices) {
		return nil, errors.Errorf("sample index %d out of range for %s with %d samples", index, ds.Name(), len(ds.indices))
	}
	return ds.base.At(ds.indices[index])
}

// Select returns the items at the given indices, in order. Indices out of
// range are skipped.
func Select[T any, I constraints.Integer](items []T, idx []I) []T {
	selected := make([]T, 0, len(idx))
	nItems := len(items)
	for _, i := range idx {
		if i >= 0 && i < I(nItems) {
			selected = append(selected, items[i])
		}
	}
	return selected
}
