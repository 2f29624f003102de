// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

// Package datamodules wraps the indexed datasets of the datasets package into
// GoMLX train.Dataset loaders: batched, optionally shuffled, split into
// train/val/test partitions.
package datamodules

import (
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"

	"github.com/khlaifiabilel/torchgeo/datasets"
)

// Loader adapts a datasets.Dataset into a train.Dataset: each Yield stacks
// batchSize samples into one image and one label tensor.
//
// The per-pixel label is one layer of the sample mask, selectable with
// WithMaskLayer (default 0 -- for SEN12MS the IGBP land-cover layer).
//
// To load and decode samples in parallel, wrap the Loader with the GoMLX
// datasets.CustomParallel helper; Loader itself is safe for concurrent Yield
// calls.
type Loader struct {
	name      string
	ds        datasets.Dataset
	batchSize int
	shuffle   *rand.Rand
	infinite  bool
	maskLayer int

	mu    sync.Mutex
	pos   int
	order []int
}

var (
	assertLoaderIsTrainDataset *Loader
	_                          train.Dataset = assertLoaderIsTrainDataset
)

// NewLoader creates a Loader over ds.
//
//   - batchSize: number of samples stacked per Yield.
//   - shuffle: if not nil, the sample order is re-shuffled with it at every
//     epoch.
//   - infinite: if set the loader loops forever, for train.Loop.RunSteps.
//     Otherwise Yield returns io.EOF at the end of each epoch.
func NewLoader(name string, ds datasets.Dataset, batchSize int, shuffle *rand.Rand, infinite bool) *Loader {
	l := &Loader{
		name:      name,
		ds:        ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		infinite:  infinite,
	}
	l.reshuffle()
	return l
}

// WithMaskLayer selects which mask layer is yielded as the label tensor.
// It returns the loader to allow chaining.
func (l *Loader) WithMaskLayer(layer int) *Loader {
	l.maskLayer = layer
	return l
}

// Name implements train.Dataset.
func (l *Loader) Name() string { return l.name }

// Reset implements train.Dataset: it restarts the epoch, re-shuffling if
// configured.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pos = 0
	l.reshuffle()
}

// reshuffle regenerates the iteration order. Callers must hold mu (except
// during construction).
func (l *Loader) reshuffle() {
	if l.shuffle != nil {
		l.order = l.shuffle.Perm(l.ds.Len())
		return
	}
	l.order = make([]int, l.ds.Len())
	for ii := range l.order {
		l.order[ii] = ii
	}
}

// nextIndices picks the sample indices for the next batch. It returns io.EOF
// when a finite loader has exhausted its epoch; the position self-resets, so
// the loader can be iterated again, e.g. for repeated evaluations.
func (l *Loader) nextIndices() ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.order) == 0 {
		return nil, errors.Errorf("loader %q has no samples to yield", l.name)
	}
	indices := make([]int, 0, l.batchSize)
	for len(indices) < l.batchSize {
		if l.pos >= len(l.order) {
			if !l.infinite {
				break
			}
			l.pos = 0
			l.reshuffle()
		}
		indices = append(indices, l.order[l.pos])
		l.pos++
	}
	if len(indices) == 0 {
		l.pos = 0
		l.reshuffle()
		return nil, io.EOF
	}
	return indices, nil
}

// Yield implements train.Dataset. It returns:
//
//   - spec: the Loader itself.
//   - inputs: one tensor with the stacked images, shaped
//     [batch, channels, height, width], dtype int32.
//   - labels: one tensor with the selected mask layer, shaped
//     [batch, height, width], dtype int32.
func (l *Loader) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	indices, err := l.nextIndices()
	if err != nil {
		return nil, nil, nil, err
	}

	var channels, height, width int
	var imageFlat, labelFlat []int32
	for _, index := range indices {
		sample, err := l.ds.At(index)
		if err != nil {
			return nil, nil, nil, errors.WithMessagef(err, "loader %q failed to load sample %d", l.name, index)
		}
		image, mask := sample[datasets.SampleImage], sample[datasets.SampleMask]
		if image == nil || mask == nil {
			return nil, nil, nil, errors.Errorf("loader %q: sample %d is missing %q or %q", l.name, index, datasets.SampleImage, datasets.SampleMask)
		}
		imgDims := image.Shape().Dimensions
		maskDims := mask.Shape().Dimensions
		if len(imgDims) != 3 || len(maskDims) != 3 {
			return nil, nil, nil, errors.Errorf("loader %q: sample %d tensors must be [channels, height, width], got image %v and mask %v",
				l.name, index, imgDims, maskDims)
		}
		if imageFlat == nil {
			channels, height, width = imgDims[0], imgDims[1], imgDims[2]
			imageFlat = make([]int32, 0, len(indices)*channels*height*width)
			labelFlat = make([]int32, 0, len(indices)*height*width)
		} else if imgDims[0] != channels || imgDims[1] != height || imgDims[2] != width {
			return nil, nil, nil, errors.Errorf("loader %q: sample %d image shaped %v, but batch started with [%d %d %d]",
				l.name, index, imgDims, channels, height, width)
		}
		if l.maskLayer < 0 || l.maskLayer >= maskDims[0] {
			return nil, nil, nil, errors.Errorf("loader %q: mask layer %d out of range, mask has %d layers", l.name, l.maskLayer, maskDims[0])
		}
		if maskDims[1] != height || maskDims[2] != width {
			return nil, nil, nil, errors.Errorf("loader %q: sample %d mask shaped %v doesn't match image size %dx%d",
				l.name, index, maskDims, height, width)
		}

		err = tensors.ConstFlatData(image, func(flat []int32) {
			imageFlat = append(imageFlat, flat...)
		})
		if err != nil {
			return nil, nil, nil, errors.WithMessagef(err, "loader %q: failed to access image data of sample %d", l.name, index)
		}
		planeSize := height * width
		err = tensors.ConstFlatData(mask, func(flat []int32) {
			labelFlat = append(labelFlat, flat[l.maskLayer*planeSize:(l.maskLayer+1)*planeSize]...)
		})
		if err != nil {
			return nil, nil, nil, errors.WithMessagef(err, "loader %q: failed to access mask data of sample %d", l.name, index)
		}
	}

	n := len(indices)
	return l,
		[]*tensors.Tensor{tensors.FromFlatDataAndDimensions(imageFlat, n, channels, height, width)},
		[]*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelFlat, n, height, width)},
		nil
}
