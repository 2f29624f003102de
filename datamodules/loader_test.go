// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package datamodules

import (
	"io"
	"math/rand"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khlaifiabilel/torchgeo/datasets"
)

const (
	fakeChannels   = 2
	fakeMaskLayers = 3
	fakeSize       = 4
)

// fakeDataset yields [fakeChannels, 4, 4] images filled with the sample index
// and [fakeMaskLayers, 4, 4] masks where layer ii is filled with
// 10*index + ii.
type fakeDataset struct {
	size int
}

func (ds *fakeDataset) Name() string { return "fake" }
func (ds *fakeDataset) Len() int     { return ds.size }

func (ds *fakeDataset) At(index int) (datasets.Sample, error) {
	planeSize := fakeSize * fakeSize
	image := make([]int32, fakeChannels*planeSize)
	for ii := range image {
		image[ii] = int32(index)
	}
	mask := make([]int32, fakeMaskLayers*planeSize)
	for layer := 0; layer < fakeMaskLayers; layer++ {
		for ii := 0; ii < planeSize; ii++ {
			mask[layer*planeSize+ii] = int32(10*index + layer)
		}
	}
	return datasets.Sample{
		datasets.SampleImage: tensors.FromFlatDataAndDimensions(image, fakeChannels, fakeSize, fakeSize),
		datasets.SampleMask:  tensors.FromFlatDataAndDimensions(mask, fakeMaskLayers, fakeSize, fakeSize),
	}, nil
}

func TestLoaderBatching(t *testing.T) {
	ds := &fakeDataset{size: 5}
	loader := NewLoader("test", ds, 2, nil, false)

	_, inputs, labels, err := loader.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.Len(t, labels, 1)
	assert.Equal(t, []int{2, fakeChannels, fakeSize, fakeSize}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{2, fakeSize, fakeSize}, labels[0].Shape().Dimensions)

	// In-order iteration: first batch covers samples 0 and 1.
	require.NoError(t, tensors.ConstFlatData(inputs[0], func(flat []int32) {
		assert.Equal(t, int32(0), flat[0])
		assert.Equal(t, int32(1), flat[fakeChannels*fakeSize*fakeSize])
	}))
	// Default label is mask layer 0.
	require.NoError(t, tensors.ConstFlatData(labels[0], func(flat []int32) {
		assert.Equal(t, int32(0), flat[0])
		assert.Equal(t, int32(10), flat[fakeSize*fakeSize])
	}))
}

func TestLoaderEpochEnd(t *testing.T) {
	ds := &fakeDataset{size: 5}
	loader := NewLoader("test", ds, 2, nil, false)

	// 5 samples at batch size 2: two full batches, one final batch of 1,
	// then io.EOF. After EOF the loader restarts by itself.
	for epoch := 0; epoch < 2; epoch++ {
		sizes := []int{2, 2, 1}
		for _, want := range sizes {
			_, inputs, _, err := loader.Yield()
			require.NoError(t, err)
			assert.Equal(t, want, inputs[0].Shape().Dimensions[0])
		}
		_, _, _, err := loader.Yield()
		require.ErrorIs(t, err, io.EOF)
	}
}

func TestLoaderInfinite(t *testing.T) {
	ds := &fakeDataset{size: 3}
	loader := NewLoader("test", ds, 2, rand.New(rand.NewSource(1)), true)
	for ii := 0; ii < 10; ii++ {
		_, inputs, _, err := loader.Yield()
		require.NoError(t, err)
		assert.Equal(t, 2, inputs[0].Shape().Dimensions[0])
	}
}

func TestLoaderMaskLayer(t *testing.T) {
	ds := &fakeDataset{size: 2}
	loader := NewLoader("test", ds, 1, nil, false).WithMaskLayer(2)
	_, _, labels, err := loader.Yield()
	require.NoError(t, err)
	require.NoError(t, tensors.ConstFlatData(labels[0], func(flat []int32) {
		assert.Equal(t, int32(2), flat[0])
	}))

	bad := NewLoader("test", ds, 1, nil, false).WithMaskLayer(fakeMaskLayers)
	_, _, _, err = bad.Yield()
	require.ErrorContains(t, err, "mask layer")
}

func TestLoaderShuffleDeterminism(t *testing.T) {
	ds := &fakeDataset{size: 8}
	first := collectOrder(t, NewLoader("a", ds, 1, rand.New(rand.NewSource(7)), false))
	second := collectOrder(t, NewLoader("b", ds, 1, rand.New(rand.NewSource(7)), false))
	assert.Equal(t, first, second)
	assert.ElementsMatch(t, []int32{0, 1, 2, 3, 4, 5, 6, 7}, first)
}

func collectOrder(t *testing.T, loader *Loader) []int32 {
	t.Helper()
	var order []int32
	for {
		_, inputs, _, err := loader.Yield()
		if err == io.EOF {
			return order
		}
		require.NoError(t, err)
		require.NoError(t, tensors.ConstFlatData(inputs[0], func(flat []int32) {
			order = append(order, flat[0])
		}))
	}
}
