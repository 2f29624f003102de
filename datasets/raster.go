// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

var registerDriversOnce sync.Once

// registerDrivers makes the GDAL raster drivers available. GDAL requires
// explicit driver registration before any dataset can be opened or created.
func registerDrivers() {
	registerDriversOnce.Do(func() {
		godal.RegisterAll()
	})
}

// readRasterData opens the raster at path and reads all of its bands,
// band-major, converting the pixel values to int32. The returned flat slice
// holds numBands contiguous planes of height*width values each.
func readRasterData(path string) (flat []int32, numBands, height, width int, err error) {
	registerDrivers()
	ds, err := godal.Open(path)
	if err != nil {
		err = errors.Wrapf(err, "failed to open raster %q", path)
		return
	}
	defer func() { _ = ds.Close() }()

	structure := ds.Structure()
	width, height, numBands = structure.SizeX, structure.SizeY, structure.NBands
	planeSize := height * width
	flat = make([]int32, numBands*planeSize)
	for ii, band := range ds.Bands() {
		plane := flat[ii*planeSize : (ii+1)*planeSize]
		if err = band.Read(0, 0, plane, width, height); err != nil {
			err = errors.Wrapf(err, "failed to read band %d of raster %q", ii, path)
			return nil, 0, 0, 0, err
		}
	}
	return
}

// ReadRaster opens the raster file at path and returns all of its bands as an
// int32 tensor shaped [bands, height, width]. It fails when the file is
// absent or malformed.
func ReadRaster(path string) (*tensors.Tensor, error) {
	flat, numBands, height, width, err := readRasterData(path)
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(flat, numBands, height, width), nil
}
