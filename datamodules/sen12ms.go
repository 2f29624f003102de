// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package datamodules

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math/rand"
	"path/filepath"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"

	"github.com/khlaifiabilel/torchgeo/datasets"
)

// SEN12MSDataModule wraps the SEN12MS dataset into train/val/test loaders.
//
// The SEN12MS distribution ships only train and test manifests; the
// validation partition is carved out of the train manifest by a seeded hash
// per sample index, so it is deterministic, disjoint from the remaining train
// samples, and reproducible across processes for the same Seed.
type SEN12MSDataModule struct {
	// Root directory holding the extracted SEN12MS archives and split lists.
	Root string

	// Bands indices into the S1+S2 channel stack. Defaults to all 15.
	Bands []int

	// BatchSize for training batches; EvalBatchSize for val/test batches,
	// defaulting to BatchSize.
	BatchSize, EvalBatchSize int

	// Seed drives both the train/val split and the training shuffle.
	Seed int64

	// ValFraction of the train manifest assigned to validation. Default 0.1.
	ValFraction float64

	// Checksum enables full MD5 verification during Setup.
	Checksum bool

	// MaskLayer yielded as the per-pixel label. Default 0 (IGBP).
	MaskLayer int

	train, val, test datasets.Dataset
}

// NewSEN12MSDataModule creates a datamodule with the default validation
// fraction. Call Setup before requesting dataloaders.
func NewSEN12MSDataModule(root string, bands []int, batchSize int, seed int64) *SEN12MSDataModule {
	return &SEN12MSDataModule{
		Root:          root,
		Bands:         bands,
		BatchSize:     batchSize,
		EvalBatchSize: batchSize,
		Seed:          seed,
		ValFraction:   0.1,
	}
}

// Prepare fetches the split lists if they are missing and extracts any
// SEN12MS tarballs present under Root. It does not download the raster
// tarballs (FTP-only, see datasets.SEN12MS).
func (dm *SEN12MSDataModule) Prepare() error {
	root := fsutil.MustReplaceTildeInDir(dm.Root)
	for _, name := range []string{"train_list.txt", "test_list.txt"} {
		if !fsutil.MustFileExists(filepath.Join(root, name)) {
			if err := datasets.DownloadSEN12MSSplits(root); err != nil {
				return err
			}
			break
		}
	}
	return datasets.ExtractSEN12MSArchives(root, dm.Checksum)
}

// Setup constructs the underlying datasets and the train/val split. All
// construction-time validation (split names, band indices, integrity) happens
// here, not on first batch access.
func (dm *SEN12MSDataModule) Setup() error {
	if dm.BatchSize <= 0 {
		return errors.Errorf("batch size must be > 0, got %d", dm.BatchSize)
	}
	if dm.EvalBatchSize <= 0 {
		dm.EvalBatchSize = dm.BatchSize
	}
	if dm.ValFraction < 0 || dm.ValFraction >= 1 {
		return errors.Errorf("validation fraction must be in [0, 1), got %g", dm.ValFraction)
	}

	full, err := datasets.NewSEN12MS(dm.Root, "train", dm.Bands, dm.Checksum)
	if err != nil {
		return err
	}
	test, err := datasets.NewSEN12MS(dm.Root, "test", dm.Bands, dm.Checksum)
	if err != nil {
		return err
	}

	var trainIdx, valIdx []int
	for index := 0; index < full.Len(); index++ {
		if dm.isValIndex(index) {
			valIdx = append(valIdx, index)
		} else {
			trainIdx = append(trainIdx, index)
		}
	}
	dm.train, err = datasets.Subset(full, trainIdx)
	if err != nil {
		return err
	}
	dm.val, err = datasets.Subset(full, valIdx)
	if err != nil {
		return err
	}
	dm.test = test
	return nil
}

// isValIndex assigns a train-manifest index to the validation partition by
// hashing the seed and the index.
func (dm *SEN12MSDataModule) isValIndex(index int) bool {
	buffer := bytes.NewBuffer(make([]byte, 0, 16))
	_ = binary.Write(buffer, binary.LittleEndian, dm.Seed)
	_ = binary.Write(buffer, binary.LittleEndian, int32(index))
	hashValue := crc32.ChecksumIEEE(buffer.Bytes())
	return float64(hashValue%1000) < dm.ValFraction*1000
}

// TrainDataset returns the training partition. Setup must have been called.
func (dm *SEN12MSDataModule) TrainDataset() datasets.Dataset { return dm.mustPartition(dm.train) }

// ValDataset returns the validation partition. Setup must have been called.
func (dm *SEN12MSDataModule) ValDataset() datasets.Dataset { return dm.mustPartition(dm.val) }

// TestDataset returns the test partition. Setup must have been called.
func (dm *SEN12MSDataModule) TestDataset() datasets.Dataset { return dm.mustPartition(dm.test) }

func (dm *SEN12MSDataModule) mustPartition(ds datasets.Dataset) datasets.Dataset {
	if ds == nil {
		exceptions.Panicf("SEN12MSDataModule: Setup() must be called before requesting datasets or dataloaders")
	}
	return ds
}

// TrainDataloader returns an infinite, shuffled loader over the training
// partition, for train.Loop.RunSteps.
func (dm *SEN12MSDataModule) TrainDataloader() train.Dataset {
	shuffle := rand.New(rand.NewSource(dm.Seed))
	return NewLoader("SEN12MS train", dm.mustPartition(dm.train), dm.BatchSize, shuffle, true).
		WithMaskLayer(dm.MaskLayer)
}

// ValDataloader returns a finite, in-order loader over the validation
// partition.
func (dm *SEN12MSDataModule) ValDataloader() train.Dataset {
	return NewLoader("SEN12MS val", dm.mustPartition(dm.val), dm.EvalBatchSize, nil, false).
		WithMaskLayer(dm.MaskLayer)
}

// TestDataloader returns a finite, in-order loader over the test partition.
func (dm *SEN12MSDataModule) TestDataloader() train.Dataset {
	return NewLoader("SEN12MS test", dm.mustPartition(dm.test), dm.EvalBatchSize, nil, false).
		WithMaskLayer(dm.MaskLayer)
}
