// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

// sen12ms_train trains a land-cover segmentation model on the SEN12MS
// dataset.
//
// The SEN12MS raster tarballs must have been downloaded (FTP-only, see the
// datasets package docs) into --data; the split lists are fetched
// automatically and any tarballs found are extracted.
package main

import (
	"flag"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ui/commandline"
	"k8s.io/klog/v2"

	"github.com/khlaifiabilel/torchgeo/datamodules"
	"github.com/khlaifiabilel/torchgeo/datasets"
	"github.com/khlaifiabilel/torchgeo/trainers"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir   = flag.String("data", "~/tmp/sen12ms", "Directory holding the extracted SEN12MS archives and split lists.")
	flagBandSet   = flag.String("band_set", "all", "Named SEN12MS band selection: all, s1, s2-all or s2-reduced.")
	flagModel     = flag.String("model", "fcn", "Segmentation model type.")
	flagLoss      = flag.String("loss", "ce", "Loss type.")
	flagWeights   = flag.String("weights", trainers.RandomWeights, "Initial weights: 'random' or a checkpoint directory.")
	flagClasses   = flag.Int("num_classes", 18, "Number of land-cover classes (IGBP uses 17 classes plus background).")
	flagBatchSize = flag.Int("batch", 32, "Batch size for training.")
	flagSteps     = flag.Int("steps", 2000, "Number of training steps.")
	flagSeed      = flag.Int64("seed", 42, "Seed for the train/val split and the training shuffle.")
	flagChecksum  = flag.Bool("checksum", false, "Verify the MD5 checksums of the SEN12MS archives (slow).")
	flagEval      = flag.Bool("eval", true, "Evaluate on the validation and test partitions after training.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
	flagSettings  = flag.String("set", "", `Set context parameters defining the model. It should be a list of elements "param=value" separated by ";".`)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	bands := check1(datasets.SEN12MSBandSet(*flagBandSet))
	task := check1(trainers.NewSegmentationTask(*flagModel, len(bands), *flagLoss, *flagClasses, *flagWeights))
	check1(commandline.ParseContextSettings(task.Context(), *flagSettings))
	if *flagVerbosity >= 2 {
		klog.Info(commandline.SprintContextSettings(task.Context()))
	}

	dm := datamodules.NewSEN12MSDataModule(*flagDataDir, bands, *flagBatchSize, *flagSeed)
	dm.Checksum = *flagChecksum
	check(dm.Prepare())
	check(dm.Setup())

	backend := backends.MustNew()
	if *flagVerbosity >= 1 {
		klog.Infof("Backend %q: %s", backend.Name(), backend.Description())
		klog.Infof("Training on %d samples, validating on %d, testing on %d",
			dm.TrainDataset().Len(), dm.ValDataset().Len(), dm.TestDataset().Len())
	}

	err := exceptions.TryCatch[error](func() {
		check(task.Fit(backend, dm.TrainDataloader(), *flagSteps, *flagVerbosity))
		if *flagEval {
			check(task.Evaluate(backend, dm.ValDataloader(), dm.TestDataloader()))
		}
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// check reports and exits on error.
func check(err error) {
	if err == nil {
		return
	}
	klog.Fatalf("Fatal error: %+v", err)
}

// check1 reports and exits on error. Otherwise it returns the value passed.
func check1[T any](v T, err error) T {
	check(err)
	return v
}
