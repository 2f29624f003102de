// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

// Package trainers provides task wrappers that tie a model graph, a loss and
// an optimizer configuration to the GoMLX training loop.
//
// Tasks validate their configuration at construction: an unsupported model,
// loss or weight name fails immediately, not on the first training step.
package trainers

import (
	"sort"

	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// RandomWeights asks for randomly initialized model weights. Any other
// weights value must name an existing checkpoint directory to restore from.
const RandomWeights = "random"

// ClassificationLosses maps loss names accepted by NewClassificationTask to
// GoMLX loss functions. Labels are expected as integer class ids for "ce",
// and as float targets for "bce" and "mse".
var ClassificationLosses = map[string]losses.LossFn{
	"ce":  losses.SparseCategoricalCrossEntropyLogits,
	"bce": losses.BinaryCrossentropyLogits,
	"mse": losses.MeanSquaredError,
}

// SegmentationLosses maps loss names accepted by NewSegmentationTask to
// per-pixel GoMLX loss functions, applied to [batch, height, width, classes]
// logits and [batch, height, width] integer labels.
var SegmentationLosses = map[string]losses.LossFn{
	"ce": flattenPerPixel(losses.SparseCategoricalCrossEntropyLogits),
}

func lossFromName(registry map[string]losses.LossFn, name string) (losses.LossFn, error) {
	lossFn, found := registry[name]
	if !found {
		return nil, errors.Errorf("loss type %q is not valid, must be one of %v", name, sortedNames(registry))
	}
	return lossFn, nil
}

// validateWeights accepts RandomWeights or an existing checkpoint directory.
func validateWeights(weights string) error {
	if weights == RandomWeights {
		return nil
	}
	if weights != "" && fsutil.MustFileExists(fsutil.MustReplaceTildeInDir(weights)) {
		return nil
	}
	return errors.Errorf("weight type %q is not valid, must be %q or an existing checkpoint directory",
		weights, RandomWeights)
}

func sortedNames[V any](m map[string]V) []string {
	names := maps.Keys(m)
	sort.Strings(names)
	return names
}
