// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package trainers

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClassificationTask(t *testing.T) {
	task, err := NewClassificationTask("cnn", 15, "ce", 10, RandomWeights)
	require.NoError(t, err)

	// Hyperparameters land in the task context.
	ctx := task.Context()
	assert.Equal(t, 15, context.GetParamOr(ctx, ParamInChannels, 0))
	assert.Equal(t, 10, context.GetParamOr(ctx, ParamNumClasses, 0))
	assert.Equal(t, "adamw", context.GetParamOr(ctx, optimizers.ParamOptimizer, ""))

	// An existing directory is accepted as a checkpoint to restore from.
	_, err = NewClassificationTask("fnn", 15, "mse", 10, t.TempDir())
	require.NoError(t, err)
}

func TestNewClassificationTaskValidation(t *testing.T) {
	_, err := NewClassificationTask("invalid_model", 15, "ce", 10, RandomWeights)
	require.ErrorContains(t, err, `model type "invalid_model" is not valid`)

	_, err = NewClassificationTask("cnn", 15, "invalid_loss", 10, RandomWeights)
	require.ErrorContains(t, err, `loss type "invalid_loss" is not valid`)

	_, err = NewClassificationTask("cnn", 15, "ce", 10, "invalid_weights")
	require.ErrorContains(t, err, `weight type "invalid_weights" is not valid`)

	_, err = NewClassificationTask("cnn", 0, "ce", 10, RandomWeights)
	require.ErrorContains(t, err, "in_channels must be > 0")

	_, err = NewClassificationTask("cnn", 15, "ce", 0, RandomWeights)
	require.ErrorContains(t, err, "num_classes must be > 0")
}

func TestNewSegmentationTask(t *testing.T) {
	task, err := NewSegmentationTask("fcn", 15, "ce", 18, RandomWeights)
	require.NoError(t, err)

	ctx := task.Context()
	assert.Equal(t, 15, context.GetParamOr(ctx, ParamInChannels, 0))
	assert.Equal(t, 18, context.GetParamOr(ctx, ParamNumClasses, 0))
	assert.Equal(t, "fcn", context.GetParamOr(ctx, "model", ""))
}

func TestNewSegmentationTaskValidation(t *testing.T) {
	_, err := NewSegmentationTask("invalid_model", 15, "ce", 18, RandomWeights)
	require.ErrorContains(t, err, `model type "invalid_model" is not valid`)

	// Segmentation only supports per-pixel cross-entropy: the classification
	// loss names don't leak into the segmentation registry.
	_, err = NewSegmentationTask("fcn", 15, "mse", 18, RandomWeights)
	require.ErrorContains(t, err, `loss type "mse" is not valid`)

	_, err = NewSegmentationTask("fcn", 15, "ce", 18, "invalid_weights")
	require.ErrorContains(t, err, `weight type "invalid_weights" is not valid`)

	_, err = NewSegmentationTask("fcn", -1, "ce", 18, RandomWeights)
	require.ErrorContains(t, err, "in_channels must be > 0")
}

func TestValidateWeights(t *testing.T) {
	assert.NoError(t, validateWeights(RandomWeights))
	assert.NoError(t, validateWeights(t.TempDir()))
	assert.Error(t, validateWeights(""))
	assert.Error(t, validateWeights("/does/not/exist"))
}

func TestSortedNames(t *testing.T) {
	assert.Equal(t, []string{"bce", "ce", "mse"}, sortedNames(ClassificationLosses))
	assert.Equal(t, []string{"ce"}, sortedNames(SegmentationLosses))
	assert.Equal(t, []string{"cnn", "fnn"}, sortedNames(ClassificationModels))
}
