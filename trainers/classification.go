// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package trainers

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
)

// ClassificationTask wraps a scene classification model, its loss and its
// optimizer configuration for the GoMLX training loop.
//
// The datasets fed to Fit and Evaluate must yield one input tensor with the
// batched images and one label tensor with integer class ids shaped
// [batch, 1], the layout the sparse losses and accuracy metrics expect.
type ClassificationTask struct {
	ctx     *context.Context
	modelFn train.ModelFn
	lossFn  losses.LossFn

	model, loss, weights   string
	inChannels, numClasses int

	trainer *train.Trainer
}

// NewClassificationTask creates a classification task.
//
//   - model: one of the ClassificationModels names.
//   - inChannels: channel count of the input images.
//   - loss: one of the ClassificationLosses names.
//   - numClasses: number of output classes.
//   - weights: RandomWeights, or a checkpoint directory to restore from.
//
// All arguments are validated here; invalid ones fail construction.
func NewClassificationTask(model string, inChannels int, loss string, numClasses int, weights string) (*ClassificationTask, error) {
	modelFn, found := ClassificationModels[model]
	if !found {
		return nil, errors.Errorf("model type %q is not valid, must be one of %v", model, sortedNames(ClassificationModels))
	}
	lossFn, err := lossFromName(ClassificationLosses, loss)
	if err != nil {
		return nil, err
	}
	if err = validateWeights(weights); err != nil {
		return nil, err
	}
	if inChannels <= 0 {
		return nil, errors.Errorf("in_channels must be > 0, got %d", inChannels)
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("num_classes must be > 0, got %d", numClasses)
	}

	t := &ClassificationTask{
		modelFn:    modelFn,
		lossFn:     lossFn,
		model:      model,
		loss:       loss,
		weights:    weights,
		inChannels: inChannels,
		numClasses: numClasses,
	}
	t.ctx = context.New()
	t.ctx.SetParams(map[string]any{
		"model":                      model,
		ParamInChannels:              inChannels,
		ParamNumClasses:              numClasses,
		optimizers.ParamOptimizer:    "adamw",
		optimizers.ParamLearningRate: 1e-4,
	})
	return t, nil
}

// Context returns the task context, holding the hyperparameters and, once
// training starts, the model variables.
func (t *ClassificationTask) Context() *context.Context { return t.ctx }

// restoreWeights loads checkpointed variables into the task context when the
// task was constructed with a checkpoint directory.
func restoreWeights(ctx *context.Context, weights string) error {
	if weights == RandomWeights {
		return nil
	}
	_, err := checkpoints.Build(ctx).Dir(weights).Immediate().Done()
	if err != nil {
		return errors.WithMessagef(err, "failed to restore weights from checkpoint %q", weights)
	}
	return nil
}

func (t *ClassificationTask) newTrainer(backend backends.Backend) *train.Trainer {
	meanAccuracy := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")
	movingAccuracy := metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)
	return train.NewTrainer(backend, t.ctx.In("model"), t.modelFn, t.lossFn,
		optimizers.FromContext(t.ctx),
		[]metrics.Interface{movingAccuracy},
		[]metrics.Interface{meanAccuracy})
}

// Fit trains the task for the given number of steps. With verbosity >= 0 a
// progress bar is attached to the loop.
func (t *ClassificationTask) Fit(backend backends.Backend, trainDS train.Dataset, steps int, verbosity int) error {
	if err := restoreWeights(t.ctx, t.weights); err != nil {
		return err
	}
	trainer := t.newTrainer(backend)
	t.trainer = trainer
	loop := train.NewLoop(trainer)
	if verbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}
	if _, err := loop.RunSteps(trainDS, steps); err != nil {
		return errors.WithMessagef(err, "classification task failed after %d of %d steps", loop.LoopStep, steps)
	}
	return nil
}

// Evaluate runs the eval metrics over the given datasets and prints a report
// per dataset. It can be called without a prior Fit, in which case the model
// is evaluated with freshly initialized (or checkpoint-restored) weights.
func (t *ClassificationTask) Evaluate(backend backends.Backend, dss ...train.Dataset) error {
	trainer := t.trainer
	if trainer == nil {
		if err := restoreWeights(t.ctx, t.weights); err != nil {
			return err
		}
		trainer = t.newTrainer(backend)
		t.trainer = trainer
	}
	return commandline.ReportEval(trainer, dss...)
}
