// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package trainers

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/khlaifiabilel/torchgeo/datasets"
)

// flattenPerPixel adapts a per-example loss to per-pixel segmentation:
// [batch, height, width, classes] logits are flattened to [pixels, classes]
// and [batch, height, width] labels to [pixels, 1], the layout the sparse
// losses expect, so every pixel counts as one example.
func flattenPerPixel(lossFn losses.LossFn) losses.LossFn {
	return func(labels, predictions []*graph.Node) *graph.Node {
		logits := predictions[0]
		numClasses := logits.Shape().Dimensions[logits.Rank()-1]
		flatLogits := graph.Reshape(logits, -1, numClasses)
		flatLabels := graph.Reshape(labels[0], -1, 1)
		return lossFn([]*graph.Node{flatLabels}, []*graph.Node{flatLogits})
	}
}

// perPixelAccuracyGraph is the sparse categorical accuracy over flattened
// pixels: same flattening as the segmentation losses.
func perPixelAccuracyGraph(ctx *context.Context, labels, logits []*graph.Node) *graph.Node {
	logits0 := logits[0]
	numClasses := logits0.Shape().Dimensions[logits0.Rank()-1]
	flatLogits := graph.Reshape(logits0, -1, numClasses)
	flatLabels := graph.Reshape(labels[0], -1, 1)
	return metrics.SparseCategoricalAccuracyGraph(ctx, []*graph.Node{flatLabels}, []*graph.Node{flatLogits})
}

// SegmentationTask wraps a per-pixel land-cover segmentation model, its loss
// and its optimizer configuration for the GoMLX training loop.
//
// The datasets fed to Fit and Evaluate must yield one input tensor with the
// batched images, [batch, channels, height, width], and one label tensor with
// integer class ids per pixel, [batch, height, width] -- the layout produced
// by the datamodules package loaders.
type SegmentationTask struct {
	ctx     *context.Context
	modelFn train.ModelFn
	lossFn  losses.LossFn

	model, loss, weights   string
	inChannels, numClasses int

	trainer *train.Trainer

	muExec      sync.Mutex
	predictExec *context.Exec
}

// NewSegmentationTask creates a segmentation task.
//
//   - model: one of the SegmentationModels names.
//   - inChannels: channel count of the input images.
//   - loss: one of the SegmentationLosses names.
//   - numClasses: number of per-pixel classes.
//   - weights: RandomWeights, or a checkpoint directory to restore from.
//
// All arguments are validated here; invalid ones fail construction.
func NewSegmentationTask(model string, inChannels int, loss string, numClasses int, weights string) (*SegmentationTask, error) {
	modelFn, found := SegmentationModels[model]
	if !found {
		return nil, errors.Errorf("model type %q is not valid, must be one of %v", model, sortedNames(SegmentationModels))
	}
	lossFn, err := lossFromName(SegmentationLosses, loss)
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

	t := &SegmentationTask{
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
func (t *SegmentationTask) Context() *context.Context { return t.ctx }

func (t *SegmentationTask) newTrainer(backend backends.Backend) *train.Trainer {
	meanAccuracy := metrics.NewMeanMetric(
		"Mean Pixel Accuracy", "#acc", metrics.AccuracyMetricType, perPixelAccuracyGraph, nil)
	movingAccuracy := metrics.NewExponentialMovingAverageMetric(
		"Moving Average Pixel Accuracy", "~acc", metrics.AccuracyMetricType, perPixelAccuracyGraph, nil, 0.01)
	return train.NewTrainer(backend, t.ctx.In("model"), t.modelFn, t.lossFn,
		optimizers.FromContext(t.ctx),
		[]metrics.Interface{movingAccuracy},
		[]metrics.Interface{meanAccuracy})
}

// Fit trains the task for the given number of steps. With verbosity >= 0 a
// progress bar is attached to the loop.
func (t *SegmentationTask) Fit(backend backends.Backend, trainDS train.Dataset, steps int, verbosity int) error {
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
		return errors.WithMessagef(err, "segmentation task failed after %d of %d steps", loop.LoopStep, steps)
	}
	return nil
}

// Evaluate runs the eval metrics over the given datasets and prints a report
// per dataset.
func (t *SegmentationTask) Evaluate(backend backends.Backend, dss ...train.Dataset) error {
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

// Predict runs the model over the sample image and stores the per-pixel
// class choice under the "prediction" key, shaped [height, width] int32. The
// sample is returned to allow chaining.
func (t *SegmentationTask) Predict(backend backends.Backend, sample datasets.Sample) (datasets.Sample, error) {
	image := sample[datasets.SampleImage]
	if image == nil {
		return nil, errors.Errorf("sample is missing the %q tensor", datasets.SampleImage)
	}

	exec, err := t.getPredictExec(backend)
	if err != nil {
		return nil, err
	}
	var outputs []*tensors.Tensor
	err = exceptions.TryCatch[error](func() { outputs = exec.MustExec(image) })
	if err != nil {
		return nil, errors.WithMessagef(err, "segmentation prediction failed")
	}
	sample[datasets.SamplePrediction] = outputs[0]
	return sample, nil
}

// getPredictExec lazily builds the prediction executor, shared across Predict
// calls.
func (t *SegmentationTask) getPredictExec(backend backends.Backend) (*context.Exec, error) {
	t.muExec.Lock()
	defer t.muExec.Unlock()
	if t.predictExec == nil {
		// Checked(false) allows both fresh-variable creation (untrained
		// model) and reuse of trained or checkpoint-restored variables.
		ctx := t.ctx.In("model").Checked(false)
		exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, image *graph.Node) *graph.Node {
			image = graph.ExpandAxes(image, 0) // Batch dimension of size 1.
			logits := t.modelFn(ctx, nil, []*graph.Node{image})[0]
			choice := graph.ArgMax(logits, -1, dtypes.Int32)
			return graph.Squeeze(choice, 0)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to build the segmentation prediction executor")
		}
		t.predictExec = exec
	}
	return t.predictExec, nil
}
