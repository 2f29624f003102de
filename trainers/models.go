// Copyright 2026 The torchgeo-go Authors. SPDX-License-Identifier: Apache-2.0

package trainers

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gopjrt/dtypes"
)

// Hyperparameter names read by the model graphs from the task context.
const (
	// ParamInChannels is the channel count of the input images.
	ParamInChannels = "in_channels"

	// ParamNumClasses is the number of output classes.
	ParamNumClasses = "num_classes"

	// ParamCNNFilters is the filter count of the first convolution block;
	// later blocks double it.
	ParamCNNFilters = "cnn_filters"

	// ParamFCNLayers is the number of convolution layers of the FCN
	// segmentation model.
	ParamFCNLayers = "fcn_layers"
)

// ClassificationModels maps model names accepted by NewClassificationTask to
// their graph-building functions.
var ClassificationModels = map[string]train.ModelFn{
	"fnn": FNNModelGraph,
	"cnn": CNNModelGraph,
}

// SegmentationModels maps model names accepted by NewSegmentationTask to
// their graph-building functions.
var SegmentationModels = map[string]train.ModelFn{
	"fcn": FCNModelGraph,
}

// toFloatNHWC converts the int32 [batch, channels, height, width] images
// yielded by the dataloaders to float32 [batch, height, width, channels], the
// layout the convolution layers expect.
func toFloatNHWC(images *graph.Node) *graph.Node {
	x := graph.ConvertDType(images, dtypes.Float32)
	return graph.TransposeAllDims(x, 0, 2, 3, 1)
}

// FNNModelGraph implements train.ModelFn: it flattens the input images and
// runs a feedforward network configured by the context hyperparameters,
// returning the logits shaped [batch, num_classes].
func FNNModelGraph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	images := inputs[0]
	batchSize := images.Shape().Dimensions[0]
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 2)
	x := graph.ConvertDType(images, dtypes.Float32)
	x = graph.Reshape(x, batchSize, -1)
	logits := fnn.New(ctx.In("fnn"), x, numClasses).Done()
	logits.AssertDims(batchSize, numClasses)
	return []*graph.Node{logits}
}

// CNNModelGraph implements train.ModelFn: a small convolutional classifier
// over the input images, returning logits shaped [batch, num_classes].
func CNNModelGraph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	images := inputs[0]
	batchSize := images.Shape().Dimensions[0]
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 2)
	filters := context.GetParamOr(ctx, ParamCNNFilters, 32)

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	x := toFloatNHWC(images)
	x = layers.Convolution(nextCtx("conv"), x).Channels(filters).KernelSize(3).PadSame().Done()
	x = activations.Relu(x)
	x = graph.MaxPool(x).Window(2).Done()
	x = layers.Convolution(nextCtx("conv"), x).Channels(2*filters).KernelSize(3).PadSame().Done()
	x = activations.Relu(x)
	x = graph.MaxPool(x).Window(2).Done()

	x = graph.Reshape(x, batchSize, -1)
	x = layers.Dense(nextCtx("dense"), x, true, 128)
	x = activations.Relu(x)
	logits := layers.Dense(nextCtx("dense"), x, true, numClasses)
	logits.AssertDims(batchSize, numClasses)
	return []*graph.Node{logits}
}

// FCNModelGraph implements train.ModelFn: a fully convolutional segmenter
// that keeps the spatial resolution, returning per-pixel logits shaped
// [batch, height, width, num_classes].
func FCNModelGraph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	images := inputs[0]
	dims := images.Shape().Dimensions
	batchSize, height, width := dims[0], dims[2], dims[3]
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 2)
	numLayers := context.GetParamOr(ctx, ParamFCNLayers, 3)
	filters := context.GetParamOr(ctx, ParamCNNFilters, 32)

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	x := toFloatNHWC(images)
	for ii := 0; ii < numLayers; ii++ {
		x = layers.Convolution(nextCtx("conv"), x).Channels(filters).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
	}
	logits := layers.Convolution(nextCtx("logits"), x).Channels(numClasses).KernelSize(1).PadSame().Done()
	logits.AssertDims(batchSize, height, width, numClasses)
	return []*graph.Node{logits}
}
