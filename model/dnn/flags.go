// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dnn

import (
	"io"

	"github.com/gorse-io/gorse-pipeline/model"
	"github.com/spf13/pflag"
)

const (
	FlagModelDir         = "model-dir"
	FlagLogDir           = "log-dir"
	FlagModelName        = "model-name"
	FlagTrainDataPattern = "train-data-file-pattern"
	FlagTestDataPattern  = "test-data-file-pattern"
	FlagWorkflowDir      = "transform-workflow-dir"
	FlagLearningRate     = "learning-rate"
	FlagBatchSize        = "batch-size"
	FlagHiddenUnits      = "hidden-units"
	FlagNumEpochs        = "num-epochs"
)

// DefaultCLIBatchSize is the batch size of training jobs started from the
// command line.
const DefaultCLIBatchSize = 2048

// TaskFlags is the command line surface of a training job. ModelDir and
// LogDir keep their values as flag defaults, so they can be preset from the
// environment of the job.
type TaskFlags struct {
	ModelDir         string
	LogDir           string
	ModelName        string
	TrainDataPattern string
	TestDataPattern  string
	WorkflowDir      string
	LearningRate     float64
	BatchSize        int
	HiddenUnits      string
	NumEpochs        int
	Seed             int64
	WorkDir          string
}

func (f *TaskFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.ModelDir, FlagModelDir, f.ModelDir, "directory receiving the exported model")
	flagSet.StringVar(&f.LogDir, FlagLogDir, f.LogDir, "directory receiving the training history")
	flagSet.StringVar(&f.ModelName, FlagModelName, f.ModelName, "name of the exported model bundle")
	flagSet.StringVar(&f.TrainDataPattern, FlagTrainDataPattern, "", "glob pattern of transformed train partitions")
	flagSet.StringVar(&f.TestDataPattern, FlagTestDataPattern, "", "glob pattern of transformed test partitions")
	flagSet.StringVar(&f.WorkflowDir, FlagWorkflowDir, "", "directory of the fitted transform workflow")
	flagSet.Float64Var(&f.LearningRate, FlagLearningRate, model.DefaultLearningRate, "learning rate of Adam")
	flagSet.IntVar(&f.BatchSize, FlagBatchSize, DefaultCLIBatchSize, "number of rows per step")
	flagSet.StringVar(&f.HiddenUnits, FlagHiddenUnits, "128,128", "comma separated widths of hidden layers")
	flagSet.IntVar(&f.NumEpochs, FlagNumEpochs, model.DefaultNumEpochs, "number of passes over the train set")
	flagSet.Int64Var(&f.Seed, "seed", model.DefaultRandomState, "random seed of initialization and shuffling")
	flagSet.StringVar(&f.WorkDir, "work-dir", ".", "directory of local copies")
}

// Options converts the flags. Missing values are reported by RunTask.
func (f *TaskFlags) Options(progress io.Writer) TaskOptions {
	return TaskOptions{
		TrainDataPattern: f.TrainDataPattern,
		TestDataPattern:  f.TestDataPattern,
		WorkflowDir:      f.WorkflowDir,
		ModelDir:         f.ModelDir,
		ModelName:        f.ModelName,
		LogDir:           f.LogDir,
		Params: model.Params{
			model.HiddenUnits:  f.HiddenUnits,
			model.LearningRate: f.LearningRate,
			model.BatchSize:    f.BatchSize,
			model.NumEpochs:    f.NumEpochs,
			model.RandomState:  f.Seed,
		},
		WorkDir:  f.WorkDir,
		Progress: progress,
	}
}
