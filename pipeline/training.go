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

package pipeline

import (
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorse-io/gorse-pipeline/config"
	"github.com/gorse-io/gorse-pipeline/platform"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Pipeline parameters.
const (
	ParamNumEpochs    = "num_epochs"
	ParamLearningRate = "learning_rate"
	ParamBatchSize    = "batch_size"
)

const (
	DefaultNumEpochs    = 1
	DefaultLearningRate = 0.001
	DefaultBatchSize    = 10240
)

// Tasks of the training pipeline.
const (
	TaskGetData     = "get-data"
	TaskDataETL     = "data-etl"
	TaskTrain       = "train"
	TaskUploadModel = "upload-model"
)

// Outputs of the training pipeline tasks.
const (
	OutputDataset       = "dataset"
	OutputETL           = "etl_output"
	OutputModel         = "model"
	OutputUploadedModel = "uploaded_model"
)

// Task parameters shared by the components.
const (
	ArgMoviesDatasetName  = "movies_dataset_display_name"
	ArgRatingsDatasetName = "ratings_dataset_display_name"
	ArgStagingLocation    = "staging_location"
	ArgServiceAccount     = "service_account"
	ArgTensorboard        = "tensorboard_name"
	ArgMachineSpec        = "vertex_training_machine_spec"
	ArgReplicaCount       = "replica_count"
	ArgImageURI           = "image_uri"
	ArgModelName          = "model_name"
	ArgModelDisplayName   = "model_display_name"
	ArgServingImageURI    = "serving_container_image_uri"
)

// NewTrainingPipeline declares get-data, data-etl, train and upload-model
// with the constants taken from cfg.
func NewTrainingPipeline(cfg *config.Config) (Definition, error) {
	spec, err := json.Marshal(platform.MachineSpec{
		MachineType:      cfg.Machine.MachineType,
		AcceleratorType:  cfg.Machine.AcceleratorType,
		AcceleratorCount: cfg.Machine.AcceleratorCount,
	})
	if err != nil {
		return Definition{}, errors.Trace(err)
	}
	job := map[string]Value{
		ArgStagingLocation: Const(config.JoinURI(cfg.GCSLocation, "jobs")),
		ArgServiceAccount:  Const(cfg.VertexServiceAccount),
		ArgTensorboard:     Const(cfg.TensorboardResourceName),
		ArgMachineSpec:     Const(string(spec)),
		ArgReplicaCount:    Const(strconv.Itoa(cfg.Machine.ReplicaCount)),
		ArgImageURI:        Const(cfg.ImageURI),
	}

	def := Definition{Name: cfg.PipelineName}
	def.AddParameter(ParamNumEpochs, ParameterInt, DefaultNumEpochs)
	def.AddParameter(ParamLearningRate, ParameterDouble, DefaultLearningRate)
	def.AddParameter(ParamBatchSize, ParameterInt, DefaultBatchSize)
	def.AddTask(Task{
		Name:      TaskGetData,
		Component: TaskGetData,
		Parameters: map[string]Value{
			ArgMoviesDatasetName:  Const(cfg.MoviesDatasetDisplayName),
			ArgRatingsDatasetName: Const(cfg.RatingsDatasetDisplayName),
		},
		Outputs: map[string]ArtifactType{OutputDataset: TypeDataset},
	})
	def.AddTask(Task{
		Name:       TaskDataETL,
		Component:  TaskDataETL,
		Parameters: lo.Assign(job),
		Inputs:     map[string]ArtifactRef{OutputDataset: {Task: TaskGetData, Output: OutputDataset}},
		Outputs:    map[string]ArtifactType{OutputETL: TypeArtifact},
	})
	def.AddTask(Task{
		Name:      TaskTrain,
		Component: TaskTrain,
		Parameters: lo.Assign(job, map[string]Value{
			ParamNumEpochs:    Param(ParamNumEpochs),
			ParamLearningRate: Param(ParamLearningRate),
			ParamBatchSize:    Param(ParamBatchSize),
			ArgModelName:      Const(cfg.ModelDisplayName),
		}),
		Inputs:  map[string]ArtifactRef{OutputETL: {Task: TaskDataETL, Output: OutputETL}},
		Outputs: map[string]ArtifactType{OutputModel: TypeModel},
	})
	def.AddTask(Task{
		Name:      TaskUploadModel,
		Component: TaskUploadModel,
		Parameters: map[string]Value{
			ArgModelDisplayName: Const(cfg.ModelDisplayName),
			ArgServingImageURI:  Const(cfg.ServingImageURI),
		},
		Inputs:  map[string]ArtifactRef{OutputModel: {Task: TaskTrain, Output: OutputModel}},
		Outputs: map[string]ArtifactType{OutputUploadedModel: TypeArtifact},
	})
	return def, nil
}
