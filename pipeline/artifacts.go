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
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/juju/errors"
)

type ArtifactType string

const (
	TypeDataset  ArtifactType = "system.Dataset"
	TypeArtifact ArtifactType = "system.Artifact"
	TypeModel    ArtifactType = "system.Model"
)

// Artifact is a typed reference passed from one task to another.
type Artifact struct {
	Name     string         `json:"name"`
	Type     ArtifactType   `json:"type"`
	URI      string         `json:"uri"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

var validate = validator.New()

// Encode validates record and stores it as the metadata of the artifact.
func (a *Artifact) Encode(record any) error {
	if err := validate.Struct(record); err != nil {
		return errors.NotValidf("artifact %s: %v", a.Name, err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Trace(err)
	}
	metadata := make(map[string]any)
	if err = json.Unmarshal(data, &metadata); err != nil {
		return errors.Trace(err)
	}
	a.Metadata = metadata
	return nil
}

// Decode reads the metadata of the artifact into record and validates it.
func (a Artifact) Decode(record any) error {
	data, err := json.Marshal(a.Metadata)
	if err != nil {
		return errors.Trace(err)
	}
	if err = json.Unmarshal(data, record); err != nil {
		return errors.Trace(err)
	}
	if err = validate.Struct(record); err != nil {
		return errors.NotValidf("artifact %s: %v", a.Name, err)
	}
	return nil
}

// DatasetLocations is produced by get-data.
type DatasetLocations struct {
	MoviesCSVDataLocation  string `json:"movies_csv_data_location" validate:"required"`
	RatingsCSVDataLocation string `json:"ratings_csv_data_location" validate:"required"`
}

// ETLOutput is produced by data-etl.
type ETLOutput struct {
	TransformedTrainDataDir string `json:"transformed_train_data_dir" validate:"required"`
	TransformedTestDataDir  string `json:"transformed_test_data_dir" validate:"required"`
	TransformWorkflowDir    string `json:"transform_workflow_dir" validate:"required"`
	JobName                 string `json:"job_name"`
}

// TrainedModel is produced by train.
type TrainedModel struct {
	ArtifactURI string `json:"artifact_uri" validate:"required"`
	ModelName   string `json:"model_name" validate:"required"`
	JobName     string `json:"job_name"`
}

// UploadedModel is produced by upload-model.
type UploadedModel struct {
	ResourceName string `json:"model_gca_resource" validate:"required"`
	DisplayName  string `json:"display_name" validate:"required"`
	ArtifactURI  string `json:"artifact_uri" validate:"required"`
}
