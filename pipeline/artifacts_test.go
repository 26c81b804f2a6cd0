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
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactRecords(t *testing.T) {
	artifact := Artifact{Name: OutputETL, Type: TypeArtifact, URI: "gs://bucket/root/run/data-etl/etl_output"}
	require.NoError(t, artifact.Encode(ETLOutput{
		TransformedTrainDataDir: "gs://bucket/root/run/data-etl/etl_output/transformed_data/train",
		TransformedTestDataDir:  "gs://bucket/root/run/data-etl/etl_output/transformed_data/test",
		TransformWorkflowDir:    "gs://bucket/root/run/data-etl/etl_output/transform_workflow",
	}))
	assert.Equal(t, "gs://bucket/root/run/data-etl/etl_output/transform_workflow", artifact.Metadata["transform_workflow_dir"])

	var record ETLOutput
	require.NoError(t, artifact.Decode(&record))
	assert.Equal(t, "gs://bucket/root/run/data-etl/etl_output/transformed_data/train", record.TransformedTrainDataDir)

	// a renamed key is caught when decoding
	delete(artifact.Metadata, "transformed_test_data_dir")
	artifact.Metadata["transformed_eval_data_dir"] = "gs://bucket/eval"
	err := artifact.Decode(&ETLOutput{})
	assert.True(t, errors.Is(err, errors.NotValid))

	// missing fields are caught when encoding
	err = artifact.Encode(DatasetLocations{MoviesCSVDataLocation: "gs://bucket/movies.csv"})
	assert.True(t, errors.Is(err, errors.NotValid))
}
