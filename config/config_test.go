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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefault(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "merlin-on-gcp", cfg.Project)
	assert.Equal(t, "us-central1", cfg.Region)
	assert.Equal(t, "gs://merlin-on-gcp/movielens25m/kfp_artifacts", cfg.ArtifactStoreURI)
	assert.Equal(t, "gs://merlin-on-gcp/movielens25m/model_registry", cfg.ModelRegistryURI)
	assert.Equal(t, "movielens25m-movies", cfg.MoviesDatasetDisplayName)
	assert.Equal(t, "movielens25m-ratings", cfg.RatingsDatasetDisplayName)
	assert.Equal(t, "movielens25m-recommender-train-pipeline", cfg.PipelineName)
	assert.Equal(t, "gcr.io/merlin-on-gcp/gorse-pipeline:latest", cfg.ImageURI)
	assert.Equal(t, "vertex-sa-mlops@merlin-on-gcp.iam.gserviceaccount.com", cfg.VertexServiceAccount)
	assert.Equal(t, cfg.VertexServiceAccount, cfg.PipelinesServiceAccount)
	assert.True(t, cfg.EnableCaching)
	assert.Equal(t, JobBackendVertex, cfg.JobBackend)
	assert.Equal(t, MachineConfig{
		MachineType:      "n1-standard-4",
		AcceleratorType:  "NVIDIA_TESLA_V100",
		AcceleratorCount: 1,
		ReplicaCount:     1,
	}, cfg.Machine)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROJECT", "my-project")
	t.Setenv("GCS_LOCATION", "gs://my-bucket/movielens")
	t.Setenv("RATINGS_DATASET_DISPLAY_NAME", "ratings")
	t.Setenv("ENABLE_CACHING", "false")
	t.Setenv("JOB_BACKEND", "kubernetes")
	t.Setenv("KUBE_NAMESPACE", "ml")
	t.Setenv("ACCELERATOR_COUNT", "2")
	t.Setenv("S3_ENDPOINT", "localhost:9000")
	t.Setenv("AIP_MODEL_DIR", "gs://my-bucket/model")
	t.Setenv("METRICS_PUSH_GATEWAY", "http://pushgateway:9091")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "my-project", cfg.Project)
	assert.Equal(t, "gs://my-bucket/movielens/kfp_artifacts", cfg.ArtifactStoreURI)
	assert.Equal(t, "ratings", cfg.RatingsDatasetDisplayName)
	assert.Equal(t, "movielens25m-movies", cfg.MoviesDatasetDisplayName)
	assert.False(t, cfg.EnableCaching)
	assert.Equal(t, JobBackendKubernetes, cfg.JobBackend)
	assert.Equal(t, "ml", cfg.Kubernetes.Namespace)
	assert.Equal(t, 2, cfg.Machine.AcceleratorCount)
	assert.Equal(t, "localhost:9000", cfg.S3.Endpoint)
	assert.Equal(t, "gs://my-bucket/model", cfg.Training.ModelDir)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.PushGateway)
	assert.Equal(t, "gcr.io/my-project/gorse-pipeline:latest", cfg.ImageURI)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("JOB_BACKEND", "slurm")
	_, err := LoadFromEnv()
	assert.Error(t, err)

	t.Setenv("JOB_BACKEND", "vertex")
	t.Setenv("REPLICA_COUNT", "0")
	_, err = LoadFromEnv()
	assert.Error(t, err)
}

func TestJoinURI(t *testing.T) {
	assert.Equal(t, "gs://bucket/a/b", JoinURI("gs://bucket/", "a", "/b/"))
	assert.Equal(t, "data/train", JoinURI("data", "train"))
	assert.Equal(t, "gs://bucket", JoinURI("gs://bucket"))
}
