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

package vertex

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorse-io/gorse-pipeline/platform"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const parent = "/v1/projects/merlin/locations/us-central1"

type fakeVertex struct {
	mu         sync.Mutex
	jobPolls   int
	jobState   string
	createdJob map[string]any
	upload     map[string]any
	opPolls    int
}

func (f *fakeVertex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	write := func(v any) {
		_ = json.NewEncoder(w).Encode(v)
	}
	switch r.Method + " " + r.URL.Path {
	case "GET " + parent + "/datasets":
		if r.URL.Query().Get("pageToken") == "" {
			write(map[string]any{
				"datasets": []map[string]any{{
					"name":        "projects/merlin/locations/us-central1/datasets/1",
					"displayName": "movielens25m-movies",
					"metadata": map[string]any{
						"inputConfig": map[string]any{
							"gcsSource": map[string]any{"uri": []string{"gs://merlin/movies.csv"}},
						},
					},
				}},
				"nextPageToken": "page-2",
			})
		} else {
			write(map[string]any{
				"datasets": []map[string]any{{
					"name":        "projects/merlin/locations/us-central1/datasets/2",
					"displayName": "movielens25m-ratings",
					"metadata": map[string]any{
						"inputConfig": map[string]any{
							"gcsSource": map[string]any{"uri": []string{"gs://merlin/ratings.csv", "gs://merlin/other.csv"}},
						},
					},
				}},
			})
		}
	case "POST " + parent + "/customJobs":
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.createdJob)
		write(map[string]any{
			"name":  "projects/merlin/locations/us-central1/customJobs/7",
			"state": "JOB_STATE_PENDING",
		})
	case "GET " + parent + "/customJobs/7":
		f.jobPolls++
		state := "JOB_STATE_RUNNING"
		if f.jobPolls >= 2 {
			state = f.jobState
		}
		resp := map[string]any{
			"name":  "projects/merlin/locations/us-central1/customJobs/7",
			"state": state,
		}
		if state == JobStateFailed {
			resp["error"] = map[string]any{"code": 13, "message": "replica workerpool0-0 exited with a non-zero status"}
		}
		write(resp)
	case "POST " + parent + "/models:upload":
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.upload)
		write(map[string]any{"name": "projects/merlin/locations/us-central1/operations/9"})
	case "GET " + parent + "/operations/9":
		f.opPolls++
		if f.opPolls < 2 {
			write(map[string]any{"name": "projects/merlin/locations/us-central1/operations/9"})
		} else {
			write(map[string]any{
				"name": "projects/merlin/locations/us-central1/operations/9",
				"done": true,
				"response": map[string]any{
					"@type":          "type.googleapis.com/google.cloud.aiplatform.v1.UploadModelResponse",
					"model":          "projects/merlin/locations/us-central1/models/42",
					"modelVersionId": "1",
				},
			})
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		write(map[string]any{"error": map[string]any{"code": 404, "message": "not found: " + r.URL.Path}})
	}
}

func newTestClient(t *testing.T, fake *fakeVertex) *Client {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	client, err := NewClient(context.Background(), "merlin", "us-central1",
		option.WithEndpoint(server.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	client.PollInterval = time.Millisecond
	client.MaxPollInterval = 10 * time.Millisecond
	return client
}

func TestResolveDataset(t *testing.T) {
	client := newTestClient(t, &fakeVertex{})
	uri, err := client.ResolveDataset(context.Background(), "movielens25m-movies")
	assert.NoError(t, err)
	assert.Equal(t, "gs://merlin/movies.csv", uri)
	uri, err = client.ResolveDataset(context.Background(), "movielens25m-ratings")
	assert.NoError(t, err)
	assert.Equal(t, "gs://merlin/ratings.csv", uri)

	_, err = client.ResolveDataset(context.Background(), "foo")
	assert.ErrorContains(t, err, "does not exist")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestRunJob(t *testing.T) {
	fake := &fakeVertex{jobState: JobStateSucceeded}
	client := newTestClient(t, fake)
	err := client.RunJob(context.Background(), platform.JobSpec{
		DisplayName: "movielens-etl-20260101_000000",
		MachineSpec: platform.MachineSpec{
			MachineType:      "n1-standard-4",
			AcceleratorType:  "NVIDIA_TESLA_V100",
			AcceleratorCount: 1,
		},
		ImageURI:        "gcr.io/merlin/gorse-pipeline:latest",
		Command:         []string{"gorse-etl"},
		Args:            []string{"--etl-output-dir=gs://merlin/etl"},
		Env:             map[string]string{"B": "2", "A": "1"},
		StagingLocation: "gs://merlin/staging",
		ServiceAccount:  "vertex-sa@merlin.iam.gserviceaccount.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.jobPolls)

	assert.Equal(t, "movielens-etl-20260101_000000", fake.createdJob["displayName"])
	jobSpec := fake.createdJob["jobSpec"].(map[string]any)
	assert.Equal(t, "vertex-sa@merlin.iam.gserviceaccount.com", jobSpec["serviceAccount"])
	assert.Equal(t, "gs://merlin/staging", jobSpec["baseOutputDirectory"].(map[string]any)["outputUriPrefix"])
	pool := jobSpec["workerPoolSpecs"].([]any)[0].(map[string]any)
	assert.Equal(t, "1", pool["replicaCount"])
	container := pool["containerSpec"].(map[string]any)
	assert.Equal(t, "gcr.io/merlin/gorse-pipeline:latest", container["imageUri"])
	assert.Equal(t, []any{"--etl-output-dir=gs://merlin/etl"}, container["args"])
	assert.Equal(t, []any{
		map[string]any{"name": "A", "value": "1"},
		map[string]any{"name": "B", "value": "2"},
	}, container["env"])
	machine := pool["machineSpec"].(map[string]any)
	assert.Equal(t, "NVIDIA_TESLA_V100", machine["acceleratorType"])
}

func TestRunJobFailed(t *testing.T) {
	client := newTestClient(t, &fakeVertex{jobState: JobStateFailed})
	err := client.RunJob(context.Background(), platform.JobSpec{DisplayName: "train", Command: []string{"gorse-train"}})
	var failed *platform.JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, JobStateFailed, failed.State)
	assert.Contains(t, failed.Message, "non-zero status")
}

func TestRunJobCancelled(t *testing.T) {
	client := newTestClient(t, &fakeVertex{jobState: "JOB_STATE_RUNNING"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.RunJob(ctx, platform.JobSpec{DisplayName: "train", Command: []string{"gorse-train"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUploadModel(t *testing.T) {
	fake := &fakeVertex{}
	client := newTestClient(t, fake)
	name, err := client.UploadModel(context.Background(), platform.UploadModelRequest{
		DisplayName:     "movielens25m-recommender",
		ArtifactURI:     "gs://merlin/model",
		ServingImageURI: "us-docker.pkg.dev/vertex-ai/prediction/tf2-cpu.2-4:latest",
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/merlin/locations/us-central1/models/42", name)
	model := fake.upload["model"].(map[string]any)
	assert.Equal(t, "movielens25m-recommender", model["displayName"])
	assert.Equal(t, "gs://merlin/model", model["artifactUri"])
	assert.Equal(t, "us-docker.pkg.dev/vertex-ai/prediction/tf2-cpu.2-4:latest",
		model["containerSpec"].(map[string]any)["imageUri"])
}
