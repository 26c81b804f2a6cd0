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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorse-io/gorse-pipeline/etl"
	"github.com/gorse-io/gorse-pipeline/features"
	"github.com/gorse-io/gorse-pipeline/model"
	"github.com/gorse-io/gorse-pipeline/platform"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/gorse-io/gorse-pipeline/storage/table"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(t *testing.T) (*etl.Workflow, *table.Frame) {
	movies := table.NewFrame()
	require.NoError(t, movies.AddColumn("movieId", []any{int64(1), int64(2), int64(3)}))
	require.NoError(t, movies.AddColumn("genres", []any{
		[]string{"Comedy", "Drama"}, []string{"Drama"}, []string{"Horror"},
	}))
	workflow, err := etl.NewWorkflow(movies)
	require.NoError(t, err)
	var users, items, ratings []any
	for i := 0; i < 30; i++ {
		users = append(users, int64(i%5+1))
		items = append(items, int64(i%3+1))
		ratings = append(ratings, float64(i%5+1))
	}
	raw := table.NewFrame()
	require.NoError(t, raw.AddColumn("userId", users))
	require.NoError(t, raw.AddColumn("movieId", items))
	require.NoError(t, raw.AddColumn("rating", ratings))
	require.NoError(t, workflow.Fit(raw))
	return workflow, raw
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	workflow, raw := newWorkflow(t)
	columns := workflow.Columns()
	rec, err := NewRecommender(Config{
		Features:    columns,
		Multivalue:  []string{"genres"},
		Shapes:      workflow.EmbeddingShapes(),
		HiddenUnits: []int{4},
	})
	require.NoError(t, err)
	encoded, err := workflow.Transform(raw)
	require.NoError(t, err)
	loader, err := NewFrameLoader(encoded, LoaderOptions{
		Features:   columns,
		Multivalue: workflow.IsMultivalue,
		Label:      workflow.Label(),
		BatchSize:  encoded.Len(),
	})
	require.NoError(t, err)
	expected, err := rec.Predict(loader.Epoch(0)[0])
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := Export(ctx, blob.POSIX{}, rec, workflow, &Metrics{Loss: 0.5, MAE: 0.4}, "movielens", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "movielens"), path)
	for _, name := range []string{ModelFileName, ManifestFileName, filepath.Join(WorkflowDirName, etl.WorkflowFileName)} {
		assert.FileExists(t, filepath.Join(path, name))
	}
	// the exported workflow is unchanged
	assert.Equal(t, features.Int64, workflow.OutputDTypes()["userId"])

	servable, err := LoadServable(ctx, blob.POSIX{}, path)
	require.NoError(t, err)
	assert.Equal(t, "movielens", servable.Manifest.Name)
	assert.Equal(t, features.Int32, servable.Manifest.OutputDTypes["userId"])
	assert.Equal(t, features.Int32, servable.Manifest.OutputDTypes["genres"])
	assert.Equal(t, features.Float32, servable.Manifest.OutputDTypes["rating"])
	assert.Equal(t, features.Int64, servable.Manifest.InputDTypes["movieId"])
	assert.NotContains(t, servable.Manifest.InputDTypes, "rating")
	assert.Equal(t, &Metrics{Loss: 0.5, MAE: 0.4}, servable.Manifest.Metrics)

	scores, err := servable.Score(raw.Drop("rating"))
	require.NoError(t, err)
	assert.Equal(t, expected, scores)

	_, err = Export(ctx, blob.POSIX{}, rec, workflow, nil, "", dir)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = LoadServable(ctx, blob.POSIX{}, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func writeMovieLens(t *testing.T, dir string) (string, string) {
	var movies strings.Builder
	movies.WriteString("movieId,title,genres\n")
	genres := []string{"Action", "Comedy", "Drama", "Horror"}
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&movies, "%d,Movie %d,%s|%s\n", i, i, genres[i%4], genres[(i+1)%4])
	}
	var ratings strings.Builder
	ratings.WriteString("userId,movieId,rating,timestamp\n")
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&ratings, "%d,%d,%d.0,%d\n", i%7+1, i%10+1, i%5+1, 1136073600+i)
	}
	moviesPath := filepath.Join(dir, "movies.csv")
	ratingsPath := filepath.Join(dir, "ratings.csv")
	require.NoError(t, os.WriteFile(moviesPath, []byte(movies.String()), 0o644))
	require.NoError(t, os.WriteFile(ratingsPath, []byte(ratings.String()), 0o644))
	return moviesPath, ratingsPath
}

func TestRunTask(t *testing.T) {
	ctx := context.Background()
	moviesPath, ratingsPath := writeMovieLens(t, t.TempDir())
	fs := blob.NewRouter(nil)
	output := t.TempDir()
	_, err := etl.NewRunner(fs, platform.StaticResolver{}).Run(ctx, etl.Options{
		MoviesLocation:  moviesPath,
		RatingsLocation: ratingsPath,
		OutputDir:       output,
		TestSize:        etl.DefaultTestSize,
		Seed:            etl.DefaultSeed,
		WorkDir:         t.TempDir(),
	})
	require.NoError(t, err)

	workDir, modelDir, logDir := t.TempDir(), t.TempDir(), t.TempDir()
	result, err := RunTask(ctx, fs, TaskOptions{
		TrainDataPattern: filepath.Join(output, etl.TrainDir, "*.parquet"),
		TestDataPattern:  filepath.Join(output, etl.TestDir, "*.parquet"),
		WorkflowDir:      filepath.Join(output, etl.WorkflowDir),
		ModelDir:         modelDir,
		ModelName:        "movielens",
		LogDir:           logDir,
		Params: model.Params{
			model.HiddenUnits: "16,8",
			model.BatchSize:   16,
			model.NumEpochs:   2,
		},
		WorkDir:  workDir,
		Progress: io.Discard,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{16, 8}, result.Hyperparams.HiddenUnits)
	assert.Len(t, result.History, 2)
	assert.Equal(t, filepath.Join(modelDir, "movielens"), result.ModelPath)
	assert.Greater(t, result.Metrics.Loss, float32(0))
	assert.FileExists(t, filepath.Join(logDir, HistoryFile))
	assert.FileExists(t, filepath.Join(workDir, DataDir, "train", table.PartitionName))
	assert.FileExists(t, filepath.Join(workDir, etl.WorkflowDir, etl.WorkflowFileName))

	servable, err := LoadServable(ctx, fs, result.ModelPath)
	require.NoError(t, err)
	request := table.NewFrame()
	require.NoError(t, request.AddColumn("userId", []any{int64(1), int64(999)}))
	require.NoError(t, request.AddColumn("movieId", []any{int64(1), int64(999)}))
	scores, err := servable.Score(request)
	require.NoError(t, err)
	assert.Len(t, scores, 2)

	// a second run replaces the local copies
	_, err = RunTask(ctx, fs, TaskOptions{
		TrainDataPattern: filepath.Join(output, etl.TrainDir, "*.parquet"),
		TestDataPattern:  filepath.Join(output, etl.TestDir, "*.parquet"),
		WorkflowDir:      filepath.Join(output, etl.WorkflowDir),
		ModelDir:         modelDir,
		ModelName:        "movielens",
		WorkDir:          workDir,
	})
	require.NoError(t, err)
}

func TestRunTaskInvalid(t *testing.T) {
	_, err := RunTask(context.Background(), blob.NewRouter(nil), TaskOptions{
		TrainDataPattern: "train/*.parquet",
		TestDataPattern:  "test/*.parquet",
		WorkflowDir:      "transform_workflow",
		ModelDir:         t.TempDir(),
	})
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = RunTask(context.Background(), blob.NewRouter(nil), TaskOptions{
		TrainDataPattern: "train/*.parquet",
		TestDataPattern:  "test/*.parquet",
		WorkflowDir:      "transform_workflow",
		ModelDir:         t.TempDir(),
		ModelName:        "movielens",
		Params:           model.Params{model.HiddenUnits: "a,b"},
	})
	assert.True(t, errors.Is(err, errors.NotValid))
}
