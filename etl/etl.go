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

// Package etl turns the raw movie and rating tables into encoded train and
// test partitions plus the fitted workflow that produced them.
package etl

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/dataset"
	"github.com/gorse-io/gorse-pipeline/platform"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/gorse-io/gorse-pipeline/storage/table"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Layout of the output directory consumed by training.
const (
	TransformedDataDir = "transformed_data"
	TrainDir           = "transformed_data/train"
	TestDir            = "transformed_data/test"
	WorkflowDir        = "transform_workflow"
)

const (
	DefaultTestSize = 0.2
	DefaultSeed     = 42
)

type Options struct {
	// Raw inputs are given either as a location or as a dataset display
	// name resolved through the dataset registry.
	MoviesLocation     string
	RatingsLocation    string
	MoviesDatasetName  string
	RatingsDatasetName string
	OutputDir          string
	// Zero TestSize and Seed select DefaultTestSize and DefaultSeed.
	TestSize float64
	Seed     int64
	// WorkDir holds local scratch files, removed after upload.
	WorkDir string
}

type Result struct {
	TrainDir    string
	TestDir     string
	WorkflowDir string
	TrainRows   int
	TestRows    int
	Shapes      map[string]dataset.EmbeddingShape
}

type Runner struct {
	fs       blob.FileSystem
	resolver platform.DatasetResolver
}

func NewRunner(fs blob.FileSystem, resolver platform.DatasetResolver) *Runner {
	return &Runner{fs: fs, resolver: resolver}
}

func (r *Runner) locate(ctx context.Context, location, name string) (string, error) {
	if location != "" {
		return location, nil
	}
	if name == "" {
		return "", errors.NotValidf("empty location and dataset name")
	}
	if r.resolver == nil {
		return "", errors.NotValidf("dataset %s without a dataset registry", name)
	}
	return r.resolver.ResolveDataset(ctx, name)
}

// fetch copies a remote file into the scratch directory.
func (r *Runner) fetch(ctx context.Context, location, dir string) (string, error) {
	if blob.Scheme(location) == "" {
		return location, nil
	}
	local := filepath.Join(dir, blob.Base(location))
	if err := blob.CopyFile(ctx, r.fs, location, local); err != nil {
		return "", errors.Trace(err)
	}
	return local, nil
}

func (r *Runner) load(ctx context.Context, engine *table.Engine, location, scratch string) (*table.Frame, error) {
	local, err := r.fetch(ctx, location, scratch)
	if err != nil {
		return nil, errors.Trace(err)
	}
	frame, err := engine.ReadCSV(ctx, local)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return PrepFrame(frame)
}

func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.OutputDir == "" {
		return nil, errors.NotValidf("empty output directory")
	}
	if opts.TestSize == 0 {
		opts.TestSize = DefaultTestSize
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	if blob.Scheme(opts.OutputDir) == "" {
		output, _ := filepath.Abs(opts.OutputDir)
		work, _ := filepath.Abs(opts.WorkDir)
		if output == work {
			return nil, errors.NotValidf("output directory equal to work directory %s", work)
		}
	}
	start := time.Now()

	log.Logger().Info("resolve data locations")
	moviesLocation, err := r.locate(ctx, opts.MoviesLocation, opts.MoviesDatasetName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratingsLocation, err := r.locate(ctx, opts.RatingsLocation, opts.RatingsDatasetName)
	if err != nil {
		return nil, errors.Trace(err)
	}

	scratch := filepath.Join(opts.WorkDir, "raw")
	localData := filepath.Join(opts.WorkDir, TransformedDataDir)
	localWorkflow := filepath.Join(opts.WorkDir, WorkflowDir)
	defer blob.BestEffortRemoveAll(context.Background(), blob.POSIX{}, scratch, localData, localWorkflow)
	if err = os.MkdirAll(scratch, os.ModePerm); err != nil {
		return nil, errors.Trace(err)
	}

	engine, err := table.Open()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer engine.Close()

	log.Logger().Info("load data frames",
		zap.String("movies", log.RedactURI(moviesLocation)),
		zap.String("ratings", log.RedactURI(ratingsLocation)))
	movies, err := r.load(ctx, engine, moviesLocation, scratch)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings, err := r.load(ctx, engine, ratingsLocation, scratch)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("data frames loaded",
		zap.Int("movies", movies.Len()),
		zap.Int("ratings", ratings.Len()))

	trainIndices, testIndices, err := dataset.TrainTestSplit(ratings.Len(), opts.TestSize, opts.Seed)
	if err != nil {
		return nil, errors.Trace(err)
	}
	train, test := ratings.Take(trainIndices), ratings.Take(testIndices)
	log.Logger().Info("split ratings", zap.Int("train", train.Len()), zap.Int("test", test.Len()))

	workflow, err := NewWorkflow(movies)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = workflow.Fit(train); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("workflow fitted")

	transformedTrain, err := workflow.Transform(train)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, err = engine.WriteParquet(ctx, transformedTrain, filepath.Join(opts.WorkDir, TrainDir), table.WriteOptions{
		Shuffle: true,
		Seed:    opts.Seed,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	transformedTest, err := workflow.Transform(test)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, err = engine.WriteParquet(ctx, transformedTest, filepath.Join(opts.WorkDir, TestDir), table.WriteOptions{}); err != nil {
		return nil, errors.Trace(err)
	}
	if err = workflow.Save(ctx, blob.POSIX{}, localWorkflow); err != nil {
		return nil, errors.Trace(err)
	}

	log.Logger().Info("upload transformed data and workflow", zap.String("output_dir", log.RedactURI(opts.OutputDir)))
	if err = blob.UploadDirectory(ctx, r.fs, localData, blob.Join(opts.OutputDir, TransformedDataDir)); err != nil {
		return nil, errors.Trace(err)
	}
	if err = blob.UploadDirectory(ctx, r.fs, localWorkflow, blob.Join(opts.OutputDir, WorkflowDir)); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("etl completed", zap.Duration("duration", time.Since(start)))
	return &Result{
		TrainDir:    blob.Join(opts.OutputDir, TrainDir),
		TestDir:     blob.Join(opts.OutputDir, TestDir),
		WorkflowDir: blob.Join(opts.OutputDir, WorkflowDir),
		TrainRows:   transformedTrain.Len(),
		TestRows:    transformedTest.Len(),
		Shapes:      workflow.EmbeddingShapes(),
	}, nil
}
