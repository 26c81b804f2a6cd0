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
	"io"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/common/metrics"
	"github.com/gorse-io/gorse-pipeline/etl"
	"github.com/gorse-io/gorse-pipeline/model"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/gorse-io/gorse-pipeline/storage/table"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	DataDir        = "data"
	HistoryFile    = "history.json"
	trainPartition = "train"
	testPartition  = "test"
)

type TaskOptions struct {
	TrainDataPattern string
	TestDataPattern  string
	WorkflowDir      string
	ModelDir         string
	ModelName        string
	// LogDir receives the training history when set.
	LogDir string
	Params model.Params
	// WorkDir holds the local copies of data and workflow.
	WorkDir  string
	Progress io.Writer
}

type TaskResult struct {
	Hyperparams model.Hyperparams `json:"hyperparams"`
	History     []EpochHistory    `json:"history"`
	Metrics     Metrics           `json:"metrics"`
	ModelPath   string            `json:"model_path"`
}

// RunTask downloads the transformed partitions and the workflow, trains and
// evaluates a recommender, then exports it under ModelDir/ModelName.
func RunTask(ctx context.Context, fs blob.FileSystem, opts TaskOptions) (*TaskResult, error) {
	for flag, value := range map[string]string{
		"train data pattern": opts.TrainDataPattern,
		"test data pattern":  opts.TestDataPattern,
		"workflow directory": opts.WorkflowDir,
		"model directory":    opts.ModelDir,
		"model name":         opts.ModelName,
	} {
		if value == "" {
			return nil, errors.NotValidf("empty %s", flag)
		}
	}
	hyper, err := model.NormalizeHyperparams(opts.Params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("parameter values",
		zap.String("params", opts.Params.ToString()),
		zap.Ints("hidden_units", hyper.HiddenUnits),
		zap.Float32("learning_rate", hyper.LearningRate),
		zap.Int("batch_size", hyper.BatchSize),
		zap.Int("num_epochs", hyper.NumEpochs))
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}

	log.Logger().Info("download data and transform workflow")
	local := blob.POSIX{}
	dataDir := filepath.Join(opts.WorkDir, DataDir)
	workflowDir := filepath.Join(opts.WorkDir, blob.Base(opts.WorkflowDir))
	for _, dir := range []string{dataDir, workflowDir} {
		if err = local.RemoveAll(ctx, dir); err != nil {
			return nil, errors.Trace(err)
		}
	}
	trainDir := filepath.Join(dataDir, trainPartition)
	testDir := filepath.Join(dataDir, testPartition)
	for _, dir := range []string{trainDir, testDir} {
		if err = local.MkdirAll(ctx, dir); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if err = blob.CopyFiles(ctx, fs, opts.TrainDataPattern, trainDir); err != nil {
		return nil, errors.Trace(err)
	}
	if err = blob.CopyFiles(ctx, fs, opts.TestDataPattern, testDir); err != nil {
		return nil, errors.Trace(err)
	}
	if err = blob.DownloadDirectory(ctx, fs, opts.WorkflowDir, opts.WorkDir); err != nil {
		return nil, errors.Trace(err)
	}
	workflow, err := etl.LoadWorkflow(ctx, local, workflowDir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("data and workflow downloaded")

	engine, err := table.Open()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer engine.Close()
	columns := workflow.Columns()
	loaderOptions := LoaderOptions{
		Features:   columns,
		Multivalue: workflow.IsMultivalue,
		Label:      workflow.Label(),
		BatchSize:  hyper.BatchSize,
		Seed:       hyper.RandomState,
	}
	trainOptions := loaderOptions
	trainOptions.Shuffle = true
	trainLoader, err := NewLoader(ctx, engine, filepath.Join(trainDir, "*.parquet"), trainOptions)
	if err != nil {
		return nil, errors.Trace(err)
	}
	testLoader, err := NewLoader(ctx, engine, filepath.Join(testDir, "*.parquet"), loaderOptions)
	if err != nil {
		return nil, errors.Trace(err)
	}

	shapes := workflow.EmbeddingShapes()
	log.Logger().Info("embedding shapes", zap.Any("shapes", shapes))
	rec, err := NewRecommender(Config{
		Features:    columns,
		Multivalue:  lo.Filter(columns, func(name string, _ int) bool { return workflow.IsMultivalue(name) }),
		Shapes:      shapes,
		HiddenUnits: hyper.HiddenUnits,
		Seed:        hyper.RandomState,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	trainer := NewTrainer(rec, hyper.LearningRate)
	trainer.Progress = opts.Progress
	start := time.Now()
	history, err := trainer.Train(ctx, trainLoader, hyper.NumEpochs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("model fitting finished", zap.Duration("duration", time.Since(start)))
	scores, err := trainer.Evaluate(ctx, testLoader)
	if err != nil {
		return nil, errors.Trace(err)
	}
	metrics.ModelScore.WithLabelValues(opts.ModelName, "loss").Set(float64(scores.Loss))
	metrics.ModelScore.WithLabelValues(opts.ModelName, "mae").Set(float64(scores.MAE))
	if len(history) > 0 {
		metrics.TrainingEpochSeconds.Set(history[len(history)-1].Duration.Seconds())
	}

	path, err := Export(ctx, fs, rec, workflow, &scores, opts.ModelName, opts.ModelDir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("model exported", zap.String("path", log.RedactURI(path)))
	result := &TaskResult{
		Hyperparams: hyper,
		History:     history,
		Metrics:     scores,
		ModelPath:   path,
	}
	if opts.LogDir != "" {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err = fs.MkdirAll(ctx, opts.LogDir); err != nil {
			return nil, errors.Trace(err)
		}
		err = writeFile(ctx, fs, blob.Join(opts.LogDir, HistoryFile), func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return result, nil
}
