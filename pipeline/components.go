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
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/etl"
	"github.com/gorse-io/gorse-pipeline/model/dnn"
	"github.com/gorse-io/gorse-pipeline/platform"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Commands started by remote jobs. They are the entry points of the job
// image.
const (
	CommandETL   = "gorse-etl"
	CommandTrain = "gorse-train"
)

const jobTimeLayout = "20060102_150405"

// Components binds the training pipeline tasks to the platform services.
type Components struct {
	Resolver platform.DatasetResolver
	Jobs     platform.JobRunner
	Registry platform.ModelRegistry
	Now      func() time.Time
}

func (c *Components) Bind() map[string]Component {
	return map[string]Component{
		TaskGetData:     ComponentFunc(c.getData),
		TaskDataETL:     ComponentFunc(c.dataETL),
		TaskTrain:       ComponentFunc(c.train),
		TaskUploadModel: ComponentFunc(c.uploadModel),
	}
}

func (c *Components) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func output(tc *TaskContext, name string) (*Artifact, error) {
	artifact, ok := tc.Outputs[name]
	if !ok {
		return nil, errors.NotFoundf("output %s of task %s", name, tc.Task)
	}
	return artifact, nil
}

func input(tc *TaskContext, name string, record any) error {
	artifact, ok := tc.Inputs[name]
	if !ok {
		return errors.NotFoundf("input %s of task %s", name, tc.Task)
	}
	return artifact.Decode(record)
}

func (c *Components) getData(ctx context.Context, tc *TaskContext) error {
	out, err := output(tc, OutputDataset)
	if err != nil {
		return err
	}
	movies, err := c.Resolver.ResolveDataset(ctx, tc.Parameters[ArgMoviesDatasetName])
	if err != nil {
		return errors.Trace(err)
	}
	ratings, err := c.Resolver.ResolveDataset(ctx, tc.Parameters[ArgRatingsDatasetName])
	if err != nil {
		return errors.Trace(err)
	}
	return out.Encode(DatasetLocations{
		MoviesCSVDataLocation:  movies,
		RatingsCSVDataLocation: ratings,
	})
}

// jobSpec builds a custom job from the job parameters shared by data-etl
// and train.
func (c *Components) jobSpec(tc *TaskContext, prefix, command string, args []string) (platform.JobSpec, error) {
	var machine platform.MachineSpec
	if spec := tc.Parameters[ArgMachineSpec]; spec != "" {
		if err := json.Unmarshal([]byte(spec), &machine); err != nil {
			return platform.JobSpec{}, errors.NotValidf("machine spec %q", spec)
		}
	}
	replicas := 1
	if value := tc.Parameters[ArgReplicaCount]; value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return platform.JobSpec{}, errors.NotValidf("replica count %q", value)
		}
		replicas = n
	}
	return platform.JobSpec{
		DisplayName:     fmt.Sprintf("%s-%s", prefix, c.now().Format(jobTimeLayout)),
		MachineSpec:     machine,
		ReplicaCount:    replicas,
		ImageURI:        tc.Parameters[ArgImageURI],
		Command:         []string{command},
		Args:            args,
		StagingLocation: tc.Parameters[ArgStagingLocation],
		ServiceAccount:  tc.Parameters[ArgServiceAccount],
		Tensorboard:     tc.Parameters[ArgTensorboard],
	}, nil
}

func flag(name, value string) string {
	return fmt.Sprintf("--%s=%s", name, value)
}

func (c *Components) dataETL(ctx context.Context, tc *TaskContext) error {
	var dataset DatasetLocations
	if err := input(tc, OutputDataset, &dataset); err != nil {
		return errors.Trace(err)
	}
	out, err := output(tc, OutputETL)
	if err != nil {
		return err
	}
	spec, err := c.jobSpec(tc, "movielens-etl", CommandETL, []string{
		flag(etl.FlagMoviesLocation, dataset.MoviesCSVDataLocation),
		flag(etl.FlagRatingsLocation, dataset.RatingsCSVDataLocation),
		flag(etl.FlagOutputDir, out.URI),
	})
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("submit etl job", zap.String("job", spec.DisplayName))
	if err = c.Jobs.RunJob(ctx, spec); err != nil {
		return errors.Trace(err)
	}
	return out.Encode(ETLOutput{
		TransformedTrainDataDir: blob.Join(out.URI, etl.TrainDir),
		TransformedTestDataDir:  blob.Join(out.URI, etl.TestDir),
		TransformWorkflowDir:    blob.Join(out.URI, etl.WorkflowDir),
		JobName:                 spec.DisplayName,
	})
}

func (c *Components) train(ctx context.Context, tc *TaskContext) error {
	var etlOutput ETLOutput
	if err := input(tc, OutputETL, &etlOutput); err != nil {
		return errors.Trace(err)
	}
	out, err := output(tc, OutputModel)
	if err != nil {
		return err
	}
	name := tc.Parameters[ArgModelName]
	if name == "" {
		return errors.NotValidf("empty model name")
	}
	spec, err := c.jobSpec(tc, "movielens-training", CommandTrain, []string{
		flag(dnn.FlagModelDir, out.URI),
		flag(dnn.FlagModelName, name),
		flag(dnn.FlagTrainDataPattern, blob.Join(etlOutput.TransformedTrainDataDir, "*.parquet")),
		flag(dnn.FlagTestDataPattern, blob.Join(etlOutput.TransformedTestDataDir, "*.parquet")),
		flag(dnn.FlagWorkflowDir, etlOutput.TransformWorkflowDir),
		flag(dnn.FlagNumEpochs, tc.Parameters[ParamNumEpochs]),
		flag(dnn.FlagLearningRate, tc.Parameters[ParamLearningRate]),
		flag(dnn.FlagBatchSize, tc.Parameters[ParamBatchSize]),
	})
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("submit training job", zap.String("job", spec.DisplayName))
	if err = c.Jobs.RunJob(ctx, spec); err != nil {
		return errors.Trace(err)
	}
	return out.Encode(TrainedModel{
		ArtifactURI: blob.Join(out.URI, name),
		ModelName:   name,
		JobName:     spec.DisplayName,
	})
}

func (c *Components) uploadModel(ctx context.Context, tc *TaskContext) error {
	var trained TrainedModel
	if err := input(tc, OutputModel, &trained); err != nil {
		return errors.Trace(err)
	}
	out, err := output(tc, OutputUploadedModel)
	if err != nil {
		return err
	}
	displayName := tc.Parameters[ArgModelDisplayName]
	resource, err := c.Registry.UploadModel(ctx, platform.UploadModelRequest{
		DisplayName:     displayName,
		ArtifactURI:     trained.ArtifactURI,
		ServingImageURI: tc.Parameters[ArgServingImageURI],
		Labels: map[string]string{
			"pipeline": tc.PipelineName,
			"run_id":   tc.RunID,
		},
	})
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("model uploaded", zap.String("resource", resource))
	return out.Encode(UploadedModel{
		ResourceName: resource,
		DisplayName:  displayName,
		ArtifactURI:  trained.ArtifactURI,
	})
}

// RegisterLocalJobs serves the ETL and training commands in process. Jobs
// keep their scratch files below workDir unless --work-dir is given.
func RegisterLocalJobs(runner *platform.LocalJobRunner, fs blob.FileSystem, resolver platform.DatasetResolver, workDir string) {
	runner.Handle(CommandETL, func(ctx context.Context, args []string) error {
		var flags etl.Flags
		flagSet := newFlagSet(CommandETL)
		flags.AddFlags(flagSet)
		if err := flagSet.Parse(args); err != nil {
			return errors.Trace(err)
		}
		if !flagSet.Changed("work-dir") {
			flags.WorkDir = filepath.Join(workDir, CommandETL)
		}
		opts, err := flags.Options()
		if err != nil {
			return errors.Trace(err)
		}
		_, err = etl.NewRunner(fs, resolver).Run(ctx, opts)
		return errors.Trace(err)
	})
	runner.Handle(CommandTrain, func(ctx context.Context, args []string) error {
		var flags dnn.TaskFlags
		flagSet := newFlagSet(CommandTrain)
		flags.AddFlags(flagSet)
		if err := flagSet.Parse(args); err != nil {
			return errors.Trace(err)
		}
		if !flagSet.Changed("work-dir") {
			flags.WorkDir = filepath.Join(workDir, CommandTrain)
		}
		_, err := dnn.RunTask(ctx, fs, flags.Options(nil))
		return errors.Trace(err)
	})
}

func newFlagSet(name string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	return flagSet
}
