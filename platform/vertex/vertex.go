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

// Package vertex implements the platform services on Vertex AI.
package vertex

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/config"
	"github.com/gorse-io/gorse-pipeline/platform"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/option"
)

const (
	JobStateSucceeded = "JOB_STATE_SUCCEEDED"
	JobStateFailed    = "JOB_STATE_FAILED"
	JobStateCancelled = "JOB_STATE_CANCELLED"
	JobStateExpired   = "JOB_STATE_EXPIRED"
)

// Client talks to the Vertex AI REST API of one project and region.
type Client struct {
	service *aiplatform.Service
	project string
	region  string
	// initial and maximal intervals between two status polls
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

func NewClient(ctx context.Context, project, region string, opts ...option.ClientOption) (*Client, error) {
	service, err := aiplatform.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Client{
		service:         service,
		project:         project,
		region:          region,
		PollInterval:    10 * time.Second,
		MaxPollInterval: 5 * time.Minute,
	}, nil
}

// NewClientFromConfig connects to the regional endpoint unless an endpoint
// override is configured.
func NewClientFromConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	var opts []option.ClientOption
	if cfg.VertexEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.VertexEndpoint), option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("https://%s-aiplatform.googleapis.com/", cfg.Region)))
		if cfg.GCS.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCS.CredentialsFile))
		}
	}
	return NewClient(ctx, cfg.Project, cfg.Region, opts...)
}

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.project, c.region)
}

type datasetMetadata struct {
	InputConfig struct {
		GcsSource struct {
			Uri []string `json:"uri"`
		} `json:"gcsSource"`
		BigquerySource struct {
			Uri string `json:"uri"`
		} `json:"bigquerySource"`
	} `json:"inputConfig"`
}

// ResolveDataset returns the first source URI of the tabular dataset with
// the given display name.
func (c *Client) ResolveDataset(ctx context.Context, displayName string) (string, error) {
	var found *aiplatform.GoogleCloudAiplatformV1Dataset
	err := c.service.Projects.Locations.Datasets.List(c.parent()).
		Filter(fmt.Sprintf("display_name=%q", displayName)).
		Pages(ctx, func(resp *aiplatform.GoogleCloudAiplatformV1ListDatasetsResponse) error {
			for _, dataset := range resp.Datasets {
				if found == nil && dataset.DisplayName == displayName {
					found = dataset
				}
			}
			return nil
		})
	if err != nil {
		return "", errors.Trace(err)
	}
	if found == nil {
		return "", &platform.DatasetNotFoundError{DisplayName: displayName}
	}
	raw, err := json.Marshal(found.Metadata)
	if err != nil {
		return "", errors.Trace(err)
	}
	var metadata datasetMetadata
	if err = json.Unmarshal(raw, &metadata); err != nil {
		return "", errors.Trace(err)
	}
	if len(metadata.InputConfig.GcsSource.Uri) > 0 {
		return metadata.InputConfig.GcsSource.Uri[0], nil
	}
	if metadata.InputConfig.BigquerySource.Uri != "" {
		return metadata.InputConfig.BigquerySource.Uri, nil
	}
	return "", errors.NotFoundf("source URI of dataset %s", displayName)
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.PollInterval
	b.MaxInterval = c.MaxPollInterval
	return b
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func customJob(spec platform.JobSpec) *aiplatform.GoogleCloudAiplatformV1CustomJob {
	replicas := spec.ReplicaCount
	if replicas <= 0 {
		replicas = 1
	}
	keys := make([]string, 0, len(spec.Env))
	for key := range spec.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]*aiplatform.GoogleCloudAiplatformV1EnvVar, 0, len(keys))
	for _, key := range keys {
		env = append(env, &aiplatform.GoogleCloudAiplatformV1EnvVar{Name: key, Value: spec.Env[key]})
	}
	jobSpec := &aiplatform.GoogleCloudAiplatformV1CustomJobSpec{
		WorkerPoolSpecs: []*aiplatform.GoogleCloudAiplatformV1WorkerPoolSpec{{
			MachineSpec: &aiplatform.GoogleCloudAiplatformV1MachineSpec{
				MachineType:      spec.MachineSpec.MachineType,
				AcceleratorType:  spec.MachineSpec.AcceleratorType,
				AcceleratorCount: int64(spec.MachineSpec.AcceleratorCount),
			},
			ReplicaCount: int64(replicas),
			ContainerSpec: &aiplatform.GoogleCloudAiplatformV1ContainerSpec{
				ImageUri: spec.ImageURI,
				Command:  spec.Command,
				Args:     spec.Args,
				Env:      env,
			},
		}},
		ServiceAccount: spec.ServiceAccount,
		Tensorboard:    spec.Tensorboard,
	}
	if spec.StagingLocation != "" {
		jobSpec.BaseOutputDirectory = &aiplatform.GoogleCloudAiplatformV1GcsDestination{
			OutputUriPrefix: spec.StagingLocation,
		}
	}
	return &aiplatform.GoogleCloudAiplatformV1CustomJob{
		DisplayName: spec.DisplayName,
		JobSpec:     jobSpec,
	}
}

// RunJob creates a custom job and polls it until it reaches a terminal state.
func (c *Client) RunJob(ctx context.Context, spec platform.JobSpec) error {
	job, err := c.service.Projects.Locations.CustomJobs.Create(c.parent(), customJob(spec)).Context(ctx).Do()
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("custom job created",
		zap.String("name", job.Name),
		zap.String("display_name", spec.DisplayName))
	b := c.newBackOff()
	state := job.State
	for {
		switch job.State {
		case JobStateSucceeded:
			log.Logger().Info("custom job succeeded", zap.String("name", job.Name))
			return nil
		case JobStateFailed, JobStateCancelled, JobStateExpired:
			failed := &platform.JobFailedError{Name: job.Name, State: job.State}
			if job.Error != nil {
				failed.Message = job.Error.Message
			}
			return failed
		}
		if err = wait(ctx, b.NextBackOff()); err != nil {
			return errors.Trace(err)
		}
		job, err = c.service.Projects.Locations.CustomJobs.Get(job.Name).Context(ctx).Do()
		if err != nil {
			return errors.Trace(err)
		}
		if job.State != state {
			log.Logger().Info("custom job state changed", zap.String("name", job.Name), zap.String("state", job.State))
			state = job.State
		}
	}
}

type uploadModelResponse struct {
	Model          string `json:"model"`
	ModelVersionId string `json:"modelVersionId"`
}

// UploadModel registers a model and waits for the long-running operation.
func (c *Client) UploadModel(ctx context.Context, req platform.UploadModelRequest) (string, error) {
	op, err := c.service.Projects.Locations.Models.Upload(c.parent(), &aiplatform.GoogleCloudAiplatformV1UploadModelRequest{
		Model: &aiplatform.GoogleCloudAiplatformV1Model{
			DisplayName: req.DisplayName,
			ArtifactUri: req.ArtifactURI,
			Labels:      req.Labels,
			ContainerSpec: &aiplatform.GoogleCloudAiplatformV1ModelContainerSpec{
				ImageUri: req.ServingImageURI,
			},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", errors.Trace(err)
	}
	b := c.newBackOff()
	for !op.Done {
		if err = wait(ctx, b.NextBackOff()); err != nil {
			return "", errors.Trace(err)
		}
		op, err = c.service.Projects.Locations.Operations.Get(op.Name).Context(ctx).Do()
		if err != nil {
			return "", errors.Trace(err)
		}
	}
	if op.Error != nil {
		return "", errors.Errorf("upload model %s: %s", req.DisplayName, op.Error.Message)
	}
	raw, err := json.Marshal(op.Response)
	if err != nil {
		return "", errors.Trace(err)
	}
	var resp uploadModelResponse
	if err = json.Unmarshal(raw, &resp); err != nil {
		return "", errors.Trace(err)
	}
	if resp.Model == "" {
		return "", errors.NotFoundf("model in response of operation %s", op.Name)
	}
	log.Logger().Info("model uploaded", zap.String("model", resp.Model), zap.String("version", resp.ModelVersionId))
	return resp.Model, nil
}
