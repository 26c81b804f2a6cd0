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

// Package platform declares the external services the pipeline depends on:
// a dataset registry, a job execution substrate and a model registry.
package platform

import (
	"context"
	"fmt"

	"github.com/juju/errors"
)

// DatasetResolver maps a dataset display name to the storage URI of its data.
type DatasetResolver interface {
	ResolveDataset(ctx context.Context, displayName string) (string, error)
}

// JobRunner runs a container job and blocks until it finishes.
type JobRunner interface {
	RunJob(ctx context.Context, spec JobSpec) error
}

// ModelRegistry registers an exported model and returns its resource name.
type ModelRegistry interface {
	UploadModel(ctx context.Context, req UploadModelRequest) (string, error)
}

type MachineSpec struct {
	MachineType      string `json:"machine_type"`
	AcceleratorType  string `json:"accelerator_type,omitempty"`
	AcceleratorCount int    `json:"accelerator_count,omitempty"`
}

type JobSpec struct {
	DisplayName     string
	MachineSpec     MachineSpec
	ReplicaCount    int
	ImageURI        string
	Command         []string
	Args            []string
	Env             map[string]string
	StagingLocation string
	ServiceAccount  string
	Tensorboard     string
}

type UploadModelRequest struct {
	DisplayName     string
	ArtifactURI     string
	ServingImageURI string
	Labels          map[string]string
}

// DatasetNotFoundError is returned when no dataset has the requested display
// name. It matches errors.NotFound.
type DatasetNotFoundError struct {
	DisplayName string
}

func (e *DatasetNotFoundError) Error() string {
	return fmt.Sprintf("dataset with display name %s does not exist", e.DisplayName)
}

func (e *DatasetNotFoundError) Is(target error) bool {
	return target == errors.NotFound
}

// JobFailedError reports a job that reached a terminal state other than
// success.
type JobFailedError struct {
	Name    string
	State   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s finished in state %s", e.Name, e.State)
	}
	return fmt.Sprintf("job %s finished in state %s: %s", e.Name, e.State, e.Message)
}
