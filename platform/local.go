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

package platform

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// StaticResolver resolves datasets from a fixed map.
type StaticResolver map[string]string

func (r StaticResolver) ResolveDataset(_ context.Context, displayName string) (string, error) {
	uri, ok := r[displayName]
	if !ok {
		return "", &DatasetNotFoundError{DisplayName: displayName}
	}
	return uri, nil
}

// Handler runs a job in the current process.
type Handler func(ctx context.Context, args []string) error

// LocalJobRunner runs jobs in-process, choosing the handler by the first
// element of the job command.
type LocalJobRunner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	history  []JobSpec
}

func NewLocalJobRunner() *LocalJobRunner {
	return &LocalJobRunner{handlers: make(map[string]Handler)}
}

func (r *LocalJobRunner) Handle(command string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[command] = handler
}

func (r *LocalJobRunner) RunJob(ctx context.Context, spec JobSpec) error {
	if len(spec.Command) == 0 {
		return errors.NotValidf("job %s without command", spec.DisplayName)
	}
	r.mu.Lock()
	handler, ok := r.handlers[spec.Command[0]]
	r.history = append(r.history, spec)
	r.mu.Unlock()
	if !ok {
		return errors.NotFoundf("handler for command %s", spec.Command[0])
	}
	log.Logger().Info("run local job",
		zap.String("display_name", spec.DisplayName),
		zap.Strings("command", spec.Command),
		zap.Strings("args", spec.Args))
	args := append(append([]string(nil), spec.Command[1:]...), spec.Args...)
	if err := handler(ctx, args); err != nil {
		return &JobFailedError{Name: spec.DisplayName, State: "FAILED", Message: err.Error()}
	}
	return nil
}

// History returns the jobs submitted so far.
func (r *LocalJobRunner) History() []JobSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]JobSpec(nil), r.history...)
}

// LocalRegistry copies models under a root directory, one version per
// upload: <root>/<display name>/<version>.
type LocalRegistry struct {
	fs   blob.FileSystem
	root string
}

func NewLocalRegistry(fs blob.FileSystem, root string) *LocalRegistry {
	return &LocalRegistry{fs: fs, root: root}
}

func (r *LocalRegistry) UploadModel(ctx context.Context, req UploadModelRequest) (string, error) {
	if req.DisplayName == "" || req.ArtifactURI == "" {
		return "", errors.NotValidf("model upload without display name or artifact URI")
	}
	version := uuid.NewString()
	dst := blob.Join(r.root, req.DisplayName, version)
	if err := blob.UploadDirectory(ctx, r.fs, req.ArtifactURI, dst); err != nil {
		return "", errors.Trace(err)
	}
	return dst, nil
}

// Versions lists the uploaded versions of a model.
func (r *LocalRegistry) Versions(ctx context.Context, displayName string) ([]string, error) {
	entries, err := r.fs.List(ctx, blob.Join(r.root, displayName))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var versions []string
	for _, entry := range entries {
		if entry.IsDir {
			versions = append(versions, entry.Path)
		}
	}
	sort.Strings(versions)
	return versions, nil
}
