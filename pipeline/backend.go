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

	"github.com/gorse-io/gorse-pipeline/config"
	"github.com/gorse-io/gorse-pipeline/platform"
	"github.com/gorse-io/gorse-pipeline/platform/kube"
	"github.com/gorse-io/gorse-pipeline/platform/vertex"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/juju/errors"
)

// NewComponents connects the components to the services of the configured
// job backend. Non-empty datasets map display names to locations and replace
// the dataset registry.
func NewComponents(ctx context.Context, cfg *config.Config, fs blob.FileSystem, datasets map[string]string, workDir string) (*Components, error) {
	components := &Components{}
	if len(datasets) > 0 {
		components.Resolver = platform.StaticResolver(datasets)
	}
	switch cfg.JobBackend {
	case config.JobBackendVertex:
		client, err := vertex.NewClientFromConfig(ctx, cfg)
		if err != nil {
			return nil, errors.Trace(err)
		}
		components.Jobs = client
		components.Registry = client
		if components.Resolver == nil {
			components.Resolver = client
		}
	case config.JobBackendKubernetes:
		client, err := kube.NewClient(cfg.Kubernetes.Kubeconfig)
		if err != nil {
			return nil, errors.Trace(err)
		}
		components.Jobs = kube.NewJobRunner(client, cfg.Kubernetes.Namespace)
		components.Registry = platform.NewLocalRegistry(fs, cfg.ModelRegistryURI)
		if components.Resolver == nil {
			vertexClient, err := vertex.NewClientFromConfig(ctx, cfg)
			if err != nil {
				return nil, errors.Trace(err)
			}
			components.Resolver = vertexClient
		}
	case config.JobBackendLocal:
		if components.Resolver == nil {
			components.Resolver = platform.StaticResolver{}
		}
		runner := platform.NewLocalJobRunner()
		RegisterLocalJobs(runner, fs, components.Resolver, workDir)
		components.Jobs = runner
		components.Registry = platform.NewLocalRegistry(fs, cfg.ModelRegistryURI)
	default:
		return nil, errors.NotSupportedf("job backend %q", cfg.JobBackend)
	}
	return components, nil
}
