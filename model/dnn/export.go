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
	"bufio"
	"context"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorse-io/gorse-pipeline/etl"
	"github.com/gorse-io/gorse-pipeline/features"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/gorse-io/gorse-pipeline/storage/table"
	"github.com/juju/errors"
)

const (
	ModelFileName    = "model.bin"
	ManifestFileName = "manifest.json"
	WorkflowDirName  = "workflow"
	manifestVersion  = 1
)

// Manifest describes an exported model bundle.
type Manifest struct {
	Version      int                       `json:"version"`
	Name         string                    `json:"name"`
	Config       Config                    `json:"config"`
	Label        string                    `json:"label"`
	InputDTypes  map[string]features.DType `json:"input_dtypes"`
	OutputDTypes map[string]features.DType `json:"output_dtypes"`
	Metrics      *Metrics                  `json:"metrics,omitempty"`
	Created      time.Time                 `json:"created"`
}

// Export writes the bundle <dir>/<name>/ holding the weights, the manifest
// and the workflow with serving dtypes. It returns the bundle path.
func Export(ctx context.Context, fs blob.FileSystem, rec *Recommender, workflow *etl.Workflow, metrics *Metrics, name, dir string) (string, error) {
	if name == "" {
		return "", errors.NotValidf("empty model name")
	}
	bundle := blob.Join(dir, name)
	if err := fs.MkdirAll(ctx, bundle); err != nil {
		return "", errors.Trace(err)
	}
	serving := workflow.WithServingDTypes()
	if err := serving.Save(ctx, fs, blob.Join(bundle, WorkflowDirName)); err != nil {
		return "", errors.Trace(err)
	}
	if err := writeFile(ctx, fs, blob.Join(bundle, ModelFileName), rec.Marshal); err != nil {
		return "", errors.Trace(err)
	}
	inputs := features.DTypes()
	delete(inputs, features.TargetFeatureName)
	manifest := Manifest{
		Version:      manifestVersion,
		Name:         name,
		Config:       rec.Config(),
		Label:        serving.Label(),
		InputDTypes:  inputs,
		OutputDTypes: serving.OutputDTypes(),
		Metrics:      metrics,
		Created:      time.Now().UTC(),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", errors.Trace(err)
	}
	err = writeFile(ctx, fs, blob.Join(bundle, ManifestFileName), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	return bundle, errors.Trace(err)
}

func writeFile(ctx context.Context, fs blob.FileSystem, path string, write func(io.Writer) error) error {
	f, err := fs.Create(ctx, path)
	if err != nil {
		return errors.Trace(err)
	}
	w := bufio.NewWriter(f)
	if err = write(w); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	if err = w.Flush(); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}

// Servable scores raw interaction rows with an exported bundle.
type Servable struct {
	Manifest Manifest
	model    *Recommender
	workflow *etl.Workflow
}

func LoadServable(ctx context.Context, fs blob.FileSystem, bundle string) (*Servable, error) {
	f, err := fs.Open(ctx, blob.Join(bundle, ManifestFileName))
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return nil, errors.Trace(err)
	}
	var manifest Manifest
	if err = json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Trace(err)
	}
	if manifest.Version != manifestVersion {
		return nil, errors.NotSupportedf("manifest version %d", manifest.Version)
	}
	rec, err := NewRecommender(manifest.Config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	f, err = fs.Open(ctx, blob.Join(bundle, ModelFileName))
	if err != nil {
		return nil, errors.Trace(err)
	}
	err = rec.Unmarshal(bufio.NewReader(f))
	_ = f.Close()
	if err != nil {
		return nil, errors.Trace(err)
	}
	workflow, err := etl.LoadWorkflow(ctx, fs, blob.Join(bundle, WorkflowDirName))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Servable{Manifest: manifest, model: rec, workflow: workflow}, nil
}

// Score encodes raw rows (userId, movieId) with the bundled workflow and
// returns one relevance score per row.
func (s *Servable) Score(rows *table.Frame) ([]float32, error) {
	encoded, err := s.workflow.Transform(rows)
	if err != nil {
		return nil, errors.Trace(err)
	}
	loader, err := NewFrameLoader(encoded, LoaderOptions{
		Features:   s.Manifest.Config.Features,
		Multivalue: s.isMultivalue,
		BatchSize:  max(encoded.Len(), 1),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	scores := make([]float32, 0, encoded.Len())
	for _, batch := range loader.Epoch(0) {
		predictions, err := s.model.Predict(batch)
		if err != nil {
			return nil, errors.Trace(err)
		}
		scores = append(scores, predictions...)
	}
	return scores, nil
}

func (s *Servable) isMultivalue(name string) bool {
	for _, m := range s.Manifest.Config.Multivalue {
		if m == name {
			return true
		}
	}
	return false
}
