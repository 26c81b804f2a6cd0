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

package etl

import (
	"context"
	"io"

	"github.com/goccy/go-json"
	"github.com/gorse-io/gorse-pipeline/dataset"
	"github.com/gorse-io/gorse-pipeline/features"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/gorse-io/gorse-pipeline/storage/table"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const (
	WorkflowFileName = "workflow.json"
	workflowVersion  = 1
	// LabelThreshold is the rating above which an interaction is positive.
	LabelThreshold = 3.0
)

// Workflow joins interactions to entity metadata, encodes every joined
// column as categories and derives a binary label from the rating. It is
// fitted once and then applied read-only.
type Workflow struct {
	joinKey       string
	entityColumns []string
	entities      map[string][]any
	label         string
	threshold     float64
	columns       []string
	categories    map[string]*dataset.Categories
	fitted        bool
	servingDTypes bool
}

// NewWorkflow creates an unfitted workflow joining on features.ItemKey.
func NewWorkflow(entities *table.Frame) (*Workflow, error) {
	keys, err := entities.Column(features.ItemKey)
	if err != nil {
		return nil, errors.Trace(err)
	}
	w := &Workflow{
		joinKey:   features.ItemKey,
		entities:  make(map[string][]any, len(keys)),
		label:     features.TargetFeatureName,
		threshold: LabelThreshold,
	}
	for _, name := range entities.Columns() {
		if name != w.joinKey {
			w.entityColumns = append(w.entityColumns, name)
		}
	}
	columns := make([][]any, len(w.entityColumns))
	for i, name := range w.entityColumns {
		columns[i], _ = entities.Column(name)
	}
	for row, key := range keys {
		k, ok := dataset.Key(key)
		if !ok {
			continue
		}
		values := make([]any, len(columns))
		for i := range columns {
			values[i] = columns[i][row]
		}
		w.entities[k] = values
	}
	return w, nil
}

// join appends the entity columns to an interaction frame, leaving nil where
// no entity matches.
func (w *Workflow) join(frame *table.Frame) (*table.Frame, error) {
	keys, err := frame.Column(w.joinKey)
	if err != nil {
		return nil, errors.Trace(err)
	}
	joined := frame.Drop(w.entityColumns...)
	for i, name := range w.entityColumns {
		values := make([]any, len(keys))
		for row, key := range keys {
			k, ok := dataset.Key(key)
			if !ok {
				continue
			}
			if entity, ok := w.entities[k]; ok {
				values[row] = entity[i]
			}
		}
		if err = joined.AddColumn(name, values); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return joined, nil
}

// Fit learns the category codes from the train subset.
func (w *Workflow) Fit(train *table.Frame) error {
	if w.fitted {
		return errors.AlreadyExistsf("fitted workflow")
	}
	joined, err := w.join(train)
	if err != nil {
		return errors.Trace(err)
	}
	w.columns = lo.Filter(joined.Columns(), func(name string, _ int) bool {
		return name != w.label
	})
	w.categories = make(map[string]*dataset.Categories, len(w.columns))
	for _, name := range w.columns {
		dict := dataset.NewCategories(name)
		values, _ := joined.Column(name)
		for _, v := range values {
			if err = dict.Observe(v); err != nil {
				return errors.Trace(err)
			}
		}
		dict.Freeze()
		w.categories[name] = dict
	}
	w.fitted = true
	return nil
}

// Transform encodes a frame. The label column is produced only when the
// frame carries a rating.
func (w *Workflow) Transform(frame *table.Frame) (*table.Frame, error) {
	if !w.fitted {
		return nil, errors.NotValidf("unfitted workflow")
	}
	joined, err := w.join(frame)
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := table.NewFrame()
	for _, name := range w.columns {
		dict := w.categories[name]
		values, err := joined.Column(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		encoded := make([]any, len(values))
		multivalue := features.IsMultivalue(name)
		for i, v := range values {
			if v == nil && multivalue {
				encoded[i] = w.cast([]int64{dataset.NullCode})
				continue
			}
			encoded[i] = w.cast(dict.Encode(v))
		}
		if err = out.AddColumn(name, encoded); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if joined.Has(w.label) {
		ratings, _ := joined.Column(w.label)
		labels := make([]any, len(ratings))
		for i, v := range ratings {
			rating, err := toFloat(v)
			if err != nil {
				return nil, errors.Annotatef(err, "row %d", i)
			}
			labels[i] = float32(0)
			if rating > w.threshold {
				labels[i] = float32(1)
			}
		}
		if err = out.AddColumn(w.label, labels); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return out, nil
}

func (w *Workflow) cast(v any) any {
	if !w.servingDTypes {
		return v
	}
	switch v := v.(type) {
	case int64:
		return int32(v)
	case []int64:
		return lo.Map(v, func(x int64, _ int) int32 { return int32(x) })
	default:
		return v
	}
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return 0, errors.NotValidf("rating of type %T", v)
	}
}

// Columns returns the encoded feature columns in output order.
func (w *Workflow) Columns() []string {
	return append([]string(nil), w.columns...)
}

func (w *Workflow) Label() string {
	return w.label
}

func (w *Workflow) Categories(name string) (*dataset.Categories, bool) {
	dict, ok := w.categories[name]
	return dict, ok
}

// IsMultivalue reports whether an output column holds lists.
func (w *Workflow) IsMultivalue(name string) bool {
	return features.IsMultivalue(name)
}

// EmbeddingShapes returns the table size of every encoded column.
func (w *Workflow) EmbeddingShapes() map[string]dataset.EmbeddingShape {
	shapes := make(map[string]dataset.EmbeddingShape, len(w.categories))
	for name, dict := range w.categories {
		shapes[name] = dataset.NewEmbeddingShape(dict.Cardinality())
	}
	return shapes
}

// OutputDTypes maps every output column to its numeric type.
func (w *Workflow) OutputDTypes() map[string]features.DType {
	dtypes := make(map[string]features.DType, len(w.columns)+1)
	for _, name := range w.columns {
		if w.servingDTypes {
			dtypes[name] = features.Int32
		} else {
			dtypes[name] = features.Int64
		}
	}
	dtypes[w.label] = features.Float32
	return dtypes
}

// WithServingDTypes returns a copy whose encoded columns are int32.
func (w *Workflow) WithServingDTypes() *Workflow {
	c := *w
	c.servingDTypes = true
	return &c
}

type workflowJSON struct {
	Version       int                            `json:"version"`
	JoinKey       string                         `json:"join_key"`
	EntityColumns []string                       `json:"entity_columns"`
	Entities      map[string][]any               `json:"entities"`
	Label         string                         `json:"label"`
	Threshold     float64                        `json:"threshold"`
	Columns       []string                       `json:"columns"`
	Categories    map[string]*dataset.Categories `json:"categories"`
	OutputDTypes  map[string]features.DType      `json:"output_dtypes"`
	ServingDTypes bool                           `json:"serving_dtypes"`
}

// Save writes the fitted workflow to dir/workflow.json.
func (w *Workflow) Save(ctx context.Context, fs blob.FileSystem, dir string) error {
	if !w.fitted {
		return errors.NotValidf("unfitted workflow")
	}
	if err := fs.MkdirAll(ctx, dir); err != nil {
		return errors.Trace(err)
	}
	data, err := json.Marshal(workflowJSON{
		Version:       workflowVersion,
		JoinKey:       w.joinKey,
		EntityColumns: w.entityColumns,
		Entities:      w.entities,
		Label:         w.label,
		Threshold:     w.threshold,
		Columns:       w.columns,
		Categories:    w.categories,
		OutputDTypes:  w.OutputDTypes(),
		ServingDTypes: w.servingDTypes,
	})
	if err != nil {
		return errors.Trace(err)
	}
	f, err := fs.Create(ctx, blob.Join(dir, WorkflowFileName))
	if err != nil {
		return errors.Trace(err)
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}

// LoadWorkflow reads a workflow written by Save.
func LoadWorkflow(ctx context.Context, fs blob.FileSystem, dir string) (*Workflow, error) {
	f, err := fs.Open(ctx, blob.Join(dir, WorkflowFileName))
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var v workflowJSON
	if err = json.Unmarshal(data, &v); err != nil {
		return nil, errors.Trace(err)
	}
	if v.Version != workflowVersion {
		return nil, errors.NotSupportedf("workflow version %d", v.Version)
	}
	for _, name := range v.Columns {
		if _, ok := v.Categories[name]; !ok {
			return nil, errors.NotFoundf("categories of column %s", name)
		}
	}
	// lists come back from JSON as []any
	for _, values := range v.Entities {
		for i, name := range v.EntityColumns {
			if list, ok := values[i].([]any); ok && features.IsMultivalue(name) {
				values[i] = lo.Map(list, func(x any, _ int) string {
					s, _ := x.(string)
					return s
				})
			}
		}
	}
	return &Workflow{
		joinKey:       v.JoinKey,
		entityColumns: v.EntityColumns,
		entities:      v.Entities,
		label:         v.Label,
		threshold:     v.Threshold,
		columns:       v.Columns,
		categories:    v.Categories,
		fitted:        true,
		servingDTypes: v.ServingDTypes,
	}, nil
}
