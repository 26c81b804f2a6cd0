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
	"io"
	"sort"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const SchemaVersion = "gorse-pipeline/v1"

type ParameterType string

const (
	ParameterInt    ParameterType = "INT"
	ParameterDouble ParameterType = "DOUBLE"
	ParameterString ParameterType = "STRING"
)

// Parameter is a run-time input of a pipeline. Values given at submission
// override the default.
type Parameter struct {
	Name    string        `json:"name"`
	Type    ParameterType `json:"type"`
	Default any           `json:"default"`
}

// Format renders v as the command line value of the parameter.
func (p Parameter) Format(v any) (string, error) {
	switch p.Type {
	case ParameterInt:
		switch v := v.(type) {
		case int:
			return strconv.Itoa(v), nil
		case int32:
			return strconv.FormatInt(int64(v), 10), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10), nil
			}
		case string:
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				return v, nil
			}
		}
	case ParameterDouble:
		switch v := v.(type) {
		case float32:
			return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case string:
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				return v, nil
			}
		}
	case ParameterString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	default:
		return "", errors.NotSupportedf("parameter type %s", p.Type)
	}
	return "", errors.NotValidf("value %v of %s parameter %s", v, p.Type, p.Name)
}

// Value is either a constant or a reference to a pipeline parameter.
type Value struct {
	Constant  string `json:"constant,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

func Const(s string) Value {
	return Value{Constant: s}
}

func Param(name string) Value {
	return Value{Parameter: name}
}

// ArtifactRef names an output of an upstream task.
type ArtifactRef struct {
	Task   string `json:"task"`
	Output string `json:"output"`
}

type Task struct {
	Name       string                  `json:"name"`
	Component  string                  `json:"component"`
	Parameters map[string]Value        `json:"parameters,omitempty"`
	Inputs     map[string]ArtifactRef  `json:"inputs,omitempty"`
	Outputs    map[string]ArtifactType `json:"outputs,omitempty"`
	DependsOn  []string                `json:"dependsOn,omitempty"`
}

// Upstream returns the sorted names of the tasks this task waits for.
func (t Task) Upstream() []string {
	upstream := mapset.NewSet(t.DependsOn...)
	for _, ref := range t.Inputs {
		upstream.Add(ref.Task)
	}
	names := upstream.ToSlice()
	sort.Strings(names)
	return names
}

// Definition is a pipeline as built in code.
type Definition struct {
	Name       string
	Parameters []Parameter
	Tasks      []Task
}

func (d *Definition) AddParameter(name string, typ ParameterType, value any) {
	d.Parameters = append(d.Parameters, Parameter{Name: name, Type: typ, Default: value})
}

func (d *Definition) AddTask(task Task) {
	d.Tasks = append(d.Tasks, task)
}

// Document is the portable form of a pipeline. Tasks are stored in
// execution order.
type Document struct {
	SchemaVersion string      `json:"schemaVersion"`
	PipelineName  string      `json:"pipelineName"`
	Parameters    []Parameter `json:"parameters"`
	Tasks         []Task      `json:"tasks"`
}

// Compile checks the graph of a definition and orders its tasks.
func Compile(def Definition) (*Document, error) {
	if def.Name == "" {
		return nil, errors.NotValidf("empty pipeline name")
	}
	doc := &Document{
		SchemaVersion: SchemaVersion,
		PipelineName:  def.Name,
		Parameters:    append([]Parameter(nil), def.Parameters...),
	}
	for _, p := range doc.Parameters {
		if _, err := p.Format(p.Default); err != nil {
			return nil, errors.Annotatef(err, "default of parameter %s", p.Name)
		}
	}
	tasks, err := order(def.Tasks, doc.Parameters)
	if err != nil {
		return nil, errors.Trace(err)
	}
	doc.Tasks = tasks
	return doc, nil
}

// order sorts tasks topologically. Ties keep the declaration order.
func order(tasks []Task, params []Parameter) ([]Task, error) {
	paramNames := mapset.NewSet(lo.Map(params, func(p Parameter, _ int) string { return p.Name })...)
	byName := make(map[string]Task, len(tasks))
	for _, task := range tasks {
		if task.Name == "" || task.Component == "" {
			return nil, errors.NotValidf("task without name or component")
		}
		if _, exist := byName[task.Name]; exist {
			return nil, errors.AlreadyExistsf("task %s", task.Name)
		}
		byName[task.Name] = task
	}
	for _, task := range tasks {
		for name, value := range task.Parameters {
			if value.Parameter != "" && !paramNames.Contains(value.Parameter) {
				return nil, errors.NotFoundf("pipeline parameter %s of task %s.%s", value.Parameter, task.Name, name)
			}
		}
		for _, upstream := range task.Upstream() {
			if _, ok := byName[upstream]; !ok {
				return nil, errors.NotFoundf("upstream task %s of task %s", upstream, task.Name)
			}
		}
		for name, ref := range task.Inputs {
			if _, ok := byName[ref.Task].Outputs[ref.Output]; !ok {
				return nil, errors.NotFoundf("output %s.%s for input %s.%s", ref.Task, ref.Output, task.Name, name)
			}
		}
	}

	done := mapset.NewThreadUnsafeSet[string]()
	sorted := make([]Task, 0, len(tasks))
	for len(sorted) < len(tasks) {
		next := -1
		for i, task := range tasks {
			if done.Contains(task.Name) {
				continue
			}
			if done.Contains(task.Upstream()...) {
				next = i
				break
			}
		}
		if next < 0 {
			pending := lo.Filter(tasks, func(task Task, _ int) bool { return !done.Contains(task.Name) })
			return nil, errors.NotValidf("cycle through task %s", pending[0].Name)
		}
		sorted = append(sorted, tasks[next])
		done.Add(tasks[next].Name)
	}
	return sorted, nil
}

// WriteDocument stores the document as JSON.
func WriteDocument(ctx context.Context, fs blob.FileSystem, path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	w, err := fs.Create(ctx, path)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err = w.Write(data); err != nil {
		_ = w.Close()
		return errors.Trace(err)
	}
	return errors.Trace(w.Close())
}

func ReadDocument(ctx context.Context, fs blob.FileSystem, path string) (*Document, error) {
	r, err := fs.Open(ctx, path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var doc Document
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Trace(err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return nil, errors.NotSupportedf("pipeline schema %q", doc.SchemaVersion)
	}
	return &doc, nil
}
