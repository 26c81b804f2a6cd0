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
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorse-io/gorse-pipeline/common/encoding"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/common/metrics"
	"github.com/gorse-io/gorse-pipeline/common/progress"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// CacheDir is the directory under the pipeline root holding cached task
// outputs.
const CacheDir = ".cache"

// TaskContext carries the resolved inputs of one task execution. Components
// fill the metadata of Outputs.
type TaskContext struct {
	RunID          string
	PipelineName   string
	Task           string
	ServiceAccount string
	Parameters     map[string]string
	Inputs         map[string]Artifact
	Outputs        map[string]*Artifact
}

type Component interface {
	Run(ctx context.Context, tc *TaskContext) error
}

type ComponentFunc func(ctx context.Context, tc *TaskContext) error

func (f ComponentFunc) Run(ctx context.Context, tc *TaskContext) error {
	return f(ctx, tc)
}

type RunOptions struct {
	// RunID defaults to a random UUID.
	RunID           string
	ParameterValues map[string]any
	PipelineRoot    string `validate:"required"`
	EnableCaching   bool
	ServiceAccount  string
}

type TaskResult struct {
	Name       string              `json:"name"`
	Component  string              `json:"component"`
	Status     progress.Status     `json:"status"`
	Cached     bool                `json:"cached"`
	Error      string              `json:"error,omitempty"`
	Outputs    map[string]Artifact `json:"outputs,omitempty"`
	StartTime  time.Time           `json:"startTime"`
	FinishTime time.Time           `json:"finishTime"`
}

type RunResult struct {
	RunID        string          `json:"runId"`
	PipelineName string          `json:"pipelineName"`
	PipelineRoot string          `json:"pipelineRoot"`
	Status       progress.Status `json:"status"`
	Tasks        []TaskResult    `json:"tasks"`
}

func (r *RunResult) Task(name string) (TaskResult, bool) {
	for _, task := range r.Tasks {
		if task.Name == name {
			return task, true
		}
	}
	return TaskResult{}, false
}

type cacheEntry struct {
	Key     string              `json:"key"`
	Task    string              `json:"task"`
	RunID   string              `json:"runId"`
	Outputs map[string]Artifact `json:"outputs"`
	Created time.Time           `json:"created"`
}

// Runner executes compiled pipelines one task at a time.
type Runner struct {
	fs         blob.FileSystem
	components map[string]Component
}

func NewRunner(fs blob.FileSystem, components map[string]Component) *Runner {
	return &Runner{fs: fs, components: components}
}

// Run executes the tasks of doc in order. A failed task stops the run and
// leaves every later task pending. The returned result is non-nil whenever
// the run started.
func (r *Runner) Run(ctx context.Context, doc *Document, opts RunOptions) (*RunResult, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, errors.NotValidf("run options: %v", err)
	}
	tasks, err := order(doc.Tasks, doc.Parameters)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, task := range tasks {
		if _, ok := r.components[task.Component]; !ok {
			return nil, errors.NotFoundf("component %s of task %s", task.Component, task.Name)
		}
	}
	values, err := resolveParameters(doc.Parameters, opts.ParameterValues)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	tracer := progress.NewTracer(opts.RunID)
	for _, task := range tasks {
		tracer.Add(task.Name, 1)
		metrics.ObserveTask(doc.PipelineName, task.Name, progress.StatusPending, 0)
	}
	log.Logger().Info("start pipeline run",
		zap.String("pipeline", doc.PipelineName),
		zap.String("run_id", opts.RunID),
		zap.String("pipeline_root", log.RedactURI(opts.PipelineRoot)),
		zap.Bool("enable_caching", opts.EnableCaching))

	produced := make(map[string]map[string]Artifact)
	cached := make(map[string]bool)
	var runErr error
	for _, task := range tasks {
		if ctx.Err() != nil {
			runErr = errors.Trace(ctx.Err())
			break
		}
		_, span := tracer.Start(ctx, task.Name, 1)
		metrics.ObserveTask(doc.PipelineName, task.Name, progress.StatusRunning, 0)
		outputs, hit, err := r.runTask(ctx, doc, task, opts, values, produced)
		elapsed := time.Since(span.Progress().StartTime)
		if err != nil {
			span.Fail(err)
			metrics.ObserveTask(doc.PipelineName, task.Name, progress.StatusFailed, elapsed)
			log.TaskLogger(opts.RunID, task.Name).Error("task failed", zap.Error(err))
			runErr = errors.Annotatef(err, "task %s", task.Name)
			break
		}
		span.End()
		metrics.ObserveTask(doc.PipelineName, task.Name, progress.StatusSucceeded, elapsed)
		produced[task.Name] = outputs
		cached[task.Name] = hit
		log.TaskLogger(opts.RunID, task.Name).Info("task succeeded",
			zap.Bool("cached", hit),
			zap.Duration("duration", elapsed))
	}

	result := &RunResult{
		RunID:        opts.RunID,
		PipelineName: doc.PipelineName,
		PipelineRoot: opts.PipelineRoot,
		Status:       progress.StatusSucceeded,
	}
	for i, p := range tracer.List() {
		result.Tasks = append(result.Tasks, TaskResult{
			Name:       p.Name,
			Component:  tasks[i].Component,
			Status:     p.Status,
			Cached:     cached[p.Name],
			Error:      p.Error,
			Outputs:    produced[p.Name],
			StartTime:  p.StartTime,
			FinishTime: p.FinishTime,
		})
	}
	if runErr != nil {
		result.Status = progress.StatusFailed
	}
	return result, runErr
}

func (r *Runner) runTask(ctx context.Context, doc *Document, task Task, opts RunOptions, values map[string]string, produced map[string]map[string]Artifact) (map[string]Artifact, bool, error) {
	tc := &TaskContext{
		RunID:          opts.RunID,
		PipelineName:   doc.PipelineName,
		Task:           task.Name,
		ServiceAccount: opts.ServiceAccount,
		Parameters:     make(map[string]string, len(task.Parameters)),
		Inputs:         make(map[string]Artifact, len(task.Inputs)),
		Outputs:        make(map[string]*Artifact, len(task.Outputs)),
	}
	for name, value := range task.Parameters {
		if value.Parameter != "" {
			tc.Parameters[name] = values[value.Parameter]
		} else {
			tc.Parameters[name] = value.Constant
		}
	}
	for name, ref := range task.Inputs {
		artifact, ok := produced[ref.Task][ref.Output]
		if !ok {
			return nil, false, errors.NotFoundf("artifact %s.%s", ref.Task, ref.Output)
		}
		tc.Inputs[name] = artifact
	}

	logger := log.TaskLogger(opts.RunID, task.Name)
	key := cacheKey(task.Component, tc)
	cachePath := blob.Join(opts.PipelineRoot, CacheDir, key+".json")
	if opts.EnableCaching {
		entry, err := r.readCache(ctx, cachePath)
		if err != nil {
			logger.Warn("failed to read task cache", zap.Error(err))
		} else if entry != nil {
			metrics.TaskCacheHits.WithLabelValues(doc.PipelineName, task.Name).Inc()
			logger.Info("reuse cached outputs", zap.String("cached_run_id", entry.RunID))
			return entry.Outputs, true, nil
		}
	}

	for name, typ := range task.Outputs {
		tc.Outputs[name] = &Artifact{
			Name: name,
			Type: typ,
			URI:  blob.Join(opts.PipelineRoot, opts.RunID, task.Name, name),
		}
	}
	if err := r.components[task.Component].Run(ctx, tc); err != nil {
		return nil, false, errors.Trace(err)
	}
	outputs := make(map[string]Artifact, len(tc.Outputs))
	for name, artifact := range tc.Outputs {
		outputs[name] = *artifact
	}
	if opts.EnableCaching {
		entry := cacheEntry{Key: key, Task: task.Name, RunID: opts.RunID, Outputs: outputs, Created: time.Now().UTC()}
		if err := r.writeCache(ctx, opts.PipelineRoot, cachePath, &entry); err != nil {
			logger.Warn("failed to write task cache", zap.Error(err))
		}
	}
	return outputs, false, nil
}

// cacheKey digests the component and its resolved inputs.
func cacheKey(component string, tc *TaskContext) string {
	parts := []string{component}
	for _, name := range sortedKeys(tc.Parameters) {
		parts = append(parts, "parameter:"+name+"="+tc.Parameters[name])
	}
	for _, name := range sortedKeys(tc.Inputs) {
		artifact := tc.Inputs[name]
		metadata, _ := json.Marshal(artifact.Metadata)
		parts = append(parts, fmt.Sprintf("input:%s=%s:%s:%s", name, artifact.Type, artifact.URI, metadata))
	}
	return encoding.Digest(parts...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Runner) readCache(ctx context.Context, path string) (*cacheEntry, error) {
	exist, err := r.fs.Exists(ctx, path)
	if err != nil || !exist {
		return nil, errors.Trace(err)
	}
	f, err := r.fs.Open(ctx, path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var entry cacheEntry
	if err = json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Trace(err)
	}
	return &entry, nil
}

func (r *Runner) writeCache(ctx context.Context, root, path string, entry *cacheEntry) error {
	if err := r.fs.MkdirAll(ctx, blob.Join(root, CacheDir)); err != nil {
		return errors.Trace(err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Trace(err)
	}
	w, err := r.fs.Create(ctx, path)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err = w.Write(data); err != nil {
		_ = w.Close()
		return errors.Trace(err)
	}
	return errors.Trace(w.Close())
}

// resolveParameters merges submitted values over defaults and formats them.
func resolveParameters(params []Parameter, overrides map[string]any) (map[string]string, error) {
	values := make(map[string]string, len(params))
	known := make(map[string]Parameter, len(params))
	for _, p := range params {
		known[p.Name] = p
	}
	for name := range overrides {
		if _, ok := known[name]; !ok {
			return nil, errors.NotFoundf("pipeline parameter %s", name)
		}
	}
	for _, p := range params {
		value := p.Default
		if v, ok := overrides[p.Name]; ok {
			value = v
		}
		formatted, err := p.Format(value)
		if err != nil {
			return nil, errors.Trace(err)
		}
		values[p.Name] = formatted
	}
	return values, nil
}
