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

package metrics

import (
	"context"
	"time"

	"github.com/gorse-io/gorse-pipeline/common/progress"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	LabelPipeline = "pipeline"
	LabelTask     = "task"
	LabelStatus   = "status"
	LabelModel    = "model"
	LabelMetric   = "metric"
)

// Registry holds every pipeline metric. It is kept apart from the default
// registry so pushes carry only pipeline series.
var Registry = prometheus.NewRegistry()

var (
	TaskDurationSeconds = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gorse",
		Subsystem: "pipeline",
		Name:      "task_duration_seconds",
	}, []string{LabelPipeline, LabelTask})
	TaskStatus = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gorse",
		Subsystem: "pipeline",
		Name:      "task_status",
	}, []string{LabelPipeline, LabelTask, LabelStatus})
	TaskCacheHits = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "gorse",
		Subsystem: "pipeline",
		Name:      "task_cache_hits_total",
	}, []string{LabelPipeline, LabelTask})
	ModelScore = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gorse",
		Subsystem: "pipeline",
		Name:      "model_score",
	}, []string{LabelModel, LabelMetric})
	TrainingEpochSeconds = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "gorse",
		Subsystem: "pipeline",
		Name:      "training_epoch_seconds",
	})
)

var statuses = []progress.Status{
	progress.StatusPending,
	progress.StatusRunning,
	progress.StatusSucceeded,
	progress.StatusFailed,
}

// ObserveTask sets the status gauges of a task so exactly one status is 1.
func ObserveTask(pipeline, task string, status progress.Status, elapsed time.Duration) {
	for _, s := range statuses {
		value := 0.0
		if s == status {
			value = 1
		}
		TaskStatus.WithLabelValues(pipeline, task, string(s)).Set(value)
	}
	if status.Terminal() {
		TaskDurationSeconds.WithLabelValues(pipeline, task).Set(elapsed.Seconds())
	}
}

// Push sends the registry to a Pushgateway. An empty gateway is a no-op.
func Push(ctx context.Context, gateway, job string) error {
	if gateway == "" {
		return nil
	}
	err := push.New(gateway, job).Gatherer(Registry).PushContext(ctx)
	return errors.Annotatef(err, "push metrics to %s", gateway)
}
