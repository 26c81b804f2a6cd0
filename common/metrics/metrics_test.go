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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorse-io/gorse-pipeline/common/progress"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTask(t *testing.T) {
	ObserveTask("test", "train", progress.StatusRunning, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(TaskStatus.WithLabelValues("test", "train", "Running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(TaskStatus.WithLabelValues("test", "train", "Pending")))

	ObserveTask("test", "train", progress.StatusSucceeded, 3*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(TaskStatus.WithLabelValues("test", "train", "Running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(TaskStatus.WithLabelValues("test", "train", "Succeeded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(TaskDurationSeconds.WithLabelValues("test", "train")))
}

func TestPush(t *testing.T) {
	var (
		path string
		body string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ObserveTask("push", "get-data", progress.StatusSucceeded, time.Second)
	require.NoError(t, Push(context.Background(), server.URL, "gorse-pipeline"))
	assert.Equal(t, "/metrics/job/gorse-pipeline", path)
	assert.NotEmpty(t, body)

	// no gateway configured
	assert.NoError(t, Push(context.Background(), "", "gorse-pipeline"))
}
