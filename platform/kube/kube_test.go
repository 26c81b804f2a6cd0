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

package kube

import (
	"context"
	"testing"
	"time"

	"github.com/gorse-io/gorse-pipeline/platform"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

// finishJob waits for a job to be created and marks it with a terminal condition.
func finishJob(t *testing.T, client *fake.Clientset, name string, condition kubebatch.JobConditionType) {
	go func() {
		ctx := context.Background()
		for {
			job, err := client.BatchV1().Jobs("ml").Get(ctx, name, kubeapimeta.GetOptions{})
			if err != nil {
				time.Sleep(time.Millisecond)
				continue
			}
			job.Status.Active = 0
			job.Status.Conditions = append(job.Status.Conditions, kubebatch.JobCondition{
				Type:    condition,
				Status:  kubecore.ConditionTrue,
				Message: "job finished",
			})
			_, err = client.BatchV1().Jobs("ml").UpdateStatus(ctx, job, kubeapimeta.UpdateOptions{})
			assert.NoError(t, err)
			return
		}
	}()
}

func newTestRunner(client *fake.Clientset) *JobRunner {
	runner := NewJobRunner(client, "ml")
	runner.PollInterval = time.Millisecond
	runner.MaxPollInterval = 5 * time.Millisecond
	return runner
}

func TestRunJob(t *testing.T) {
	client := fake.NewSimpleClientset()
	runner := newTestRunner(client)
	finishJob(t, client, "movielens-etl-20260101-000000", kubebatch.JobComplete)
	err := runner.RunJob(context.Background(), platform.JobSpec{
		DisplayName: "movielens-etl-20260101_000000",
		MachineSpec: platform.MachineSpec{MachineType: "n1-standard-4", AcceleratorCount: 1},
		ImageURI:    "gcr.io/merlin/gorse-pipeline:latest",
		Command:     []string{"gorse-etl"},
		Args:        []string{"--test-size=0.2"},
		Env:         map[string]string{"AIP_MODEL_DIR": "gs://merlin/model"},
		// cloud identities are not Kubernetes service accounts
		ServiceAccount: "vertex-sa@merlin.iam.gserviceaccount.com",
	})
	require.NoError(t, err)

	job, err := client.BatchV1().Jobs("ml").Get(context.Background(), "movielens-etl-20260101-000000", kubeapimeta.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	pod := job.Spec.Template.Spec
	assert.Equal(t, kubecore.RestartPolicyNever, pod.RestartPolicy)
	assert.Empty(t, pod.ServiceAccountName)
	assert.Equal(t, "n1-standard-4", pod.NodeSelector["node.kubernetes.io/instance-type"])
	container := pod.Containers[0]
	assert.Equal(t, "gcr.io/merlin/gorse-pipeline:latest", container.Image)
	assert.Equal(t, []string{"gorse-etl"}, container.Command)
	assert.Equal(t, []string{"--test-size=0.2"}, container.Args)
	assert.Equal(t, []kubecore.EnvVar{{Name: "AIP_MODEL_DIR", Value: "gs://merlin/model"}}, container.Env)
	gpu := container.Resources.Limits[gpuResource]
	assert.Equal(t, int64(1), gpu.Value())
}

func TestRunJobFailed(t *testing.T) {
	client := fake.NewSimpleClientset()
	runner := newTestRunner(client)
	finishJob(t, client, "train", kubebatch.JobFailed)
	err := runner.RunJob(context.Background(), platform.JobSpec{
		DisplayName:    "train",
		Command:        []string{"gorse-train"},
		ServiceAccount: "trainer",
	})
	var failed *platform.JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, string(Failed), failed.State)
	assert.Equal(t, "job finished", failed.Message)

	job, err := client.BatchV1().Jobs("ml").Get(context.Background(), "train", kubeapimeta.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "trainer", job.Spec.Template.Spec.ServiceAccountName)
}

func TestRunJobCancelled(t *testing.T) {
	runner := newTestRunner(fake.NewSimpleClientset())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := runner.RunJob(ctx, platform.JobSpec{DisplayName: "hang", Command: []string{"sleep"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatus(t *testing.T) {
	job := &kubebatch.Job{}
	status, _ := Status(job)
	assert.Equal(t, Pending, status)
	job.Status.Active = 1
	status, _ = Status(job)
	assert.Equal(t, Running, status)
	job.Status.Conditions = []kubebatch.JobCondition{{Type: kubebatch.JobComplete, Status: kubecore.ConditionFalse}}
	status, _ = Status(job)
	assert.Equal(t, Running, status)
}

func TestJobName(t *testing.T) {
	assert.Equal(t, "movielens-tf-training-20260101-120000", JobName("movielens-tf-training-20260101_120000"))
	assert.Equal(t, "etl", JobName("__ETL__"))
	assert.Len(t, JobName(string(make([]byte, 100))+"x"), 1)
}
