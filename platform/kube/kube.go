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

// Package kube runs pipeline jobs as Kubernetes batch jobs.
package kube

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/platform"
	"github.com/juju/errors"
	"go.uber.org/zap"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapiresource "k8s.io/apimachinery/pkg/api/resource"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type JobStatus string

const (
	Pending   JobStatus = "Pending"
	Running   JobStatus = "Running"
	Succeeded JobStatus = "Succeeded"
	Failed    JobStatus = "Failed"
)

const (
	containerName = "main"
	gpuResource   = "nvidia.com/gpu"
)

// JobRunner creates one batch job per pipeline job and waits for it.
type JobRunner struct {
	client          kubernetes.Interface
	namespace       string
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

func NewJobRunner(client kubernetes.Interface, namespace string) *JobRunner {
	return &JobRunner{
		client:          client,
		namespace:       namespace,
		PollInterval:    5 * time.Second,
		MaxPollInterval: time.Minute,
	}
}

// NewClient connects with the in-cluster config, or with kubeconfig if set.
func NewClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		config *rest.Config
		err    error
	)
	if kubeconfig == "" {
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return client, nil
}

var invalidName = regexp.MustCompile(`[^a-z0-9-]+`)

// JobName converts a display name into a valid object name.
func JobName(displayName string) string {
	name := invalidName.ReplaceAllString(strings.ToLower(displayName), "-")
	if len(name) > 63 {
		name = name[:63]
	}
	return strings.Trim(name, "-")
}

func (r *JobRunner) newJob(spec platform.JobSpec) *kubebatch.Job {
	keys := make([]string, 0, len(spec.Env))
	for key := range spec.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]kubecore.EnvVar, 0, len(keys))
	for _, key := range keys {
		env = append(env, kubecore.EnvVar{Name: key, Value: spec.Env[key]})
	}
	container := kubecore.Container{
		Name:    containerName,
		Image:   spec.ImageURI,
		Command: spec.Command,
		Args:    spec.Args,
		Env:     env,
	}
	if spec.MachineSpec.AcceleratorCount > 0 {
		quantity := kubeapiresource.MustParse(strconv.Itoa(spec.MachineSpec.AcceleratorCount))
		container.Resources.Limits = kubecore.ResourceList{gpuResource: quantity}
	}
	podSpec := kubecore.PodSpec{
		RestartPolicy: kubecore.RestartPolicyNever,
		Containers:    []kubecore.Container{container},
	}
	// cloud identities look like e-mail addresses and have no meaning here
	if spec.ServiceAccount != "" && !strings.Contains(spec.ServiceAccount, "@") {
		podSpec.ServiceAccountName = spec.ServiceAccount
	}
	if spec.MachineSpec.MachineType != "" {
		podSpec.NodeSelector = map[string]string{"node.kubernetes.io/instance-type": spec.MachineSpec.MachineType}
	}
	backoffLimit := int32(0)
	labels := map[string]string{"app.kubernetes.io/managed-by": "gorse-pipeline"}
	return &kubebatch.Job{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:        JobName(spec.DisplayName),
			Namespace:   r.namespace,
			Labels:      labels,
			Annotations: map[string]string{"gorse.io/display-name": spec.DisplayName},
		},
		Spec: kubebatch.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: labels},
				Spec:       podSpec,
			},
		},
	}
}

// Status derives the state of a job from its conditions.
func Status(job *kubebatch.Job) (JobStatus, string) {
	for _, condition := range job.Status.Conditions {
		if condition.Status != kubecore.ConditionTrue {
			continue
		}
		switch condition.Type {
		case kubebatch.JobComplete:
			return Succeeded, condition.Message
		case kubebatch.JobFailed:
			return Failed, condition.Message
		}
	}
	if job.Status.Active > 0 {
		return Running, ""
	}
	return Pending, ""
}

func (r *JobRunner) RunJob(ctx context.Context, spec platform.JobSpec) error {
	job, err := r.client.BatchV1().Jobs(r.namespace).Create(ctx, r.newJob(spec), kubeapimeta.CreateOptions{})
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("kubernetes job created", zap.String("namespace", r.namespace), zap.String("name", job.Name))
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.PollInterval
	b.MaxInterval = r.MaxPollInterval
	last := Pending
	for {
		status, message := Status(job)
		if status != last {
			log.Logger().Info("kubernetes job status changed", zap.String("name", job.Name), zap.String("status", string(status)))
			last = status
		}
		switch status {
		case Succeeded:
			return nil
		case Failed:
			return &platform.JobFailedError{Name: job.Name, State: string(status), Message: message}
		}
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Trace(ctx.Err())
		case <-timer.C:
		}
		job, err = r.client.BatchV1().Jobs(r.namespace).Get(ctx, job.Name, kubeapimeta.GetOptions{})
		if err != nil {
			return errors.Trace(err)
		}
	}
}
