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

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	JobBackendVertex     = "vertex"
	JobBackendKubernetes = "kubernetes"
	JobBackendLocal      = "local"
)

// Config is built once at process start and passed to every component
// that needs it.
type Config struct {
	Project                   string            `mapstructure:"project" validate:"required"`
	Region                    string            `mapstructure:"region" validate:"required"`
	GCSLocation               string            `mapstructure:"gcs_location" validate:"required"`
	ArtifactStoreURI          string            `mapstructure:"artifact_store_uri"`
	ModelRegistryURI          string            `mapstructure:"model_registry_uri"`
	MoviesDatasetDisplayName  string            `mapstructure:"movies_dataset_display_name" validate:"required"`
	RatingsDatasetDisplayName string            `mapstructure:"ratings_dataset_display_name" validate:"required"`
	ModelDisplayName          string            `mapstructure:"model_display_name" validate:"required"`
	PipelineName              string            `mapstructure:"pipeline_name"`
	ImageURI                  string            `mapstructure:"image_uri"`
	ServingImageURI           string            `mapstructure:"serving_image_uri" validate:"required"`
	VertexServiceAccount      string            `mapstructure:"vertex_service_account"`
	PipelinesServiceAccount   string            `mapstructure:"pipelines_sa"`
	EnableCaching             bool              `mapstructure:"enable_caching"`
	TensorboardResourceName   string            `mapstructure:"tensorboard_resource_name"`
	VertexEndpoint            string            `mapstructure:"vertex_endpoint"`
	JobBackend                string            `mapstructure:"job_backend" validate:"oneof=vertex kubernetes local"`
	Machine                   MachineConfig     `mapstructure:"machine"`
	Kubernetes                KubernetesConfig  `mapstructure:"kubernetes"`
	GCS                       GCSConfig         `mapstructure:"gcs"`
	S3                        S3Config          `mapstructure:"s3"`
	AzureBlob                 AzureBlobConfig   `mapstructure:"azure"`
	Training                  TrainingEnvConfig `mapstructure:"training"`
	Metrics                   MetricsConfig     `mapstructure:"metrics"`
}

type MachineConfig struct {
	MachineType      string `mapstructure:"machine_type" validate:"required"`
	AcceleratorType  string `mapstructure:"accelerator_type"`
	AcceleratorCount int    `mapstructure:"accelerator_count" validate:"gte=0"`
	ReplicaCount     int    `mapstructure:"replica_count" validate:"gt=0"`
}

type KubernetesConfig struct {
	Namespace  string `mapstructure:"namespace"`
	Kubeconfig string `mapstructure:"kubeconfig"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
}

// TrainingEnvConfig holds the locations the job substrate injects into a
// training container.
type TrainingEnvConfig struct {
	ModelDir          string `mapstructure:"model_dir"`
	TensorboardLogDir string `mapstructure:"tensorboard_log_dir"`
}

type MetricsConfig struct {
	PushGateway string `mapstructure:"push_gateway"`
}

func setDefault(v *viper.Viper) {
	v.SetDefault("project", "merlin-on-gcp")
	v.SetDefault("region", "us-central1")
	v.SetDefault("gcs_location", "gs://merlin-on-gcp/movielens25m/")
	v.SetDefault("movies_dataset_display_name", "movielens25m-movies")
	v.SetDefault("ratings_dataset_display_name", "movielens25m-ratings")
	v.SetDefault("model_display_name", "movielens25m-recommender")
	v.SetDefault("serving_image_uri", "us-docker.pkg.dev/vertex-ai/prediction/tf2-cpu.2-4:latest")
	v.SetDefault("enable_caching", true)
	v.SetDefault("tensorboard_resource_name", "")
	v.SetDefault("job_backend", JobBackendVertex)
	v.SetDefault("machine.machine_type", "n1-standard-4")
	v.SetDefault("machine.accelerator_type", "NVIDIA_TESLA_V100")
	v.SetDefault("machine.accelerator_count", 1)
	v.SetDefault("machine.replica_count", 1)
	v.SetDefault("kubernetes.namespace", "default")
}

type binding struct {
	key string
	env string
}

var bindings = []binding{
	{"project", "PROJECT"},
	{"region", "REGION"},
	{"gcs_location", "GCS_LOCATION"},
	{"artifact_store_uri", "ARTIFACT_STORE_URI"},
	{"model_registry_uri", "MODEL_REGISTRY_URI"},
	{"movies_dataset_display_name", "MOVIES_DATASET_DISPLAY_NAME"},
	{"ratings_dataset_display_name", "RATINGS_DATASET_DISPLAY_NAME"},
	{"model_display_name", "MODEL_DISPLAY_NAME"},
	{"pipeline_name", "PIPELINE_NAME"},
	{"image_uri", "IMAGE_URI"},
	{"serving_image_uri", "SERVING_IMAGE_URI"},
	{"vertex_service_account", "VERTEX_SERVICE_ACCOUNT"},
	{"pipelines_sa", "PIPELINES_SA"},
	{"enable_caching", "ENABLE_CACHING"},
	{"tensorboard_resource_name", "TENSORBOARD_RESOURCE_NAME"},
	{"vertex_endpoint", "VERTEX_ENDPOINT"},
	{"job_backend", "JOB_BACKEND"},
	{"machine.machine_type", "MACHINE_TYPE"},
	{"machine.accelerator_type", "ACCELERATOR_TYPE"},
	{"machine.accelerator_count", "ACCELERATOR_COUNT"},
	{"machine.replica_count", "REPLICA_COUNT"},
	{"kubernetes.namespace", "KUBE_NAMESPACE"},
	{"kubernetes.kubeconfig", "KUBECONFIG"},
	{"gcs.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS"},
	{"gcs.endpoint", "GCS_EMULATOR_ENDPOINT"},
	{"s3.endpoint", "S3_ENDPOINT"},
	{"s3.access_key_id", "S3_ACCESS_KEY_ID"},
	{"s3.secret_access_key", "S3_SECRET_ACCESS_KEY"},
	{"s3.use_ssl", "S3_USE_SSL"},
	{"azure.connection_string", "AZURE_STORAGE_CONNECTION_STRING"},
	{"azure.account_name", "AZURE_STORAGE_ACCOUNT"},
	{"azure.account_key", "AZURE_STORAGE_KEY"},
	{"azure.endpoint", "AZURE_STORAGE_ENDPOINT"},
	{"training.model_dir", "AIP_MODEL_DIR"},
	{"training.tensorboard_log_dir", "AIP_TENSORBOARD_LOG_DIR"},
	{"metrics.push_gateway", "METRICS_PUSH_GATEWAY"},
}

// LoadFromEnv reads the configuration from environment variables, fills
// derived defaults and validates the result.
func LoadFromEnv() (*Config, error) {
	v := viper.New()
	setDefault(v)
	for _, b := range bindings {
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Trace(err)
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &cfg, nil
}

func (c *Config) fillDerived() {
	if c.ArtifactStoreURI == "" {
		c.ArtifactStoreURI = JoinURI(c.GCSLocation, "kfp_artifacts")
	}
	if c.ModelRegistryURI == "" {
		c.ModelRegistryURI = JoinURI(c.GCSLocation, "model_registry")
	}
	if c.PipelineName == "" {
		c.PipelineName = fmt.Sprintf("%s-train-pipeline", c.ModelDisplayName)
	}
	if c.ImageURI == "" {
		c.ImageURI = fmt.Sprintf("gcr.io/%s/gorse-pipeline:latest", c.Project)
	}
	serviceAccount := fmt.Sprintf("vertex-sa-mlops@%s.iam.gserviceaccount.com", c.Project)
	if c.VertexServiceAccount == "" {
		c.VertexServiceAccount = serviceAccount
	}
	if c.PipelinesServiceAccount == "" {
		c.PipelinesServiceAccount = serviceAccount
	}
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// JoinURI appends path elements to a local path or an object store URI.
func JoinURI(base string, elem ...string) string {
	parts := make([]string, 0, len(elem)+1)
	parts = append(parts, strings.TrimRight(base, "/"))
	for _, e := range elem {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}
