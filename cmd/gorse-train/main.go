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

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/gorse-io/gorse-pipeline/cmd/version"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/common/metrics"
	"github.com/gorse-io/gorse-pipeline/config"
	"github.com/gorse-io/gorse-pipeline/model/dnn"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flags dnn.TaskFlags

var trainCommand = &cobra.Command{
	Use:     "gorse-train",
	Short:   "Train, evaluate and export the recommendation model.",
	Args:    cobra.NoArgs,
	Version: version.BuildInfo(),
	Run: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)

		cfg, err := config.LoadFromEnv()
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		// the training service passes output locations through the environment
		if !cmd.Flags().Changed(dnn.FlagModelDir) {
			flags.ModelDir = cfg.Training.ModelDir
		}
		if !cmd.Flags().Changed(dnn.FlagLogDir) {
			flags.LogDir = cfg.Training.TensorboardLogDir
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		result, err := dnn.RunTask(ctx, blob.NewRouter(cfg), flags.Options(os.Stderr))
		if err != nil {
			log.Logger().Fatal("failed to train model", zap.Error(err))
		}
		log.Logger().Info("training finished",
			zap.String("model", log.RedactURI(result.ModelPath)),
			zap.Float32("loss", result.Metrics.Loss),
			zap.Float32("mae", result.Metrics.MAE))
		if err = metrics.Push(ctx, cfg.Metrics.PushGateway, "gorse-train"); err != nil {
			log.Logger().Warn("failed to push metrics", zap.Error(err))
		}
	},
}

func init() {
	log.AddFlags(trainCommand.PersistentFlags())
	trainCommand.SetVersionTemplate("{{.Version}}")
	flags.AddFlags(trainCommand.Flags())
	for _, name := range []string{
		dnn.FlagModelName,
		dnn.FlagTrainDataPattern,
		dnn.FlagTestDataPattern,
		dnn.FlagWorkflowDir,
	} {
		_ = trainCommand.MarkFlagRequired(name)
	}
}

func main() {
	if err := trainCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
