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
	"github.com/gorse-io/gorse-pipeline/config"
	"github.com/gorse-io/gorse-pipeline/etl"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flags etl.Flags

var etlCommand = &cobra.Command{
	Use:     "gorse-etl",
	Short:   "Transform raw movies and ratings into encoded train and test partitions.",
	Args:    cobra.NoArgs,
	Version: version.BuildInfo(),
	Run: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)

		cfg, err := config.LoadFromEnv()
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		opts, err := flags.Options()
		if err != nil {
			log.Logger().Fatal("invalid arguments", zap.Error(err))
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		result, err := etl.NewRunner(blob.NewRouter(cfg), nil).Run(ctx, opts)
		if err != nil {
			log.Logger().Fatal("failed to run etl", zap.Error(err))
		}
		log.Logger().Info("etl finished",
			zap.String("train", log.RedactURI(result.TrainDir)),
			zap.String("test", log.RedactURI(result.TestDir)),
			zap.String("workflow", log.RedactURI(result.WorkflowDir)),
			zap.Int("train_rows", result.TrainRows),
			zap.Int("test_rows", result.TestRows))
	},
}

func init() {
	log.AddFlags(etlCommand.PersistentFlags())
	etlCommand.SetVersionTemplate("{{.Version}}")
	flags.AddFlags(etlCommand.Flags())
	for _, name := range []string{etl.FlagMoviesLocation, etl.FlagRatingsLocation, etl.FlagOutputDir} {
		_ = etlCommand.MarkFlagRequired(name)
	}
}

func main() {
	if err := etlCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
