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
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gorse-io/gorse-pipeline/cmd/version"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/common/metrics"
	"github.com/gorse-io/gorse-pipeline/config"
	"github.com/gorse-io/gorse-pipeline/pipeline"
	"github.com/gorse-io/gorse-pipeline/storage/blob"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "gorse-pipeline",
	Short: "Compile and run the recommendation model training pipeline.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var compileCommand = &cobra.Command{
	Use:   "compile",
	Short: "Write the pipeline definition as a portable document.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		output, _ := cmd.Flags().GetString("output")
		def, err := pipeline.NewTrainingPipeline(cfg)
		if err != nil {
			log.Logger().Fatal("failed to define pipeline", zap.Error(err))
		}
		doc, err := pipeline.Compile(def)
		if err != nil {
			log.Logger().Fatal("failed to compile pipeline", zap.Error(err))
		}
		if err = pipeline.WriteDocument(cmd.Context(), blob.NewRouter(cfg), output, doc); err != nil {
			log.Logger().Fatal("failed to write pipeline", zap.Error(err))
		}
		log.Logger().Info("pipeline compiled",
			zap.String("pipeline", doc.PipelineName),
			zap.String("output", log.RedactURI(output)))
	},
}

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run a compiled pipeline document.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		if cmd.Flags().Changed("backend") {
			cfg.JobBackend, _ = cmd.Flags().GetString("backend")
			if err = cfg.Validate(); err != nil {
				log.Logger().Fatal("invalid job backend", zap.Error(err))
			}
		}
		enableCaching := cfg.EnableCaching
		if cmd.Flags().Changed("enable-caching") {
			enableCaching, _ = cmd.Flags().GetBool("enable-caching")
		}
		definition, _ := cmd.Flags().GetString("definition")
		parameters, _ := cmd.Flags().GetStringToString("parameter")
		datasets, _ := cmd.Flags().GetStringToString("dataset")
		runID, _ := cmd.Flags().GetString("run-id")
		workDir, _ := cmd.Flags().GetString("work-dir")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		fs := blob.NewRouter(cfg)
		doc, err := pipeline.ReadDocument(ctx, fs, definition)
		if err != nil {
			log.Logger().Fatal("failed to read pipeline", zap.Error(err))
		}
		components, err := pipeline.NewComponents(ctx, cfg, fs, datasets, workDir)
		if err != nil {
			log.Logger().Fatal("failed to connect services", zap.Error(err))
		}
		result, err := pipeline.NewRunner(fs, components.Bind()).Run(ctx, doc, pipeline.RunOptions{
			RunID:           runID,
			ParameterValues: lo.MapValues(parameters, func(v string, _ string) any { return v }),
			PipelineRoot:    cfg.ArtifactStoreURI,
			EnableCaching:   enableCaching,
			ServiceAccount:  cfg.PipelinesServiceAccount,
		})
		if result != nil {
			if err := printResult(result); err != nil {
				log.Logger().Error("failed to print result", zap.Error(err))
			}
		}
		if err := metrics.Push(context.Background(), cfg.Metrics.PushGateway, doc.PipelineName); err != nil {
			log.Logger().Warn("failed to push metrics", zap.Error(err))
		}
		if err != nil {
			log.Logger().Fatal("pipeline run failed", zap.Error(err))
		}
	},
}

func printResult(result *pipeline.RunResult) error {
	fmt.Printf("run %s of %s: %s\n", result.RunID, result.PipelineName, result.Status)
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Task", "Status", "Cached", "Duration", "Error")
	rows := lo.Map(result.Tasks, func(task pipeline.TaskResult, _ int) []string {
		var duration string
		if !task.FinishTime.IsZero() {
			duration = task.FinishTime.Sub(task.StartTime).Round(time.Millisecond).String()
		}
		return []string{task.Name, string(task.Status), fmt.Sprint(task.Cached), duration, task.Error}
	})
	if err := table.Bulk(rows); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(table.Render())
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.BuildInfo())
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	compileCommand.Flags().StringP("output", "o", "pipeline.json", "path of the compiled pipeline document")
	runCommand.Flags().StringP("definition", "d", "pipeline.json", "path of the compiled pipeline document")
	runCommand.Flags().StringToString("parameter", nil, "pipeline parameter values, e.g. num_epochs=2")
	runCommand.Flags().StringToString("dataset", nil, "dataset locations by display name, replacing the dataset registry")
	runCommand.Flags().String("run-id", "", "identifier of the run, random by default")
	runCommand.Flags().String("backend", config.JobBackendVertex, "job backend: vertex, kubernetes or local")
	runCommand.Flags().Bool("enable-caching", true, "reuse outputs of identical tasks")
	runCommand.Flags().String("work-dir", os.TempDir(), "scratch directory of local jobs")
	rootCommand.AddCommand(compileCommand, runCommand, versionCommand)
}

func main() {
	if err := rootCommand.ExecuteContext(context.Background()); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
