// Copyright 2025 gorse Project Authors
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

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gorse-io/lantern/base/log"
	"github.com/gorse-io/lantern/config"
	"github.com/gorse-io/lantern/dataset"
	"github.com/gorse-io/lantern/model/seq"
)

const versionName = "0.1.0"

var rootCommand = &cobra.Command{
	Use:   "lantern",
	Short: "Sequence-aware recommendation model trainer.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Check the version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versionName)
	},
}

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Fit a sequence model on a CSV interaction log.",
	Run: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
		conf := loadConfig(cmd)

		trainSet, testSet := loadDataset(conf)
		m, err := seq.NewModel(conf.Model.ToParams())
		if err != nil {
			log.Logger().Fatal("failed to create model", zap.Error(err))
		}

		bar := progressbar.Default(int64(conf.Model.NEpochs), "fit")
		fitConfig := seq.NewFitConfig().
			SetJobs(conf.Fit.Jobs).
			SetVerbose(conf.Fit.Verbose).
			SetEpochDone(func(epoch int, loss float32) {
				_ = bar.Add(1)
			})
		fitConfig.Candidates = conf.Fit.Candidates

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		score, err := m.Fit(ctx, trainSet, testSet, fitConfig)
		if err != nil {
			log.Logger().Fatal("failed to fit model", zap.Error(err))
		}
		_ = bar.Finish()
		fmt.Printf("MRR = %v, AUC = %v\n", score.MRR, score.AUC)

		if conf.Output.ModelPath != "" {
			saveModel(m, conf.Output.ModelPath)
		}
	},
}

var evaluateCommand = &cobra.Command{
	Use:   "evaluate MODEL_FILE",
	Short: "Evaluate a fitted model on a CSV interaction log.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
		conf := loadConfig(cmd)

		f, err := os.Open(args[0])
		if err != nil {
			log.Logger().Fatal("failed to open model file", zap.Error(err))
		}
		defer f.Close()
		m, err := seq.UnmarshalModel(f)
		if err != nil {
			log.Logger().Fatal("failed to load model", zap.Error(err))
		}

		trainSet, testSet := loadDataset(conf)
		mrr := seq.Evaluate(m, testSet, trainSet,
			conf.Fit.Candidates, conf.Fit.Candidates, conf.Fit.Jobs, seq.MRR)[0]
		auc := seq.EvaluateAUC(m, testSet, trainSet, conf.Fit.Jobs)
		fmt.Printf("MRR = %v, AUC = %v\n", mrr, auc)
	},
}

func loadConfig(cmd *cobra.Command) *config.Config {
	var conf *config.Config
	var err error
	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		log.Logger().Info("load config", zap.String("config", configPath))
		conf, err = config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
	} else {
		conf = config.GetDefaultConfig()
	}
	// flags override the config file
	if cmd.Flags().Changed("dataset") {
		conf.Dataset.Path, _ = cmd.Flags().GetString("dataset")
	}
	if cmd.Flags().Changed("representation") {
		conf.Model.Representation, _ = cmd.Flags().GetString("representation")
	}
	if cmd.Flags().Changed("loss") {
		conf.Model.Loss, _ = cmd.Flags().GetString("loss")
	}
	if cmd.Flags().Changed("epochs") {
		conf.Model.NEpochs, _ = cmd.Flags().GetInt("epochs")
	}
	if cmd.Flags().Changed("jobs") {
		conf.Fit.Jobs, _ = cmd.Flags().GetInt("jobs")
	}
	if err = conf.Validate(); err != nil {
		log.Logger().Fatal("invalid config", zap.Error(err))
	}
	if conf.Dataset.Path == "" {
		log.Logger().Fatal("no dataset specified, pass --dataset or set dataset.path")
	}
	return conf
}

func loadDataset(conf *config.Config) (trainSet, testSet *dataset.Dataset) {
	data, err := dataset.LoadCSV(conf.Dataset.Path, conf.Dataset.Separator,
		float32(conf.Dataset.Threshold), conf.Dataset.Header)
	if err != nil {
		log.Logger().Fatal("failed to load dataset", zap.Error(err))
	}
	log.Logger().Info("load dataset",
		zap.String("path", conf.Dataset.Path),
		zap.Int("num_users", data.CountUsers()),
		zap.Int("num_items", data.CountItems()),
		zap.Int("num_feedback", data.CountFeedback()))
	return data.Split(float32(conf.Dataset.TestRatio))
}

func saveModel(m *seq.Model, path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Logger().Fatal("failed to create model file", zap.Error(err))
	}
	defer f.Close()
	if err = seq.MarshalModel(f, m); err != nil {
		log.Logger().Fatal("failed to save model", zap.Error(err))
	}
	log.Logger().Info("save model", zap.String("path", path))
}

func init() {
	for _, cmd := range []*cobra.Command{trainCommand, evaluateCommand} {
		cmd.Flags().String("config", "", "configuration file path")
		cmd.Flags().String("dataset", "", "CSV interaction log path")
		cmd.Flags().Bool("debug", false, "use debug log mode")
		cmd.Flags().Int("jobs", 1, "number of evaluation workers")
		log.AddFlags(cmd.Flags())
	}
	trainCommand.Flags().String("representation", "", "user representation (factorization, popularity, pool, lstm)")
	trainCommand.Flags().String("loss", "", "ranking loss (pointwise, bpr, adaptive)")
	trainCommand.Flags().Int("epochs", 0, "number of training epochs")
	rootCommand.AddCommand(trainCommand)
	rootCommand.AddCommand(evaluateCommand)
	rootCommand.AddCommand(versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute command", zap.Error(err))
	}
}
