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

package config

import (
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/viper"

	"github.com/gorse-io/lantern/model"
)

// Config is the configuration for the lantern trainer.
type Config struct {
	Dataset DatasetConfig `mapstructure:"dataset"`
	Model   ModelConfig   `mapstructure:"model"`
	Fit     FitConfig     `mapstructure:"fit"`
	Output  OutputConfig  `mapstructure:"output"`
}

// DatasetConfig describes how to read the interaction log.
type DatasetConfig struct {
	// Path is the CSV file with user,item[,rating[,timestamp]] rows.
	Path string `mapstructure:"path"`
	// Separator is the field separator of the CSV file.
	Separator string `mapstructure:"separator"`
	// Header skips the first line when true.
	Header bool `mapstructure:"header"`
	// Threshold drops rows whose rating is below this value.
	Threshold float64 `mapstructure:"threshold"`
	// TestRatio is the fraction of each user's most recent feedback held
	// out for validation.
	TestRatio float64 `mapstructure:"test_ratio"`
}

// ModelConfig holds the hyperparameters of the sequence model.
type ModelConfig struct {
	Representation string  `mapstructure:"representation"`
	Loss           string  `mapstructure:"loss"`
	NFactors       int     `mapstructure:"n_factors"`
	NEpochs        int     `mapstructure:"n_epochs"`
	BatchSize      int     `mapstructure:"batch_size"`
	NNegatives     int     `mapstructure:"n_negatives"`
	MaxSeqLen      int     `mapstructure:"max_seq_len"`
	Lr             float64 `mapstructure:"lr"`
	Reg            float64 `mapstructure:"reg"`
	InitStdDev     float64 `mapstructure:"init_std_dev"`
	RandomState    int     `mapstructure:"random_state"`
}

// FitConfig controls the training loop outside the model itself.
type FitConfig struct {
	// Jobs is the number of evaluation workers.
	Jobs int `mapstructure:"jobs"`
	// Verbose evaluates on the validation set every this many epochs.
	Verbose int `mapstructure:"verbose"`
	// Candidates is the number of sampled negatives per evaluated user.
	Candidates int `mapstructure:"candidates"`
}

// OutputConfig describes where to persist the fitted model.
type OutputConfig struct {
	ModelPath string `mapstructure:"model_path"`
}

func setDefault() {
	viper.Reset()
	viper.SetDefault("dataset.separator", ",")
	viper.SetDefault("dataset.header", false)
	viper.SetDefault("dataset.threshold", 0)
	viper.SetDefault("dataset.test_ratio", 0.2)
	viper.SetDefault("model.representation", "factorization")
	viper.SetDefault("model.loss", "bpr")
	viper.SetDefault("model.n_factors", 16)
	viper.SetDefault("model.n_epochs", 20)
	viper.SetDefault("model.batch_size", 128)
	viper.SetDefault("model.n_negatives", 5)
	viper.SetDefault("model.max_seq_len", 32)
	viper.SetDefault("model.lr", 0.01)
	viper.SetDefault("model.reg", 0)
	viper.SetDefault("model.init_std_dev", 0.01)
	viper.SetDefault("model.random_state", 0)
	viper.SetDefault("fit.jobs", 1)
	viper.SetDefault("fit.verbose", 10)
	viper.SetDefault("fit.candidates", 100)
}

// GetDefaultConfig returns a configuration with all fields at their
// default values.
func GetDefaultConfig() *Config {
	setDefault()
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		panic(err)
	}
	return &conf
}

// LoadConfig loads the configuration from a file. Keys can be overridden
// by environment variables with the LANTERN_ prefix.
func LoadConfig(path string) (*Config, error) {
	setDefault()
	viper.SetConfigFile(path)
	viper.SetEnvPrefix("lantern")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks the configuration for invalid values.
func (config *Config) Validate() error {
	if config.Dataset.TestRatio < 0 || config.Dataset.TestRatio >= 1 {
		return errors.NotValidf("test_ratio %v", config.Dataset.TestRatio)
	}
	if config.Model.NFactors <= 0 {
		return errors.NotValidf("n_factors %v", config.Model.NFactors)
	}
	if config.Model.NEpochs <= 0 {
		return errors.NotValidf("n_epochs %v", config.Model.NEpochs)
	}
	if config.Model.BatchSize <= 0 {
		return errors.NotValidf("batch_size %v", config.Model.BatchSize)
	}
	if config.Model.NNegatives <= 0 {
		return errors.NotValidf("n_negatives %v", config.Model.NNegatives)
	}
	if config.Model.MaxSeqLen <= 0 {
		return errors.NotValidf("max_seq_len %v", config.Model.MaxSeqLen)
	}
	if config.Fit.Jobs <= 0 {
		return errors.NotValidf("jobs %v", config.Fit.Jobs)
	}
	if config.Fit.Verbose <= 0 {
		return errors.NotValidf("verbose %v", config.Fit.Verbose)
	}
	if config.Fit.Candidates <= 0 {
		return errors.NotValidf("candidates %v", config.Fit.Candidates)
	}
	return nil
}

// ToParams converts the model section to hyperparameters.
func (config *ModelConfig) ToParams() model.Params {
	return model.Params{
		model.Representation: config.Representation,
		model.Loss:           config.Loss,
		model.NFactors:       config.NFactors,
		model.NEpochs:        config.NEpochs,
		model.BatchSize:      config.BatchSize,
		model.NNegatives:     config.NNegatives,
		model.MaxSeqLen:      config.MaxSeqLen,
		model.Lr:             float32(config.Lr),
		model.Reg:            float32(config.Reg),
		model.InitStdDev:     float32(config.InitStdDev),
		model.RandomState:    int64(config.RandomState),
	}
}
