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
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/lantern/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	conf := GetDefaultConfig()
	assert.Equal(t, ",", conf.Dataset.Separator)
	assert.Equal(t, 0.2, conf.Dataset.TestRatio)
	assert.Equal(t, "factorization", conf.Model.Representation)
	assert.Equal(t, "bpr", conf.Model.Loss)
	assert.Equal(t, 16, conf.Model.NFactors)
	assert.Equal(t, 20, conf.Model.NEpochs)
	assert.Equal(t, 128, conf.Model.BatchSize)
	assert.Equal(t, 5, conf.Model.NNegatives)
	assert.Equal(t, 32, conf.Model.MaxSeqLen)
	assert.Equal(t, 1, conf.Fit.Jobs)
	assert.NoError(t, conf.Validate())
}

func TestLoadConfig(t *testing.T) {
	text := `
[dataset]
path = "ratings.csv"
separator = "::"
header = true
test_ratio = 0.1

[model]
representation = "lstm"
loss = "adaptive"
n_factors = 32
lr = 0.05

[output]
model_path = "lantern.model"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ratings.csv", conf.Dataset.Path)
	assert.Equal(t, "::", conf.Dataset.Separator)
	assert.True(t, conf.Dataset.Header)
	assert.Equal(t, 0.1, conf.Dataset.TestRatio)
	assert.Equal(t, "lstm", conf.Model.Representation)
	assert.Equal(t, "adaptive", conf.Model.Loss)
	assert.Equal(t, 32, conf.Model.NFactors)
	assert.Equal(t, 0.05, conf.Model.Lr)
	// untouched keys keep their defaults
	assert.Equal(t, 20, conf.Model.NEpochs)
	assert.Equal(t, "lantern.model", conf.Output.ModelPath)
}

func TestValidate(t *testing.T) {
	conf := GetDefaultConfig()
	conf.Dataset.TestRatio = 1
	assert.Error(t, conf.Validate())

	conf = GetDefaultConfig()
	conf.Model.NFactors = 0
	assert.Error(t, conf.Validate())

	conf = GetDefaultConfig()
	conf.Fit.Jobs = -1
	assert.Error(t, conf.Validate())
}

func TestToParams(t *testing.T) {
	conf := GetDefaultConfig()
	conf.Model.Representation = "pool"
	conf.Model.RandomState = 42
	params := conf.Model.ToParams()
	assert.Equal(t, "pool", params[model.Representation])
	assert.Equal(t, int64(42), params[model.RandomState])
	assert.Equal(t, float32(0.01), params[model.Lr])
}
