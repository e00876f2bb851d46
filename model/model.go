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

package model

import (
	"github.com/gorse-io/lantern/base"
)

// Model is the interface implemented by every recommendation model.
type Model interface {
	// Set parameters.
	SetParams(params Params)
	// Get parameters.
	GetParams() Params
	// Get parameters grid.
	GetParamsGrid() ParamsGrid
	// Clear model weights.
	Clear()
	// Invalid reports whether the model holds no fitted weights.
	Invalid() bool
}

// BaseModel must be embedded by every recommendation model. Hyper-parameters,
// the random generator and the random seed are managed by BaseModel.
type BaseModel struct {
	Params    Params               // Hyper-parameters
	rng       base.RandomGenerator // Random generator
	randState int64                // Random seed
}

// SetParams sets hyper-parameters for the BaseModel.
func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.randState = model.Params.GetInt64(RandomState, 0)
	model.rng = base.NewRandomGenerator(model.randState)
}

// GetParams returns all hyper-parameters.
func (model *BaseModel) GetParams() Params {
	return model.Params
}

func (model *BaseModel) GetRandomGenerator() base.RandomGenerator {
	return model.rng
}

// ResetRandomGenerator rewinds the random generator to the configured seed so
// repeated fits of the same model are reproducible.
func (model *BaseModel) ResetRandomGenerator() {
	model.rng = base.NewRandomGenerator(model.randState)
}
