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

package seq

import (
	"testing"

	"github.com/gorse-io/lantern/base"
	"github.com/stretchr/testify/assert"
)

func TestSamplerExcludesSentinel(t *testing.T) {
	sampler := NewNegativeSampler(10, base.NewRandomGenerator(42))
	for _, id := range sampler.Sample(10000) {
		assert.Greater(t, id, int32(0))
		assert.Less(t, id, int32(10))
	}
}

func TestSamplerSeeded(t *testing.T) {
	a := NewNegativeSampler(100, base.NewRandomGenerator(7)).Sample(100)
	b := NewNegativeSampler(100, base.NewRandomGenerator(7)).Sample(100)
	assert.Equal(t, a, b)
	c := NewNegativeSampler(100, base.NewRandomGenerator(8)).Sample(100)
	assert.NotEqual(t, a, c)
}

func TestSamplerRequiresRealItems(t *testing.T) {
	assert.Panics(t, func() {
		NewNegativeSampler(1, base.NewRandomGenerator(0))
	})
}
