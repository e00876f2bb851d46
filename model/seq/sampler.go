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
	"github.com/gorse-io/lantern/base"
)

// NegativeSampler draws items uniformly from [1, numItems), never the padding
// sentinel. Accidental positives are accepted as sampling noise. Draws are
// fresh on every call; nothing is cached across minibatches.
type NegativeSampler struct {
	rng      base.RandomGenerator
	numItems int32
}

// NewNegativeSampler creates a sampler over [1, numItems) on an injected
// seedable generator.
func NewNegativeSampler(numItems int, rng base.RandomGenerator) *NegativeSampler {
	if numItems < 2 {
		panic("negative sampler requires at least one real item")
	}
	return &NegativeSampler{rng: rng, numItems: int32(numItems)}
}

// Sample draws n item ids.
func (s *NegativeSampler) Sample(n int) []int32 {
	samples := make([]int32, n)
	for i := range samples {
		samples[i] = s.rng.Int31n(s.numItems-1) + 1
	}
	return samples
}
