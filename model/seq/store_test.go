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
	"bytes"
	"testing"

	"github.com/gorse-io/lantern/base"
	"github.com/gorse-io/lantern/common/nn"
	"github.com/stretchr/testify/assert"
)

func TestStoreSentinelZero(t *testing.T) {
	store := NewEmbeddingStore(10, 4, base.NewRandomGenerator(0), 0, 0.1, true)
	vec, err := store.Lookup(0)
	assert.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec)
	bias, err := store.LookupBias(0)
	assert.NoError(t, err)
	assert.Zero(t, bias)
	// a real row is randomized
	vec, err = store.Lookup(1)
	assert.NoError(t, err)
	assert.NotEqual(t, []float32{0, 0, 0, 0}, vec)
}

func TestStoreOutOfRange(t *testing.T) {
	store := NewEmbeddingStore(10, 4, base.NewRandomGenerator(0), 0, 0.1, true)
	_, err := store.Lookup(10)
	assert.Error(t, err)
	_, err = store.Lookup(-1)
	assert.Error(t, err)
	_, err = store.LookupBias(10)
	assert.Error(t, err)
}

func TestStorePinPadding(t *testing.T) {
	store := NewEmbeddingStore(10, 4, base.NewRandomGenerator(0), 0, 0.1, true)
	// simulate an optimizer step touching the sentinel row
	copy(store.weight.Slice(0), []float32{1, 2, 3, 4})
	store.bias.Slice(0)[0] = 5
	store.PinPadding()
	vec, _ := store.Lookup(0)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec)
	bias, _ := store.LookupBias(0)
	assert.Zero(t, bias)
}

func TestStoreUnpaddedKeepsRowZero(t *testing.T) {
	store := NewEmbeddingStore(10, 4, base.NewRandomGenerator(0), 0, 0.1, false)
	vec, err := store.Lookup(0)
	assert.NoError(t, err)
	assert.NotEqual(t, []float32{0, 0, 0, 0}, vec)
	before := append([]float32(nil), vec...)
	store.PinPadding()
	after, _ := store.Lookup(0)
	assert.Equal(t, before, after)
}

func TestStoreEmbedShapes(t *testing.T) {
	store := NewEmbeddingStore(10, 4, base.NewRandomGenerator(0), 0, 0.1, true)
	emb := store.Embed(nn.Indices([]int32{1, 2, 3}))
	assert.Equal(t, []int{3, 4}, emb.Shape())
	bias := store.EmbedBias(nn.Indices([]int32{1, 2, 3}))
	assert.Equal(t, []int{3}, bias.Shape())
}

func TestStoreTrainedFlags(t *testing.T) {
	store := NewEmbeddingStore(10, 4, base.NewRandomGenerator(0), 0, 0.1, true)
	assert.False(t, store.IsTrained(3))
	store.SetTrained(3)
	assert.True(t, store.IsTrained(3))
	// the sentinel is never trainable
	store.SetTrained(0)
	assert.False(t, store.IsTrained(0))
	assert.False(t, store.IsTrained(100))
}

func TestStoreMarshal(t *testing.T) {
	store := NewEmbeddingStore(10, 4, base.NewRandomGenerator(0), 0, 0.1, true)
	store.SetTrained(3)
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, store.Marshal(buf))

	decoded := new(EmbeddingStore)
	assert.NoError(t, decoded.Unmarshal(buf))
	assert.Equal(t, store.Count(), decoded.Count())
	assert.Equal(t, store.Dim(), decoded.Dim())
	assert.Equal(t, store.weight.Data(), decoded.weight.Data())
	assert.Equal(t, store.bias.Data(), decoded.bias.Data())
	assert.True(t, decoded.IsTrained(3))
	assert.False(t, decoded.IsTrained(4))
}
