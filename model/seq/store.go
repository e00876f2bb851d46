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
	"encoding/binary"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/lantern/base"
	"github.com/gorse-io/lantern/base/encoding"
	"github.com/gorse-io/lantern/common/nn"
	"github.com/juju/errors"
)

// EmbeddingStore owns the latent vectors and scalar biases of one entity
// family. For padded families row 0 is the sentinel: it starts at exactly
// zero and PinPadding restores it after every optimizer step, so padded
// positions can never leak signal into scores. The store is never resized
// after creation.
type EmbeddingStore struct {
	weight  *nn.Tensor // [n, dim]
	bias    *nn.Tensor // [n, 1]
	trained *bitset.BitSet
	n       int
	dim     int
	padded  bool
}

// NewEmbeddingStore creates a store for n entities with dim-dimensional
// vectors drawn from N(mean, stdDev²) on the given generator; biases start
// at zero. When padded is true, row 0 is the padding sentinel and is held at
// zero for the lifetime of the store.
func NewEmbeddingStore(n, dim int, rng base.RandomGenerator, mean, stdDev float32, padded bool) *EmbeddingStore {
	data := rng.NormalVector(n*dim, mean, stdDev)
	if padded {
		for j := 0; j < dim; j++ {
			data[j] = 0
		}
	}
	return &EmbeddingStore{
		weight:  nn.NewTensor(data, n, dim).RequireGrad(),
		bias:    nn.Zeros(n, 1).RequireGrad(),
		trained: bitset.New(uint(n)),
		n:       n,
		dim:     dim,
		padded:  padded,
	}
}

func (s *EmbeddingStore) Count() int {
	return s.n
}

func (s *EmbeddingStore) Dim() int {
	return s.dim
}

// Lookup returns the latent vector of id. Ids outside [0, n) are a contract
// violation and are rejected, never clamped.
func (s *EmbeddingStore) Lookup(id int32) ([]float32, error) {
	if id < 0 || int(id) >= s.n {
		return nil, errors.NotValidf("entity id %v outside [0, %v)", id, s.n)
	}
	return s.weight.Slice(int(id)), nil
}

// LookupBias returns the scalar bias of id.
func (s *EmbeddingStore) LookupBias(id int32) (float32, error) {
	if id < 0 || int(id) >= s.n {
		return 0, errors.NotValidf("entity id %v outside [0, %v)", id, s.n)
	}
	return s.bias.Get(int(id), 0), nil
}

// Embed gathers latent vectors for a tensor of ids, keeping the gather on the
// gradient tape.
func (s *EmbeddingStore) Embed(ids *nn.Tensor) *nn.Tensor {
	return nn.Embedding(s.weight, ids)
}

// EmbedBias gathers biases for a 1-D tensor of ids as a flat vector.
func (s *EmbeddingStore) EmbedBias(ids *nn.Tensor) *nn.Tensor {
	return nn.Flatten(nn.Embedding(s.bias, ids))
}

// PinPadding restores the sentinel row and bias to zero. Gradients flow into
// row 0 through padded inputs, so this must run after every optimizer step.
// A no-op for stores without a padding sentinel.
func (s *EmbeddingStore) PinPadding() {
	if !s.padded {
		return
	}
	row := s.weight.Slice(0)
	for j := range row {
		row[j] = 0
	}
	s.bias.Slice(0)[0] = 0
}

// SetTrained marks an entity as having received at least one gradient update.
func (s *EmbeddingStore) SetTrained(id int32) {
	if id < 0 || int(id) >= s.n || (s.padded && id == 0) {
		return
	}
	s.trained.Set(uint(id))
}

// IsTrained reports whether an entity's vector ever received an update.
func (s *EmbeddingStore) IsTrained(id int32) bool {
	if id < 0 || int(id) >= s.n {
		return false
	}
	return s.trained.Test(uint(id))
}

// Parameters exposes the trainable tensors to an optimizer.
func (s *EmbeddingStore) Parameters() []*nn.Tensor {
	return []*nn.Tensor{s.weight, s.bias}
}

// Marshal writes the store to a byte stream.
func (s *EmbeddingStore) Marshal(w io.Writer) error {
	for _, v := range []int64{int64(s.n), int64(s.dim)} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Trace(err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, s.padded); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.weight.Data()); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.bias.Data()); err != nil {
		return errors.Trace(err)
	}
	trained, err := s.trained.MarshalBinary()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(encoding.WriteBytes(w, trained))
}

// Unmarshal reads a store from a byte stream.
func (s *EmbeddingStore) Unmarshal(r io.Reader) error {
	var n, dim int64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.padded); err != nil {
		return errors.Trace(err)
	}
	s.n, s.dim = int(n), int(dim)
	weight := make([]float32, s.n*s.dim)
	if err := binary.Read(r, binary.LittleEndian, weight); err != nil {
		return errors.Trace(err)
	}
	bias := make([]float32, s.n)
	if err := binary.Read(r, binary.LittleEndian, bias); err != nil {
		return errors.Trace(err)
	}
	s.weight = nn.NewTensor(weight, s.n, s.dim).RequireGrad()
	s.bias = nn.NewTensor(bias, s.n, 1).RequireGrad()
	trained, err := encoding.ReadBytes(r)
	if err != nil {
		return errors.Trace(err)
	}
	s.trained = new(bitset.BitSet)
	return errors.Trace(s.trained.UnmarshalBinary(trained))
}
