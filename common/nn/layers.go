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

package nn

import "github.com/chewxy/math32"

type Layer interface {
	Parameters() []*Tensor
	Forward(x *Tensor) *Tensor
}

type Model Layer

type LinearLayer struct {
	W *Tensor
	B *Tensor
}

func NewLinear(in, out int) *LinearLayer {
	return &LinearLayer{
		W: Normal(0, 1.0/math32.Sqrt(float32(in)), in, out).RequireGrad(),
		B: Zeros(out).RequireGrad(),
	}
}

func (l *LinearLayer) Forward(x *Tensor) *Tensor {
	return Add(MatMul(x, l.W), l.B)
}

func (l *LinearLayer) Parameters() []*Tensor {
	return []*Tensor{l.W, l.B}
}

type EmbeddingLayer struct {
	W *Tensor
}

func NewEmbedding(n int, shape ...int) *EmbeddingLayer {
	wShape := append([]int{n}, shape...)
	return &EmbeddingLayer{
		W: Rand(wShape...).RequireGrad(),
	}
}

func (e *EmbeddingLayer) Parameters() []*Tensor {
	return []*Tensor{e.W}
}

func (e *EmbeddingLayer) Forward(x *Tensor) *Tensor {
	return Embedding(e.W, x)
}

type sigmoidLayer struct{}

func NewSigmoid() Layer {
	return &sigmoidLayer{}
}

func (s *sigmoidLayer) Parameters() []*Tensor {
	return nil
}

func (s *sigmoidLayer) Forward(x *Tensor) *Tensor {
	return Sigmoid(x)
}

type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) Model {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Parameters() []*Tensor {
	var params []*Tensor
	for _, l := range s.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (s *Sequential) Forward(x *Tensor) *Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x)
	}
	return x
}

// LSTM is a single-layer long short-term memory network. Gate order is
// input, forget, cell and output.
type LSTM struct {
	Wx     [4]*Tensor
	Wh     [4]*Tensor
	B      [4]*Tensor
	hidden int
}

func NewLSTM(in, hidden int) *LSTM {
	l := &LSTM{hidden: hidden}
	for i := 0; i < 4; i++ {
		l.Wx[i] = Normal(0, 1.0/math32.Sqrt(float32(in)), in, hidden).RequireGrad()
		l.Wh[i] = Normal(0, 1.0/math32.Sqrt(float32(hidden)), hidden, hidden).RequireGrad()
		if i == 1 {
			// The forget gate opens at initialization so early training does
			// not wipe the cell state.
			l.B[i] = Ones(hidden).RequireGrad()
		} else {
			l.B[i] = Zeros(hidden).RequireGrad()
		}
	}
	return l
}

func (l *LSTM) Parameters() []*Tensor {
	params := make([]*Tensor, 0, 12)
	for i := 0; i < 4; i++ {
		params = append(params, l.Wx[i], l.Wh[i], l.B[i])
	}
	return params
}

func (l *LSTM) gate(i int, x, h *Tensor) *Tensor {
	return Add(Add(MatMul(x, l.Wx[i]), MatMul(h, l.Wh[i])), l.B[i])
}

// Step advances the recurrence by one timestep. x is a [batch, in] input,
// h and c are the previous hidden and cell states.
func (l *LSTM) Step(x, h, c *Tensor) (*Tensor, *Tensor) {
	i := Sigmoid(l.gate(0, x, h))
	f := Sigmoid(l.gate(1, x, h))
	g := Tanh(l.gate(2, x, h))
	o := Sigmoid(l.gate(3, x, h))
	cNext := Add(Mul(f, c), Mul(i, g))
	hNext := Mul(o, Tanh(cNext))
	return hNext, cNext
}

// Forward unrolls the recurrence over a sequence of [batch, in] inputs and
// returns the hidden state after each timestep.
func (l *LSTM) Forward(xs ...*Tensor) []*Tensor {
	batch := xs[0].shape[0]
	h := Zeros(batch, l.hidden)
	c := Zeros(batch, l.hidden)
	hs := make([]*Tensor, len(xs))
	for t, x := range xs {
		h, c = l.Step(x, h, c)
		hs[t] = h
	}
	return hs
}
