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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// numericalGrad approximates d f/d x[i] with central differences.
func numericalGrad(x *Tensor, i int, f func() *Tensor) float32 {
	const eps = 1e-2
	orig := x.data[i]
	x.data[i] = orig + eps
	hi := f().data[0]
	x.data[i] = orig - eps
	lo := f().data[0]
	x.data[i] = orig
	return (hi - lo) / (2 * eps)
}

func checkGrad(t *testing.T, x *Tensor, f func() *Tensor) {
	x.ZeroGrad()
	y := f()
	y.Backward()
	grad := x.Grad()
	assert.NotNil(t, grad)
	for i := range x.data {
		expected := numericalGrad(x, i, f)
		assert.InDelta(t, expected, grad.data[i], 1e-2)
	}
	x.ZeroGrad()
}

func TestSigmoidGrad(t *testing.T) {
	x := NewTensor([]float32{-2, -0.5, 0, 0.5, 2}, 5)
	checkGrad(t, x, func() *Tensor { return Sum(Sigmoid(x)) })
}

func TestSigmoidSaturation(t *testing.T) {
	x := NewTensor([]float32{-100, 100}, 2)
	y := Sigmoid(x)
	assert.InDelta(t, 0, y.data[0], 1e-6)
	assert.InDelta(t, 1, y.data[1], 1e-6)
}

func TestTanhGrad(t *testing.T) {
	x := NewTensor([]float32{-1.5, -0.2, 0.3, 1.2}, 4)
	checkGrad(t, x, func() *Tensor { return Sum(Tanh(x)) })
}

func TestReLuGrad(t *testing.T) {
	x := NewTensor([]float32{-2, -0.5, 0.5, 2}, 4)
	y := ReLu(x)
	assert.Equal(t, []float32{0, 0, 0.5, 2}, y.Data())
	checkGrad(t, x, func() *Tensor { return Sum(ReLu(x)) })
}

func TestBatchDotGrad(t *testing.T) {
	a := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := NewTensor([]float32{0.5, -1, 2, 1, 0, -0.5}, 2, 3)
	y := BatchDot(a, b)
	assert.Equal(t, []int{2}, y.Shape())
	assert.InDelta(t, 1*0.5+2*-1+3*2, y.data[0], 1e-5)
	assert.InDelta(t, 4*1+5*0+6*-0.5, y.data[1], 1e-5)
	checkGrad(t, a, func() *Tensor { return Sum(BatchDot(a, b)) })
	checkGrad(t, b, func() *Tensor { return Sum(BatchDot(a, b)) })
}

func TestMaximumGrad(t *testing.T) {
	a := NewTensor([]float32{1, -2, 3}, 3)
	b := NewTensor([]float32{0, 5, 3.5}, 3)
	y := Maximum(a, b)
	assert.Equal(t, []float32{1, 5, 3.5}, y.Data())
	y = Sum(Maximum(a, b))
	y.Backward()
	assert.Equal(t, []float32{1, 0, 0}, a.Grad().Data())
	assert.Equal(t, []float32{0, 1, 1}, b.Grad().Data())
}

func TestEmbeddingForward(t *testing.T) {
	w := NewTensor([]float32{
		0, 0,
		1, 2,
		3, 4,
	}, 3, 2)
	y := Embedding(w, Indices([]int32{2, 0, 1}))
	assert.Equal(t, []int{3, 2}, y.Shape())
	assert.Equal(t, []float32{3, 4, 0, 0, 1, 2}, y.Data())
}

func TestEmbeddingGradAccumulates(t *testing.T) {
	// Row 1 is gathered twice so its gradient must be the sum of both uses.
	w := NewTensor([]float32{0, 0, 1, 2, 3, 4}, 3, 2).RequireGrad()
	y := Sum(Embedding(w, Indices([]int32{1, 1, 2})))
	y.Backward()
	grad := w.Grad()
	assert.Equal(t, []float32{0, 0, 2, 2, 1, 1}, grad.Data())
}

func TestSharedTensorGradAccumulates(t *testing.T) {
	// x participates in two branches of the graph.
	x := NewTensor([]float32{2}, 1).RequireGrad()
	y := Add(Mul(x, x), Mul(x, NewScalar(3)))
	Sum(y).Backward()
	// d(x^2 + 3x)/dx = 2x + 3 = 7
	assert.InDelta(t, 7, x.Grad().Data()[0], 1e-5)
}

func TestLinearRegression(t *testing.T) {
	x := Rand(100, 1)
	y := Add(Mul(x, NewScalar(2)), NewScalar(5))

	w := Zeros(1, 1).RequireGrad()
	b := Zeros(1).RequireGrad()
	predict := func(x *Tensor) *Tensor { return Add(MatMul(x, w), b) }

	optimizer := NewSGD([]*Tensor{w, b}, 0.1)
	for i := 0; i < 200; i++ {
		yPred := predict(x)
		loss := MeanSquareError(y, yPred)

		optimizer.ZeroGrad()
		loss.Backward()
		optimizer.Step()
	}

	assert.Equal(t, []int{1, 1}, w.Shape())
	assert.InDelta(t, float64(2), w.data[0], 0.5)
	assert.Equal(t, []int{1}, b.Shape())
	assert.InDelta(t, float64(5), b.data[0], 0.5)
}

func TestNeuralNetwork(t *testing.T) {
	x := Rand(100, 1)
	y := Add(Mul(Square(x), NewScalar(3)), NewScalar(1))

	model := NewSequential(
		NewLinear(1, 10),
		NewSigmoid(),
		NewLinear(10, 1),
	)
	optimizer := NewAdam(model.Parameters(), 0.01)

	var l float32
	for i := 0; i < 2000; i++ {
		yPred := model.Forward(x)
		loss := MeanSquareError(y, yPred)

		optimizer.ZeroGrad()
		loss.Backward()
		optimizer.Step()
		l = loss.data[0]
	}
	assert.InDelta(t, float64(0), l, 0.1)
}

func TestLSTMShapes(t *testing.T) {
	lstm := NewLSTM(4, 8)
	assert.Len(t, lstm.Parameters(), 12)
	xs := []*Tensor{Rand(3, 4), Rand(3, 4), Rand(3, 4)}
	hs := lstm.Forward(xs...)
	assert.Len(t, hs, 3)
	for _, h := range hs {
		assert.Equal(t, []int{3, 8}, h.Shape())
	}
}

func TestLSTMCausality(t *testing.T) {
	lstm := NewLSTM(2, 4)
	x0 := NewTensor([]float32{1, 2}, 1, 2)
	x1 := NewTensor([]float32{3, 4}, 1, 2)
	x1Alt := NewTensor([]float32{-5, 6}, 1, 2)

	hs := lstm.Forward(x0, x1)
	hsAlt := lstm.Forward(x0, x1Alt)

	// The hidden state at step 0 only depends on inputs up to step 0.
	assert.Equal(t, hs[0].Data(), hsAlt[0].Data())
	assert.NotEqual(t, hs[1].Data(), hsAlt[1].Data())
}

func TestLSTMBackward(t *testing.T) {
	lstm := NewLSTM(2, 3)
	xs := []*Tensor{Rand(2, 2), Rand(2, 2)}
	hs := lstm.Forward(xs...)
	loss := Sum(Square(hs[len(hs)-1]))
	loss.Backward()
	for _, p := range lstm.Parameters() {
		assert.NotNil(t, p.Grad())
		assert.Equal(t, p.Shape(), p.Grad().Shape())
	}
}

func TestOptimizerSkipsUnusedParams(t *testing.T) {
	used := NewTensor([]float32{1}, 1).RequireGrad()
	unused := NewTensor([]float32{1}, 1).RequireGrad()
	optimizer := NewSGD([]*Tensor{used, unused}, 0.1)

	loss := Sum(Square(used))
	optimizer.ZeroGrad()
	loss.Backward()
	assert.NotPanics(t, func() { optimizer.Step() })
	assert.Equal(t, float32(1), unused.Data()[0])
	assert.Less(t, used.Data()[0], float32(1))
}
