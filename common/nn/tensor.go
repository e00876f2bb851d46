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
	"fmt"
	"math/rand"
	"strings"

	"github.com/chewxy/math32"
)

type Tensor struct {
	data        []float32
	shape       []int
	grad        *Tensor
	op          op
	requireGrad bool
}

func NewTensor(data []float32, shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if len(data) != n {
		panic(fmt.Sprintf("shape %v does not match data length %v", shape, len(data)))
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

func NewScalar(data float32) *Tensor {
	return &Tensor{
		data:  []float32{data},
		shape: []int{},
	}
}

// Indices creates a 1-D tensor holding entity ids, used as input to Embedding.
func Indices(ids []int32) *Tensor {
	data := make([]float32, len(ids))
	for i, id := range ids {
		data[i] = float32(id)
	}
	return NewTensor(data, len(ids))
}

// Rand creates a tensor filled with uniform random floats in [0,1).
func Rand(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = rand.Float32()
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Normal creates a tensor filled with normal random floats.
func Normal(mean, std float32, shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(rand.NormFloat64())*std + mean
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Ones creates a tensor filled with ones.
func Ones(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	data := make([]float32, n)
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// RequireGrad marks a tensor as a trainable leaf.
func (t *Tensor) RequireGrad() *Tensor {
	t.requireGrad = true
	return t
}

// NoGrad detaches a tensor from the computation graph.
func (t *Tensor) NoGrad() *Tensor {
	if t.op != nil {
		t.op = nil
	}
	return t
}

func (t *Tensor) IsScalar() bool {
	return len(t.shape) == 0
}

func (t *Tensor) Shape() []int {
	return t.shape
}

func (t *Tensor) Data() []float32 {
	return t.data
}

// Slice returns the i-th row of a matrix as a shared-storage vector.
func (t *Tensor) Slice(i int) []float32 {
	if len(t.shape) != 2 {
		panic("Slice requires a matrix")
	}
	return t.data[i*t.shape[1] : (i+1)*t.shape[1]]
}

func (t *Tensor) Get(indices ...int) float32 {
	if len(indices) != len(t.shape) {
		panic("the number of indices does not match the shape of the tensor")
	}
	index := 0
	for i := range indices {
		index = index*t.shape[i] + indices[i]
	}
	return t.data[index]
}

func (t *Tensor) String() string {
	// Print scalar value
	if len(t.shape) == 0 {
		return fmt.Sprint(t.data[0])
	}

	builder := strings.Builder{}
	builder.WriteString("[")
	if len(t.data) <= 10 {
		for i := 0; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	} else {
		for i := 0; i < 5; i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			builder.WriteString(", ")
		}
		builder.WriteString("..., ")
		for i := len(t.data) - 5; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	}
	builder.WriteString("]")
	return builder.String()
}

// Backward runs back-propagation from t. Gradients are accumulated in reverse
// topological order so tensors used by several operators, e.g. a shared
// embedding table or recurrent weights, receive the sum of all their partials.
func (t *Tensor) Backward() {
	t.grad = Ones(t.shape...)
	// Collect operators in topological order: producers before consumers.
	var ordered []op
	visited := make(map[op]struct{})
	var visit func(o op)
	visit = func(o op) {
		if o == nil {
			return
		}
		if _, ok := visited[o]; ok {
			return
		}
		visited[o] = struct{}{}
		inputs, _ := o.inputsAndOutput()
		for _, input := range inputs {
			visit(input.op)
		}
		ordered = append(ordered, o)
	}
	visit(t.op)
	// Propagate in reverse order so an operator runs only after every
	// consumer of its output has contributed to the output gradient.
	for i := len(ordered) - 1; i >= 0; i-- {
		o := ordered[i]
		inputs, output := o.inputsAndOutput()
		grads := o.backward(output.grad)
		for j := range grads {
			if !shapeEqual(grads[j].shape, inputs[j].shape) {
				panic(fmt.Sprintf("%s: gradient shape %v does not match input shape %v",
					o.String(), grads[j].shape, inputs[j].shape))
			}
			if inputs[j].grad == nil {
				inputs[j].grad = grads[j]
			} else {
				inputs[j].grad.add(grads[j])
			}
		}
	}
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) clone() *Tensor {
	newData := make([]float32, len(t.data))
	copy(newData, t.data)
	newShape := make([]int, len(t.shape))
	copy(newShape, t.shape)
	return &Tensor{
		data:  newData,
		shape: newShape,
	}
}

func (t *Tensor) add(other *Tensor) *Tensor {
	wSize := 1
	for i := range other.shape {
		wSize *= other.shape[i]
	}
	for i := range t.data {
		t.data[i] += other.data[i%wSize]
	}
	return t
}

func (t *Tensor) sub(other *Tensor) *Tensor {
	wSize := 1
	for i := range other.shape {
		wSize *= other.shape[i]
	}
	for i := range t.data {
		t.data[i] -= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) mul(other *Tensor) *Tensor {
	wSize := 1
	for i := range other.shape {
		wSize *= other.shape[i]
	}
	for i := range t.data {
		t.data[i] *= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) div(other *Tensor) *Tensor {
	wSize := 1
	for i := range other.shape {
		wSize *= other.shape[i]
	}
	for i := range t.data {
		t.data[i] /= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) square() *Tensor {
	for i := range t.data {
		t.data[i] = t.data[i] * t.data[i]
	}
	return t
}

func (t *Tensor) exp() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Exp(t.data[i])
	}
	return t
}

func (t *Tensor) log() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Log(t.data[i])
	}
	return t
}

func (t *Tensor) tanh() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Tanh(t.data[i])
	}
	return t
}

func (t *Tensor) neg() *Tensor {
	for i := range t.data {
		t.data[i] = -t.data[i]
	}
	return t
}

func (t *Tensor) maximum(other *Tensor) *Tensor {
	wSize := 1
	for i := range other.shape {
		wSize *= other.shape[i]
	}
	for i := range t.data {
		if other.data[i%wSize] > t.data[i] {
			t.data[i] = other.data[i%wSize]
		}
	}
	return t
}

// matMul multiplies two matrices, optionally transposing either operand.
func (t *Tensor) matMul(other *Tensor, transpose1, transpose2 bool) *Tensor {
	if len(t.shape) != 2 || len(other.shape) != 2 {
		panic("matMul requires matrices")
	}
	var m, n, k int
	if !transpose1 {
		m, k = t.shape[0], t.shape[1]
	} else {
		k, m = t.shape[0], t.shape[1]
	}
	var k2 int
	if !transpose2 {
		k2, n = other.shape[0], other.shape[1]
	} else {
		n, k2 = other.shape[0], other.shape[1]
	}
	if k != k2 {
		panic(fmt.Sprintf("matMul: shapes %v and %v do not match", t.shape, other.shape))
	}
	result := Zeros(m, n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for l := 0; l < k; l++ {
				var a, b float32
				if !transpose1 {
					a = t.data[i*k+l]
				} else {
					a = t.data[l*m+i]
				}
				if !transpose2 {
					b = other.data[l*n+j]
				} else {
					b = other.data[j*k+l]
				}
				sum += a * b
			}
			result.data[i*n+j] = sum
		}
	}
	return result
}
