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

type op interface {
	String() string
	forward(inputs ...*Tensor) *Tensor
	backward(dy *Tensor) []*Tensor
	inputsAndOutput() ([]*Tensor, *Tensor)
	setInputs(inputs ...*Tensor)
	setOutput(y *Tensor)
}

type base struct {
	inputs []*Tensor
	output *Tensor
}

func (b *base) inputsAndOutput() ([]*Tensor, *Tensor) {
	return b.inputs, b.output
}

func (b *base) setInputs(inputs ...*Tensor) {
	b.inputs = inputs
}

func (b *base) setOutput(y *Tensor) {
	b.output = y
}

func apply[T op](f T, inputs ...*Tensor) *Tensor {
	y := f.forward(inputs...)
	f.setInputs(inputs...)
	f.setOutput(y)
	y.op = f
	return y
}

func checkSuffixShape(x0, x1 *Tensor) {
	if len(x0.shape) < len(x1.shape) {
		panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
	}
	for i := 0; i < len(x1.shape); i++ {
		if x0.shape[len(x0.shape)-len(x1.shape)+i] != x1.shape[i] {
			panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
		}
	}
}

type add struct {
	base
}

func (a *add) String() string {
	return "Add"
}

func (a *add) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.add(inputs[1])
	return y
}

func (a *add) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx1 := Zeros(a.inputs[1].shape...)
	wSize := 1
	for i := range gx1.shape {
		wSize *= gx1.shape[i]
	}
	for i := range dy.data {
		gx1.data[i%wSize] += dy.data[i]
	}
	return []*Tensor{gx0, gx1}
}

type sub struct {
	base
}

func (s *sub) String() string {
	return "Sub"
}

func (s *sub) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.sub(inputs[1])
	return y
}

func (s *sub) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx1 := Zeros(s.inputs[1].shape...)
	wSize := 1
	for i := range gx1.shape {
		wSize *= gx1.shape[i]
	}
	for i := range dy.data {
		gx1.data[i%wSize] -= dy.data[i]
	}
	return []*Tensor{gx0, gx1}
}

type mul struct {
	base
}

func (m *mul) String() string {
	return "Mul"
}

func (m *mul) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.mul(inputs[1])
	return y
}

func (m *mul) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx0.mul(m.inputs[1])
	gx1 := Zeros(m.inputs[1].shape...)
	wSize := 1
	for i := range gx1.shape {
		wSize *= gx1.shape[i]
	}
	for i := range dy.data {
		gx1.data[i%wSize] += dy.data[i] * m.inputs[0].data[i]
	}
	return []*Tensor{gx0, gx1}
}

type div struct {
	base
}

func (d *div) String() string {
	return "Div"
}

func (d *div) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.div(inputs[1])
	return y
}

func (d *div) backward(dy *Tensor) []*Tensor {
	wSize := 1
	for i := range d.inputs[1].shape {
		wSize *= d.inputs[1].shape[i]
	}
	gx0 := Zeros(d.inputs[0].shape...)
	for i := range dy.data {
		gx0.data[i] = dy.data[i] / d.inputs[1].data[i%wSize]
	}
	gx1 := Zeros(d.inputs[1].shape...)
	for i := range dy.data {
		gx1.data[i%wSize] -= dy.data[i] * d.inputs[0].data[i] / d.inputs[1].data[i%wSize] / d.inputs[1].data[i%wSize]
	}
	return []*Tensor{gx0, gx1}
}

type square struct {
	base
}

func (s *square) String() string {
	return "Square"
}

func (s *square) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.square()
	return y
}

func (s *square) backward(dy *Tensor) []*Tensor {
	dx := s.inputs[0].clone()
	dx.mul(dy)
	for i := range dx.data {
		dx.data[i] *= 2
	}
	return []*Tensor{dx}
}

type exp struct {
	base
}

func (e *exp) String() string {
	return "Exp"
}

func (e *exp) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.exp()
	return y
}

func (e *exp) backward(dy *Tensor) []*Tensor {
	dx := e.output.clone()
	dx.mul(dy)
	return []*Tensor{dx}
}

type log struct {
	base
}

func (l *log) String() string {
	return "Log"
}

func (l *log) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.log()
	return y
}

func (l *log) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	dx.div(l.inputs[0])
	return []*Tensor{dx}
}

type sum struct {
	base
}

func (s *sum) String() string {
	return "Sum"
}

func (s *sum) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	y := NewScalar(0)
	for i := range x.data {
		y.data[0] += x.data[i]
	}
	return y
}

func (s *sum) backward(dy *Tensor) []*Tensor {
	dx := Ones(s.inputs[0].shape...)
	dx.mul(dy)
	return []*Tensor{dx}
}

type mean struct {
	base
}

func (m *mean) String() string {
	return "Mean"
}

func (m *mean) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	y := NewScalar(0)
	for i := range x.data {
		y.data[0] += x.data[i]
	}
	y.data[0] /= float32(len(x.data))
	return y
}

func (m *mean) backward(dy *Tensor) []*Tensor {
	dx := Zeros(m.inputs[0].shape...)
	for i := range dx.data {
		dx.data[i] = dy.data[0] / float32(len(dx.data))
	}
	return []*Tensor{dx}
}

type matMul struct {
	base
}

func (m *matMul) String() string {
	return "MatMul"
}

func (m *matMul) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].matMul(inputs[1], false, false)
}

func (m *matMul) backward(dy *Tensor) []*Tensor {
	dx0 := dy.matMul(m.inputs[1], false, true)
	dx1 := m.inputs[0].matMul(dy, true, false)
	return []*Tensor{dx0, dx1}
}

type flatten struct {
	base
}

func (f *flatten) String() string {
	return "Flatten"
}

func (f *flatten) forward(inputs ...*Tensor) *Tensor {
	data := make([]float32, len(inputs[0].data))
	copy(data, inputs[0].data)
	return NewTensor(data, len(data))
}

func (f *flatten) backward(dy *Tensor) []*Tensor {
	data := make([]float32, len(dy.data))
	copy(data, dy.data)
	return []*Tensor{NewTensor(data, f.inputs[0].shape...)}
}

type sigmoid struct {
	base
}

func (s *sigmoid) String() string {
	return "Sigmoid"
}

func (s *sigmoid) forward(inputs ...*Tensor) *Tensor {
	// y = tanh(x * 0.5) * 0.5 + 0.5 avoids overflow in exp for large |x|.
	y := inputs[0].clone()
	y.mul(NewScalar(0.5))
	y.tanh()
	y.mul(NewScalar(0.5))
	y.add(NewScalar(0.5))
	return y
}

func (s *sigmoid) backward(dy *Tensor) []*Tensor {
	// dx = dy * y * (1 - y)
	dx := dy.clone()
	dx.mul(s.output)
	one := Ones(s.output.shape...)
	one.sub(s.output)
	dx.mul(one)
	return []*Tensor{dx}
}

type tanh struct {
	base
}

func (t *tanh) String() string {
	return "Tanh"
}

func (t *tanh) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.tanh()
	return y
}

func (t *tanh) backward(dy *Tensor) []*Tensor {
	// dx = dy * (1 - y^2)
	dx := Ones(t.output.shape...)
	y2 := t.output.clone()
	y2.square()
	dx.sub(y2)
	dx.mul(dy)
	return []*Tensor{dx}
}

type relu struct {
	base
}

func (r *relu) String() string {
	return "ReLU"
}

func (r *relu) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		if y.data[i] < 0 {
			y.data[i] = 0
		}
	}
	return y
}

func (r *relu) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i := range dx.data {
		if r.inputs[0].data[i] <= 0 {
			dx.data[i] = 0
		}
	}
	return []*Tensor{dx}
}

type embedding struct {
	base
}

func (e *embedding) String() string {
	return "Embedding"
}

func (e *embedding) forward(inputs ...*Tensor) *Tensor {
	w, x := inputs[0], inputs[1]
	dim := 1
	for _, s := range w.shape[1:] {
		dim *= s
	}
	shape := make([]int, 0, len(x.shape)+len(w.shape)-1)
	shape = append(shape, x.shape...)
	shape = append(shape, w.shape[1:]...)
	y := Zeros(shape...)
	for i := range x.data {
		id := int(x.data[i])
		copy(y.data[i*dim:(i+1)*dim], w.data[id*dim:(id+1)*dim])
	}
	return y
}

func (e *embedding) backward(dy *Tensor) []*Tensor {
	w, x := e.inputs[0], e.inputs[1]
	dim := 1
	for _, s := range w.shape[1:] {
		dim *= s
	}
	gw := Zeros(w.shape...)
	for i := range x.data {
		id := int(x.data[i])
		for j := 0; j < dim; j++ {
			gw.data[id*dim+j] += dy.data[i*dim+j]
		}
	}
	// indices carry no gradient
	return []*Tensor{gw, Zeros(x.shape...)}
}

type batchDot struct {
	base
}

func (b *batchDot) String() string {
	return "BatchDot"
}

func (b *batchDot) forward(inputs ...*Tensor) *Tensor {
	x0, x1 := inputs[0], inputs[1]
	batch, dim := x0.shape[0], x0.shape[1]
	y := Zeros(batch)
	for i := 0; i < batch; i++ {
		var sum float32
		for j := 0; j < dim; j++ {
			sum += x0.data[i*dim+j] * x1.data[i*dim+j]
		}
		y.data[i] = sum
	}
	return y
}

func (b *batchDot) backward(dy *Tensor) []*Tensor {
	x0, x1 := b.inputs[0], b.inputs[1]
	batch, dim := x0.shape[0], x0.shape[1]
	gx0 := Zeros(x0.shape...)
	gx1 := Zeros(x1.shape...)
	for i := 0; i < batch; i++ {
		for j := 0; j < dim; j++ {
			gx0.data[i*dim+j] = dy.data[i] * x1.data[i*dim+j]
			gx1.data[i*dim+j] = dy.data[i] * x0.data[i*dim+j]
		}
	}
	return []*Tensor{gx0, gx1}
}

type maximum struct {
	base
}

func (m *maximum) String() string {
	return "Maximum"
}

func (m *maximum) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.maximum(inputs[1])
	return y
}

func (m *maximum) backward(dy *Tensor) []*Tensor {
	// The larger operand receives the gradient; ties go to the first.
	gx0 := Zeros(m.inputs[0].shape...)
	gx1 := Zeros(m.inputs[1].shape...)
	for i := range dy.data {
		if m.inputs[0].data[i] >= m.inputs[1].data[i] {
			gx0.data[i] = dy.data[i]
		} else {
			gx1.data[i] = dy.data[i]
		}
	}
	return []*Tensor{gx0, gx1}
}

// Add returns the element-wise sum of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Add(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffixShape(x0, x1)
	return apply(&add{}, x0, x1)
}

// Sub returns the element-wise difference of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Sub(x0, x1 *Tensor) *Tensor {
	checkSuffixShape(x0, x1)
	return apply(&sub{}, x0, x1)
}

// Mul returns the element-wise product of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Mul(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffixShape(x0, x1)
	return apply(&mul{}, x0, x1)
}

// Div returns the element-wise division of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Div(x0, x1 *Tensor) *Tensor {
	checkSuffixShape(x0, x1)
	return apply(&div{}, x0, x1)
}

// Square returns the element-wise square of a tensor.
func Square(x *Tensor) *Tensor {
	return apply(&square{}, x)
}

// Exp returns the element-wise exponential of a tensor.
func Exp(x *Tensor) *Tensor {
	return apply(&exp{}, x)
}

// Log returns the element-wise natural logarithm of a tensor.
func Log(x *Tensor) *Tensor {
	return apply(&log{}, x)
}

// Sum returns the sum of all elements in a tensor.
func Sum(x *Tensor) *Tensor {
	return apply(&sum{}, x)
}

// Mean returns the mean of all elements in a tensor.
func Mean(x *Tensor) *Tensor {
	return apply(&mean{}, x)
}

func MatMul(x, y *Tensor) *Tensor {
	return apply(&matMul{}, x, y)
}

func Flatten(x *Tensor) *Tensor {
	return apply(&flatten{}, x)
}

func Sigmoid(x *Tensor) *Tensor {
	return apply(&sigmoid{}, x)
}

func Tanh(x *Tensor) *Tensor {
	return apply(&tanh{}, x)
}

func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

// Embedding gathers rows of w by the ids in x. The output shape is the shape
// of x concatenated with the trailing dimensions of w.
func Embedding(w, x *Tensor) *Tensor {
	return apply(&embedding{}, w, x)
}

// BatchDot computes the row-wise dot product of two matrices of identical shape.
func BatchDot(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) != 2 || !shapeEqual(x0.shape, x1.shape) {
		panic("BatchDot requires two matrices of identical shape")
	}
	return apply(&batchDot{}, x0, x1)
}

// Maximum returns the element-wise maximum of two tensors of identical shape.
func Maximum(x0, x1 *Tensor) *Tensor {
	if !shapeEqual(x0.shape, x1.shape) {
		panic("Maximum requires two tensors of identical shape")
	}
	return apply(&maximum{}, x0, x1)
}
