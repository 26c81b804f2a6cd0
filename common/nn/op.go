// Copyright 2024 gorse Project Authors
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

	"github.com/chewxy/math32"
)

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

// reduce sums dy over the leading dimensions that were broadcast onto x.
func reduce(dy *Tensor, x *Tensor) *Tensor {
	gx := Zeros(x.shape...)
	wSize := len(gx.data)
	for i := range dy.data {
		gx.data[i%wSize] += dy.data[i]
	}
	return gx
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
	return []*Tensor{dy.clone(), reduce(dy, a.inputs[1])}
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
	gx1 := reduce(dy, s.inputs[1])
	for i := range gx1.data {
		gx1.data[i] = -gx1.data[i]
	}
	return []*Tensor{dy.clone(), gx1}
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
	wSize := len(gx1.data)
	for i := range dy.data {
		gx1.data[i%wSize] += dy.data[i] * m.inputs[0].data[i]
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
	y := NewScalar(0)
	for _, v := range inputs[0].data {
		y.data[0] += v
	}
	return y
}

func (s *sum) backward(dy *Tensor) []*Tensor {
	dx := Zeros(s.inputs[0].shape...)
	for i := range dx.data {
		dx.data[i] = dy.data[0]
	}
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
	for _, v := range x.data {
		y.data[0] += v
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

type sigmoid struct {
	base
}

func (s *sigmoid) String() string {
	return "Sigmoid"
}

func (s *sigmoid) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i, x := range y.data {
		y.data[i] = stableSigmoid(x)
	}
	return y
}

func (s *sigmoid) backward(dy *Tensor) []*Tensor {
	// dx = dy * y * (1 - y)
	dx := dy.clone()
	for i, y := range s.output.data {
		dx.data[i] *= y * (1 - y)
	}
	return []*Tensor{dx}
}

func stableSigmoid(x float32) float32 {
	if x >= 0 {
		return 1 / (1 + math32.Exp(-x))
	}
	z := math32.Exp(x)
	return z / (1 + z)
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
	for i, x := range r.inputs[0].data {
		if x <= 0 {
			dx.data[i] = 0
		}
	}
	return []*Tensor{dx}
}

// embedding gathers rows of a [n, d] table. The gradient of the table is row
// sparse.
type embedding struct {
	base
	ids []int
}

func (e *embedding) String() string {
	return "Embedding"
}

func (e *embedding) forward(inputs ...*Tensor) *Tensor {
	w := inputs[0]
	d := w.shape[1]
	y := Zeros(len(e.ids), d)
	for i, id := range e.ids {
		copy(y.data[i*d:(i+1)*d], w.data[id*d:(id+1)*d])
	}
	return y
}

func (e *embedding) backward(dy *Tensor) []*Tensor {
	return []*Tensor{newRowSparse(e.inputs[0].shape, append([]int(nil), e.ids...), dy.clone().data)}
}

// embeddingBag averages the rows of each bag. Bag i holds
// ids[offsets[i]:offsets[i+1]], and an empty bag yields zeros.
type embeddingBag struct {
	base
	ids     []int
	offsets []int
}

func (e *embeddingBag) String() string {
	return "EmbeddingBag"
}

func (e *embeddingBag) forward(inputs ...*Tensor) *Tensor {
	w := inputs[0]
	d := w.shape[1]
	n := len(e.offsets) - 1
	y := Zeros(n, d)
	for i := 0; i < n; i++ {
		bag := e.ids[e.offsets[i]:e.offsets[i+1]]
		if len(bag) == 0 {
			continue
		}
		row := y.data[i*d : (i+1)*d]
		scale := 1 / float32(len(bag))
		for _, id := range bag {
			for j, v := range w.data[id*d : (id+1)*d] {
				row[j] += v * scale
			}
		}
	}
	return y
}

func (e *embeddingBag) backward(dy *Tensor) []*Tensor {
	d := e.inputs[0].shape[1]
	rows := make([]int, 0, len(e.ids))
	data := make([]float32, 0, len(e.ids)*d)
	for i := 0; i < len(e.offsets)-1; i++ {
		bag := e.ids[e.offsets[i]:e.offsets[i+1]]
		scale := 1 / float32(max(len(bag), 1))
		for _, id := range bag {
			rows = append(rows, id)
			for _, v := range dy.data[i*d : (i+1)*d] {
				data = append(data, v*scale)
			}
		}
	}
	return []*Tensor{newRowSparse(e.inputs[0].shape, rows, data)}
}

// concat joins matrices with the same number of rows along the columns.
type concat struct {
	base
}

func (c *concat) String() string {
	return "Concat"
}

func (c *concat) forward(inputs ...*Tensor) *Tensor {
	rows, cols := inputs[0].shape[0], 0
	for _, x := range inputs {
		cols += x.shape[1]
	}
	y := Zeros(rows, cols)
	offset := 0
	for _, x := range inputs {
		d := x.shape[1]
		for i := 0; i < rows; i++ {
			copy(y.data[i*cols+offset:i*cols+offset+d], x.data[i*d:(i+1)*d])
		}
		offset += d
	}
	return y
}

func (c *concat) backward(dy *Tensor) []*Tensor {
	rows, cols := dy.shape[0], dy.shape[1]
	grads := make([]*Tensor, len(c.inputs))
	offset := 0
	for k, x := range c.inputs {
		d := x.shape[1]
		gx := Zeros(x.shape...)
		for i := 0; i < rows; i++ {
			copy(gx.data[i*d:(i+1)*d], dy.data[i*cols+offset:i*cols+offset+d])
		}
		grads[k] = gx
		offset += d
	}
	return grads
}

// bceWithLogits is the mean binary cross entropy of sigmoid(logits) against
// labels in [0, 1].
type bceWithLogits struct {
	base
}

func (b *bceWithLogits) String() string {
	return "BCEWithLogits"
}

func (b *bceWithLogits) forward(inputs ...*Tensor) *Tensor {
	logits, labels := inputs[0], inputs[1]
	y := NewScalar(0)
	for i, z := range logits.data {
		// max(z, 0) - z * label + log(1 + exp(-|z|))
		y.data[0] += max(z, 0) - z*labels.data[i] + math32.Log1p(math32.Exp(-math32.Abs(z)))
	}
	y.data[0] /= float32(len(logits.data))
	return y
}

func (b *bceWithLogits) backward(dy *Tensor) []*Tensor {
	logits, labels := b.inputs[0], b.inputs[1]
	dx := Zeros(logits.shape...)
	n := float32(len(logits.data))
	for i, z := range logits.data {
		dx.data[i] = dy.data[0] * (stableSigmoid(z) - labels.data[i]) / n
	}
	return []*Tensor{dx, nil}
}

func checkSuffix(x0, x1 *Tensor) (*Tensor, *Tensor) {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	for i := 0; i < len(x1.shape); i++ {
		if x0.shape[len(x0.shape)-len(x1.shape)+i] != x1.shape[i] {
			panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
		}
	}
	return x0, x1
}

// Add returns the element-wise sum of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Add(x0, x1 *Tensor) *Tensor {
	x0, x1 = checkSuffix(x0, x1)
	return apply(&add{}, x0, x1)
}

// Sub returns the element-wise difference of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Sub(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
	}
	checkSuffix(x0, x1)
	return apply(&sub{}, x0, x1)
}

// Mul returns the element-wise product of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Mul(x0, x1 *Tensor) *Tensor {
	x0, x1 = checkSuffix(x0, x1)
	return apply(&mul{}, x0, x1)
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

func Sigmoid(x *Tensor) *Tensor {
	return apply(&sigmoid{}, x)
}

func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

// Embedding looks up one row of w per id.
func Embedding(w *Tensor, ids []int) *Tensor {
	checkIds(w, ids)
	return apply(&embedding{ids: ids}, w)
}

// EmbeddingBag averages the rows of w for each bag given in CSR layout.
func EmbeddingBag(w *Tensor, ids, offsets []int) *Tensor {
	checkIds(w, ids)
	if len(offsets) == 0 || offsets[0] != 0 || offsets[len(offsets)-1] != len(ids) {
		panic(fmt.Sprintf("invalid bag offsets %v for %d ids", offsets, len(ids)))
	}
	return apply(&embeddingBag{ids: ids, offsets: offsets}, w)
}

func checkIds(w *Tensor, ids []int) {
	if len(w.shape) != 2 {
		panic("embedding table must be a matrix")
	}
	for _, id := range ids {
		if id < 0 || id >= w.shape[0] {
			panic(fmt.Sprintf("embedding id %d out of range [0, %d)", id, w.shape[0]))
		}
	}
}

// Concat joins matrices along the second dimension.
func Concat(xs ...*Tensor) *Tensor {
	for _, x := range xs {
		if len(x.shape) != 2 || x.shape[0] != xs[0].shape[0] {
			panic("concat requires matrices with the same number of rows")
		}
	}
	return apply(&concat{}, xs...)
}

// BCEWithLogits returns the mean binary cross entropy between sigmoid(logits)
// and labels. Labels receive no gradient.
func BCEWithLogits(logits, labels *Tensor) *Tensor {
	if len(logits.data) != len(labels.data) {
		panic(fmt.Sprintf("%d logits and %d labels", len(logits.data), len(labels.data)))
	}
	return apply(&bceWithLogits{}, logits, labels)
}
