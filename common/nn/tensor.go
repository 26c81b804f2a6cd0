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
	"math/rand"
	"strings"

	"github.com/chewxy/math32"
)

// Tensor is a dense float32 tensor in row-major order. Tensors produced by an
// op remember it so that Backward can propagate gradients to the leaves.
type Tensor struct {
	data  []float32
	shape []int
	grad  *Tensor
	op    op
	// rows is set on row sparse gradients of [n, d] tables: data holds
	// len(rows) rows of width d.
	rows []int
}

func NewTensor(data []float32, shape ...int) *Tensor {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	if size(shape) != len(data) {
		panic(fmt.Sprintf("tensor of shape %v can't hold %d values", shape, len(data)))
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

func Zeros(shape ...int) *Tensor {
	return &Tensor{
		data:  make([]float32, size(shape)),
		shape: shape,
	}
}

func Ones(shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = 1
	}
	return t
}

// Normal fills a tensor with samples of N(mean, std²).
func Normal(rng *rand.Rand, mean, std float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = mean + std*float32(rng.NormFloat64())
	}
	return t
}

// Uniform fills a tensor with samples of U(low, high).
func Uniform(rng *rand.Rand, low, high float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = low + (high-low)*rng.Float32()
	}
	return t
}

func size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func (t *Tensor) Shape() []int {
	return t.shape
}

func (t *Tensor) Data() []float32 {
	return t.data
}

// NoGrad detaches the tensor from the graph that produced it.
func (t *Tensor) NoGrad() *Tensor {
	t.op = nil
	return t
}

func (t *Tensor) String() string {
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

// Backward computes gradients of t with respect to every tensor it depends on.
// Gradients accumulate, so reused tensors receive the sum over all paths.
func (t *Tensor) Backward() {
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(*Tensor)
	visit = func(x *Tensor) {
		if visited[x] {
			return
		}
		visited[x] = true
		if x.op != nil {
			inputs, _ := x.op.inputsAndOutput()
			for _, input := range inputs {
				visit(input)
			}
		}
		order = append(order, x)
	}
	visit(t)

	t.grad = Ones(t.shape...)
	for i := len(order) - 1; i >= 0; i-- {
		x := order[i]
		if x.op == nil || x.grad == nil {
			continue
		}
		inputs, _ := x.op.inputsAndOutput()
		grads := x.op.backward(x.grad)
		for j, input := range inputs {
			if grads[j] == nil {
				continue
			}
			input.grad = accumulate(input.grad, grads[j])
		}
	}
}

func newRowSparse(shape []int, rows []int, data []float32) *Tensor {
	return &Tensor{data: data, shape: shape, rows: rows}
}

func accumulate(acc, g *Tensor) *Tensor {
	switch {
	case acc == nil:
		return g
	case acc.rows != nil && g.rows != nil:
		return newRowSparse(acc.shape, append(acc.rows, g.rows...), append(acc.data, g.data...))
	case acc.rows != nil:
		return g.clone().addSparse(acc)
	case g.rows != nil:
		return acc.addSparse(g)
	default:
		return acc.add(g)
	}
}

func (t *Tensor) addSparse(g *Tensor) *Tensor {
	d := t.shape[1]
	for i, row := range g.rows {
		dst := t.data[row*d : (row+1)*d]
		for j, v := range g.data[i*d : (i+1)*d] {
			dst[j] += v
		}
	}
	return t
}

// Dense returns the tensor with row sparse values expanded.
func (t *Tensor) Dense() *Tensor {
	if t.rows == nil {
		return t
	}
	return Zeros(t.shape...).addSparse(t)
}

// coalesce merges duplicated rows of a row sparse tensor.
func (t *Tensor) coalesce() *Tensor {
	d := t.shape[1]
	index := make(map[int]int, len(t.rows))
	rows := make([]int, 0, len(t.rows))
	data := make([]float32, 0, len(t.data))
	for i, row := range t.rows {
		k, ok := index[row]
		if !ok {
			k = len(rows)
			index[row] = k
			rows = append(rows, row)
			data = append(data, make([]float32, d)...)
		}
		dst := data[k*d : (k+1)*d]
		for j, v := range t.data[i*d : (i+1)*d] {
			dst[j] += v
		}
	}
	return newRowSparse(t.shape, rows, data)
}

func (t *Tensor) clone() *Tensor {
	newData := make([]float32, len(t.data))
	copy(newData, t.data)
	return &Tensor{
		data:  newData,
		shape: t.shape,
	}
}

// The in-place helpers below broadcast other over t when the shape of other
// is a suffix of the shape of t.

func (t *Tensor) add(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] += other.data[i%wSize]
	}
	return t
}

func (t *Tensor) sub(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] -= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) mul(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] *= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) div(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] /= other.data[i%wSize]
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

func (t *Tensor) square() *Tensor {
	for i := range t.data {
		t.data[i] = t.data[i] * t.data[i]
	}
	return t
}

// matMul multiplies two matrices, optionally transposing either operand.
func (t *Tensor) matMul(other *Tensor, transpose1, transpose2 bool) *Tensor {
	if len(t.shape) != 2 || len(other.shape) != 2 {
		panic("matMul requires two matrices")
	}
	m, k := t.shape[0], t.shape[1]
	if transpose1 {
		m, k = k, m
	}
	k2, n := other.shape[0], other.shape[1]
	if transpose2 {
		k2, n = n, k2
	}
	if k != k2 {
		panic(fmt.Sprintf("matMul of incompatible shapes %v and %v", t.shape, other.shape))
	}
	at := func(i, j int) float32 {
		if transpose1 {
			return t.data[j*t.shape[1]+i]
		}
		return t.data[i*t.shape[1]+j]
	}
	bt := func(i, j int) float32 {
		if transpose2 {
			return other.data[j*other.shape[1]+i]
		}
		return other.data[i*other.shape[1]+j]
	}
	y := Zeros(m, n)
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			a := at(i, l)
			if a == 0 {
				continue
			}
			row := y.data[i*n : (i+1)*n]
			for j := range row {
				row[j] += a * bt(l, j)
			}
		}
	}
	return y
}
