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
	"math/rand"

	"github.com/chewxy/math32"
)

type LinearLayer struct {
	W *Tensor
	B *Tensor
}

// NewLinear creates a dense layer with Glorot uniform weights and zero bias.
func NewLinear(rng *rand.Rand, in, out int) *LinearLayer {
	limit := math32.Sqrt(6 / float32(in+out))
	return &LinearLayer{
		W: Uniform(rng, -limit, limit, in, out),
		B: Zeros(out),
	}
}

func (l *LinearLayer) Forward(x *Tensor) *Tensor {
	return Add(MatMul(x, l.W), l.B)
}

func (l *LinearLayer) Parameters() []*Tensor {
	return []*Tensor{l.W, l.B}
}

// EmbeddingLayer holds an [n, d] lookup table.
type EmbeddingLayer struct {
	W *Tensor
}

func NewEmbedding(rng *rand.Rand, n, d int) *EmbeddingLayer {
	return &EmbeddingLayer{
		W: Uniform(rng, -0.05, 0.05, n, d),
	}
}

func (e *EmbeddingLayer) Parameters() []*Tensor {
	return []*Tensor{e.W}
}

// Lookup returns one row per id.
func (e *EmbeddingLayer) Lookup(ids []int) *Tensor {
	return Embedding(e.W, ids)
}

// LookupBags returns the mean row of each bag.
func (e *EmbeddingLayer) LookupBags(ids, offsets []int) *Tensor {
	return EmbeddingBag(e.W, ids, offsets)
}
