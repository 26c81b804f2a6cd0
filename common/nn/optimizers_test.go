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

package nn_test

import (
	"math/rand"
	"testing"

	"github.com/gorse-io/gorse-pipeline/common/nn"
	"github.com/stretchr/testify/assert"
)

// fitLinear fits y = 2a - 3b + 1 with a single linear layer.
func fitLinear(lr float32, epochs int) (losses []float32) {
	rng := rand.New(rand.NewSource(0))
	x := nn.Uniform(rng, -1, 1, 64, 2)
	target := make([]float32, 64)
	for i := range target {
		target[i] = 2*x.Data()[2*i] - 3*x.Data()[2*i+1] + 1
	}
	y := nn.NewTensor(target, 64, 1)

	model := nn.NewLinear(rng, 2, 1)
	optimizer := nn.NewAdam(model.Parameters(), lr)
	for i := 0; i < epochs; i++ {
		yPred := model.Forward(x)
		loss := nn.Mean(nn.Square(nn.Sub(yPred, y)))
		losses = append(losses, loss.Data()[0])
		optimizer.ZeroGrad()
		loss.Backward()
		optimizer.Step()
	}
	return
}

func TestAdam(t *testing.T) {
	losses := fitLinear(0.05, 500)
	assert.Less(t, losses[len(losses)-1], float32(0.01))
}

func TestAdamSparse(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	table := nn.NewEmbedding(rng, 4, 2)
	before := append([]float32(nil), table.W.Data()...)
	optimizer := nn.NewAdam(table.Parameters(), 0.1)
	loss := nn.Sum(table.Lookup([]int{1, 1}))
	optimizer.ZeroGrad()
	loss.Backward()
	optimizer.Step()
	after := table.W.Data()
	// only row 1 moves
	assert.Equal(t, before[0:2], after[0:2])
	assert.Equal(t, before[4:8], after[4:8])
	assert.InDelta(t, before[2]-0.1, after[2], 1e-4)
	assert.InDelta(t, before[3]-0.1, after[3], 1e-4)
}
