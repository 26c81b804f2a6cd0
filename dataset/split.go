// Copyright 2026 gorse Project Authors
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

package dataset

import (
	"math"
	"math/rand"
	"sort"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
)

// TrainTestSplit returns the row indices of the train and test subsets, both
// in ascending order. The test subset holds ceil(testSize*n) rows drawn by a
// generator seeded with seed.
func TrainTestSplit(n int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NotValidf("test size %v", testSize)
	}
	nTest := int(math.Ceil(testSize*float64(n) - 1e-9))
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	test = append([]int(nil), perm[:nTest]...)
	train = append([]int(nil), perm[nTest:]...)
	sort.Ints(test)
	sort.Ints(train)
	return train, test, nil
}

const (
	minEmbeddingSize = 16
	maxEmbeddingSize = 512
)

// EmbeddingSize returns the embedding width for a table with the given
// number of rows: round(1.6 * cardinality^0.56) clipped to [16, 512].
func EmbeddingSize(cardinality int) int {
	size := int(math32.Round(1.6 * math32.Pow(float32(cardinality), 0.56)))
	return min(max(size, minEmbeddingSize), maxEmbeddingSize)
}

// EmbeddingShape is the size of an embedding table.
type EmbeddingShape struct {
	Cardinality int `json:"cardinality"`
	Dimension   int `json:"dimension"`
}

func NewEmbeddingShape(cardinality int) EmbeddingShape {
	return EmbeddingShape{Cardinality: cardinality, Dimension: EmbeddingSize(cardinality)}
}
