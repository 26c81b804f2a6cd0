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

package dnn

import (
	"fmt"
	"io"
	"math/rand"
	"slices"

	"github.com/gorse-io/gorse-pipeline/common/encoding"
	"github.com/gorse-io/gorse-pipeline/common/nn"
	"github.com/gorse-io/gorse-pipeline/dataset"
	"github.com/juju/errors"
)

const headerDNN = "DNN"

// Config describes the network layout.
type Config struct {
	Features    []string                          `json:"features"`
	Multivalue  []string                          `json:"multivalue"`
	Shapes      map[string]dataset.EmbeddingShape `json:"embedding_shapes"`
	HiddenUnits []int                             `json:"hidden_units"`
	Seed        int64                             `json:"seed"`
}

// Recommender embeds every feature, concatenates the embeddings and feeds
// them through ReLU hidden layers into a single logit. Multivalue features
// use the mean of their element embeddings.
type Recommender struct {
	config     Config
	multivalue map[string]bool
	embeddings map[string]*nn.EmbeddingLayer
	hidden     []*nn.LinearLayer
	output     *nn.LinearLayer
}

func NewRecommender(config Config) (*Recommender, error) {
	if len(config.Features) == 0 {
		return nil, errors.NotValidf("recommender without features")
	}
	rng := rand.New(rand.NewSource(config.Seed))
	r := &Recommender{
		config:     config,
		multivalue: make(map[string]bool, len(config.Multivalue)),
		embeddings: make(map[string]*nn.EmbeddingLayer, len(config.Features)),
	}
	for _, name := range config.Multivalue {
		r.multivalue[name] = true
	}
	width := 0
	for _, name := range config.Features {
		shape, ok := config.Shapes[name]
		if !ok {
			return nil, errors.NotFoundf("embedding shape of %s", name)
		}
		if shape.Cardinality <= 0 || shape.Dimension <= 0 {
			return nil, errors.NotValidf("embedding shape %v of %s", shape, name)
		}
		r.embeddings[name] = nn.NewEmbedding(rng, shape.Cardinality, shape.Dimension)
		width += shape.Dimension
	}
	for _, units := range config.HiddenUnits {
		r.hidden = append(r.hidden, nn.NewLinear(rng, width, units))
		width = units
	}
	r.output = nn.NewLinear(rng, width, 1)
	return r, nil
}

func (r *Recommender) Config() Config {
	return r.config
}

// namedParameters lists parameters in a stable order.
func (r *Recommender) namedParameters() ([]string, []*nn.Tensor) {
	var names []string
	var params []*nn.Tensor
	for _, name := range r.config.Features {
		names = append(names, "embedding/"+name)
		params = append(params, r.embeddings[name].W)
	}
	for i, layer := range r.hidden {
		names = append(names, fmt.Sprintf("dense_%d/kernel", i), fmt.Sprintf("dense_%d/bias", i))
		params = append(params, layer.W, layer.B)
	}
	names = append(names, "logits/kernel", "logits/bias")
	params = append(params, r.output.W, r.output.B)
	return names, params
}

func (r *Recommender) Parameters() []*nn.Tensor {
	_, params := r.namedParameters()
	return params
}

// Forward returns the logits of a batch with shape [batch, 1].
func (r *Recommender) Forward(b *Batch) (*nn.Tensor, error) {
	inputs := make([]*nn.Tensor, 0, len(r.config.Features))
	for _, name := range r.config.Features {
		table := r.embeddings[name]
		cardinality := r.config.Shapes[name].Cardinality
		if r.multivalue[name] {
			ragged, ok := b.Multivalue[name]
			if !ok {
				return nil, errors.NotFoundf("feature %s in batch", name)
			}
			inputs = append(inputs, table.LookupBags(clip(ragged.Values, cardinality), ragged.Offsets))
		} else {
			codes, ok := b.Categorical[name]
			if !ok {
				return nil, errors.NotFoundf("feature %s in batch", name)
			}
			inputs = append(inputs, table.Lookup(clip(codes, cardinality)))
		}
	}
	x := nn.Concat(inputs...)
	for _, layer := range r.hidden {
		x = nn.ReLu(layer.Forward(x))
	}
	return r.output.Forward(x), nil
}

// Predict returns relevance scores in [0, 1].
func (r *Recommender) Predict(b *Batch) ([]float32, error) {
	logits, err := r.Forward(b)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return slices.Clone(nn.Sigmoid(logits).Data()), nil
}

// clip maps codes outside the table to the null code.
func clip(codes []int, cardinality int) []int {
	var clipped []int
	for i, code := range codes {
		if code < 0 || code >= cardinality {
			if clipped == nil {
				clipped = slices.Clone(codes)
			}
			clipped[i] = int(dataset.NullCode)
		}
	}
	if clipped == nil {
		return codes
	}
	return clipped
}

// Marshal writes the weights.
func (r *Recommender) Marshal(w io.Writer) error {
	if err := encoding.WriteString(w, headerDNN); err != nil {
		return errors.Trace(err)
	}
	names, params := r.namedParameters()
	if err := encoding.WriteGob(w, len(params)); err != nil {
		return errors.Trace(err)
	}
	for i, param := range params {
		if err := encoding.WriteString(w, names[i]); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteGob(w, param.Shape()); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteFloat32s(w, param.Data()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal reads weights written by Marshal into a recommender with the
// same config.
func (r *Recommender) Unmarshal(rd io.Reader) error {
	header, err := encoding.ReadString(rd)
	if err != nil {
		return errors.Trace(err)
	}
	if header != headerDNN {
		return errors.NotValidf("model header %q", header)
	}
	var count int
	if err = encoding.ReadGob(rd, &count); err != nil {
		return errors.Trace(err)
	}
	names, params := r.namedParameters()
	if count != len(params) {
		return errors.NotValidf("%d parameters, expected %d", count, len(params))
	}
	for i, param := range params {
		name, err := encoding.ReadString(rd)
		if err != nil {
			return errors.Trace(err)
		}
		if name != names[i] {
			return errors.NotValidf("parameter %s, expected %s", name, names[i])
		}
		var shape []int
		if err = encoding.ReadGob(rd, &shape); err != nil {
			return errors.Trace(err)
		}
		if !slices.Equal(shape, param.Shape()) {
			return errors.NotValidf("shape %v of %s, expected %v", shape, name, param.Shape())
		}
		data, err := encoding.ReadFloat32s(rd)
		if err != nil {
			return errors.Trace(err)
		}
		if len(data) != len(param.Data()) {
			return errors.NotValidf("%d values of %s", len(data), name)
		}
		copy(param.Data(), data)
	}
	return nil
}
