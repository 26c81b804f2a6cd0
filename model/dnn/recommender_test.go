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
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/gorse-io/gorse-pipeline/dataset"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfig() Config {
	return Config{
		Features:   []string{"userId", "movieId", "genres"},
		Multivalue: []string{"genres"},
		Shapes: map[string]dataset.EmbeddingShape{
			"userId":  {Cardinality: 5, Dimension: 4},
			"movieId": {Cardinality: 4, Dimension: 3},
			"genres":  {Cardinality: 3, Dimension: 2},
		},
		HiddenUnits: []int{8, 4},
		Seed:        1,
	}
}

func newBatch(t *testing.T, n int) *Batch {
	loader, err := NewFrameLoader(newEncodedFrame(t, n), LoaderOptions{
		Features:   []string{"userId", "movieId", "genres"},
		Multivalue: isGenres,
		Label:      "rating",
		BatchSize:  n,
	})
	require.NoError(t, err)
	return loader.Epoch(0)[0]
}

func TestRecommender(t *testing.T) {
	rec, err := NewRecommender(newConfig())
	require.NoError(t, err)
	// 3 tables, 2 hidden layers and the output layer
	assert.Len(t, rec.Parameters(), 3+2*2+2)

	batch := newBatch(t, 6)
	logits, err := rec.Forward(batch)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 1}, logits.Shape())
	scores, err := rec.Predict(batch)
	require.NoError(t, err)
	assert.Len(t, scores, 6)
	for _, score := range scores {
		assert.True(t, score > 0 && score < 1)
	}

	// codes outside the tables are treated as unseen
	batch.Categorical["userId"][0] = 100
	_, err = rec.Forward(batch)
	assert.NoError(t, err)
	assert.Equal(t, 100, batch.Categorical["userId"][0])

	delete(batch.Multivalue, "genres")
	_, err = rec.Forward(batch)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestRecommenderInvalid(t *testing.T) {
	config := newConfig()
	config.Features = nil
	_, err := NewRecommender(config)
	assert.True(t, errors.Is(err, errors.NotValid))
	config = newConfig()
	delete(config.Shapes, "genres")
	_, err = NewRecommender(config)
	assert.True(t, errors.Is(err, errors.NotFound))
	config = newConfig()
	config.Shapes["genres"] = dataset.EmbeddingShape{}
	_, err = NewRecommender(config)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestRecommenderMarshal(t *testing.T) {
	rec, err := NewRecommender(newConfig())
	require.NoError(t, err)
	batch := newBatch(t, 8)
	expected, err := rec.Predict(batch)
	require.NoError(t, err)

	buf := bytes.NewBuffer(nil)
	require.NoError(t, rec.Marshal(buf))
	config := newConfig()
	config.Seed = 2
	copied, err := NewRecommender(config)
	require.NoError(t, err)
	actual, err := copied.Predict(batch)
	require.NoError(t, err)
	assert.NotEqual(t, expected, actual)
	require.NoError(t, copied.Unmarshal(bytes.NewReader(buf.Bytes())))
	actual, err = copied.Predict(batch)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)

	// layouts must match
	config.HiddenUnits = []int{8}
	other, err := NewRecommender(config)
	require.NoError(t, err)
	assert.Error(t, other.Unmarshal(bytes.NewReader(buf.Bytes())))
	assert.Error(t, copied.Unmarshal(bytes.NewReader([]byte("garbage"))))
	assert.Error(t, copied.Unmarshal(io.LimitReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()/2))))
}

func TestTrainer(t *testing.T) {
	rec, err := NewRecommender(newConfig())
	require.NoError(t, err)
	loader, err := NewFrameLoader(newEncodedFrame(t, 200), LoaderOptions{
		Features:   []string{"userId", "movieId", "genres"},
		Multivalue: isGenres,
		Label:      "rating",
		BatchSize:  32,
		Shuffle:    true,
	})
	require.NoError(t, err)
	trainer := NewTrainer(rec, 0.05)
	trainer.Progress = io.Discard
	history, err := trainer.Train(context.Background(), loader, 30)
	require.NoError(t, err)
	require.Len(t, history, 30)
	assert.Equal(t, 1, history[0].Epoch)
	assert.Less(t, history[29].Loss, history[0].Loss)
	assert.Less(t, history[29].MAE, history[0].MAE)

	metrics, err := trainer.Evaluate(context.Background(), loader)
	require.NoError(t, err)
	assert.Less(t, metrics.Loss, float32(0.5))
	assert.Less(t, metrics.MAE, float32(0.5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = trainer.Train(ctx, loader, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrainerWithoutLabels(t *testing.T) {
	frame := newEncodedFrame(t, 4).Drop("rating")
	loader, err := NewFrameLoader(frame, LoaderOptions{
		Features:   []string{"userId", "movieId", "genres"},
		Multivalue: isGenres,
		Label:      "rating",
		BatchSize:  2,
	})
	require.NoError(t, err)
	rec, err := NewRecommender(newConfig())
	require.NoError(t, err)
	trainer := NewTrainer(rec, 0.01)
	_, err = trainer.Train(context.Background(), loader, 1)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = trainer.Evaluate(context.Background(), loader)
	assert.True(t, errors.Is(err, errors.NotValid))
}
