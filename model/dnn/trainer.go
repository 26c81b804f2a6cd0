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
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chewxy/math32"
	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/gorse-io/gorse-pipeline/common/nn"
	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Metrics are averaged over rows.
type Metrics struct {
	Loss float32 `json:"loss"`
	MAE  float32 `json:"mae"`
}

type EpochHistory struct {
	Epoch    int           `json:"epoch"`
	Loss     float32       `json:"loss"`
	MAE      float32       `json:"mae"`
	Duration time.Duration `json:"duration"`
}

// Trainer fits a recommender with binary cross entropy on logits and Adam.
type Trainer struct {
	model     *Recommender
	optimizer nn.Optimizer
	// Progress receives the progress bar. Nil disables it.
	Progress io.Writer
}

func NewTrainer(model *Recommender, learningRate float32) *Trainer {
	return &Trainer{
		model:     model,
		optimizer: nn.NewAdam(model.Parameters(), learningRate),
		Progress:  os.Stderr,
	}
}

func (t *Trainer) Train(ctx context.Context, loader *Loader, epochs int) ([]EpochHistory, error) {
	if !loader.HasLabels() {
		return nil, errors.NotValidf("train data without labels")
	}
	if loader.Len() == 0 {
		return nil, errors.NotValidf("empty train data")
	}
	history := make([]EpochHistory, 0, epochs)
	for epoch := 0; epoch < epochs; epoch++ {
		start := time.Now()
		batches := loader.Epoch(epoch)
		var bar *progressbar.ProgressBar
		if t.Progress != nil {
			bar = progressbar.NewOptions(len(batches),
				progressbar.OptionSetWriter(t.Progress),
				progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch+1, epochs)),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish())
		}
		var sum Metrics
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				return nil, errors.Trace(err)
			}
			logits, err := t.model.Forward(batch)
			if err != nil {
				return nil, errors.Trace(err)
			}
			labels := nn.NewTensor(batch.Labels, batch.Size)
			loss := nn.BCEWithLogits(logits, labels)
			t.optimizer.ZeroGrad()
			loss.Backward()
			t.optimizer.Step()
			sum.Loss += loss.Data()[0] * float32(batch.Size)
			sum.MAE += absError(logits, batch.Labels)
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}
		h := EpochHistory{
			Epoch:    epoch + 1,
			Loss:     sum.Loss / float32(loader.Len()),
			MAE:      sum.MAE / float32(loader.Len()),
			Duration: time.Since(start),
		}
		log.Logger().Info("fit recommender",
			zap.Int("epoch", h.Epoch),
			zap.Int("n_epochs", epochs),
			zap.Float32("loss", h.Loss),
			zap.Float32("mae", h.MAE),
			zap.Duration("duration", h.Duration))
		history = append(history, h)
	}
	return history, nil
}

// Evaluate computes loss and MAE without updating weights. Every row counts,
// including the last partial batch.
func (t *Trainer) Evaluate(ctx context.Context, loader *Loader) (Metrics, error) {
	if !loader.HasLabels() {
		return Metrics{}, errors.NotValidf("eval data without labels")
	}
	if loader.Len() == 0 {
		return Metrics{}, errors.NotValidf("empty eval data")
	}
	var sum Metrics
	for _, batch := range loader.Epoch(0) {
		if err := ctx.Err(); err != nil {
			return Metrics{}, errors.Trace(err)
		}
		logits, err := t.model.Forward(batch)
		if err != nil {
			return Metrics{}, errors.Trace(err)
		}
		loss := nn.BCEWithLogits(logits.NoGrad(), nn.NewTensor(batch.Labels, batch.Size))
		sum.Loss += loss.Data()[0] * float32(batch.Size)
		sum.MAE += absError(logits, batch.Labels)
	}
	metrics := Metrics{
		Loss: sum.Loss / float32(loader.Len()),
		MAE:  sum.MAE / float32(loader.Len()),
	}
	log.Logger().Info("evaluate recommender", zap.Float32("loss", metrics.Loss), zap.Float32("mae", metrics.MAE))
	return metrics, nil
}

// absError sums |sigmoid(logit) - label| over a batch.
func absError(logits *nn.Tensor, labels []float32) float32 {
	var sum float32
	for i, z := range logits.Data() {
		sum += math32.Abs(1/(1+math32.Exp(-z)) - labels[i])
	}
	return sum
}
