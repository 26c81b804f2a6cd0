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
	"math/rand"

	"github.com/gorse-io/gorse-pipeline/storage/table"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Ragged holds one list per row in CSR layout: row i owns
// Values[Offsets[i]:Offsets[i+1]].
type Ragged struct {
	Values  []int
	Offsets []int
}

// Batch is a slice of rows ready for the network.
type Batch struct {
	Size        int
	Categorical map[string][]int
	Multivalue  map[string]Ragged
	Labels      []float32
}

// Loader holds an encoded partition in memory and cuts it into batches.
type Loader struct {
	features    []string
	multivalue  map[string]bool
	label       string
	batchSize   int
	shuffle     bool
	seed        int64
	categorical map[string][]int
	lists       map[string][][]int
	labels      []float32
	size        int
}

type LoaderOptions struct {
	Features   []string
	Multivalue func(string) bool
	Label      string
	BatchSize  int
	// Shuffle reorders rows at the start of every epoch.
	Shuffle bool
	Seed    int64
}

// NewLoader reads every parquet file matching pattern.
func NewLoader(ctx context.Context, engine *table.Engine, pattern string, opts LoaderOptions) (*Loader, error) {
	frame, err := engine.ReadParquet(ctx, pattern)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewFrameLoader(frame, opts)
}

// NewFrameLoader builds a loader over an encoded frame. The label column is
// optional.
func NewFrameLoader(frame *table.Frame, opts LoaderOptions) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.NotValidf("batch size %d", opts.BatchSize)
	}
	l := &Loader{
		features:    opts.Features,
		multivalue:  make(map[string]bool),
		label:       opts.Label,
		batchSize:   opts.BatchSize,
		shuffle:     opts.Shuffle,
		seed:        opts.Seed,
		categorical: make(map[string][]int),
		lists:       make(map[string][][]int),
		size:        frame.Len(),
	}
	for _, name := range opts.Features {
		values, err := frame.Column(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if opts.Multivalue != nil && opts.Multivalue(name) {
			l.multivalue[name] = true
			lists := make([][]int, len(values))
			for i, v := range values {
				if lists[i], err = toCodes(v); err != nil {
					return nil, errors.Annotatef(err, "column %s row %d", name, i)
				}
			}
			l.lists[name] = lists
			continue
		}
		codes := make([]int, len(values))
		for i, v := range values {
			if codes[i], err = toCode(v); err != nil {
				return nil, errors.Annotatef(err, "column %s row %d", name, i)
			}
		}
		l.categorical[name] = codes
	}
	if opts.Label != "" && frame.Has(opts.Label) {
		values, _ := frame.Column(opts.Label)
		l.labels = make([]float32, len(values))
		for i, v := range values {
			label, err := toFloat32(v)
			if err != nil {
				return nil, errors.Annotatef(err, "column %s row %d", opts.Label, i)
			}
			l.labels[i] = label
		}
	}
	return l, nil
}

func (l *Loader) Len() int {
	return l.size
}

func (l *Loader) HasLabels() bool {
	return l.labels != nil
}

// NumBatches counts batches per epoch, including the last partial one.
func (l *Loader) NumBatches() int {
	return (l.size + l.batchSize - 1) / l.batchSize
}

// Epoch returns the batches of an epoch in order. Shuffling loaders use a
// permutation seeded by the loader seed and the epoch.
func (l *Loader) Epoch(epoch int) []*Batch {
	order := lo.Range(l.size)
	if l.shuffle {
		rng := rand.New(rand.NewSource(l.seed + int64(epoch)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	batches := make([]*Batch, 0, l.NumBatches())
	for start := 0; start < l.size; start += l.batchSize {
		batches = append(batches, l.batch(order[start:min(start+l.batchSize, l.size)]))
	}
	return batches
}

func (l *Loader) batch(rows []int) *Batch {
	b := &Batch{
		Size:        len(rows),
		Categorical: make(map[string][]int, len(l.categorical)),
		Multivalue:  make(map[string]Ragged, len(l.lists)),
	}
	for name, codes := range l.categorical {
		b.Categorical[name] = lo.Map(rows, func(row int, _ int) int { return codes[row] })
	}
	for name, lists := range l.lists {
		ragged := Ragged{Offsets: make([]int, 1, len(rows)+1)}
		for _, row := range rows {
			ragged.Values = append(ragged.Values, lists[row]...)
			ragged.Offsets = append(ragged.Offsets, len(ragged.Values))
		}
		b.Multivalue[name] = ragged
	}
	if l.labels != nil {
		b.Labels = lo.Map(rows, func(row int, _ int) float32 { return l.labels[row] })
	}
	return b
}

func toCode(v any) (int, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, errors.NotValidf("categorical value of type %T", v)
	}
}

func toCodes(v any) ([]int, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []int64:
		return lo.Map(v, func(x int64, _ int) int { return int(x) }), nil
	case []int32:
		return lo.Map(v, func(x int32, _ int) int { return int(x) }), nil
	case []int:
		return v, nil
	default:
		return nil, errors.NotValidf("multivalue value of type %T", v)
	}
}

func toFloat32(v any) (float32, error) {
	switch v := v.(type) {
	case float32:
		return v, nil
	case float64:
		return float32(v), nil
	case int64:
		return float32(v), nil
	case int32:
		return float32(v), nil
	default:
		return 0, errors.NotValidf("label of type %T", v)
	}
}
