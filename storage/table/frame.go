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

// Package table holds in-memory tabular data and moves it in and out of CSV
// and parquet files.
package table

import (
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Frame is an in-memory table stored column by column. Cells hold int64,
// float32, float64, string, []string, []int64 or nil.
type Frame struct {
	names   []string
	columns [][]any
}

// NewFrame creates an empty frame.
func NewFrame() *Frame {
	return &Frame{}
}

// AddColumn appends a column. Every column must have the same length.
func (f *Frame) AddColumn(name string, values []any) error {
	if f.Has(name) {
		return errors.AlreadyExistsf("column %s", name)
	}
	if len(f.columns) > 0 && len(values) != f.Len() {
		return errors.NotValidf("column %s with %d rows in a frame of %d rows", name, len(values), f.Len())
	}
	f.names = append(f.names, name)
	f.columns = append(f.columns, values)
	return nil
}

// Columns returns column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.names...)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if len(f.columns) == 0 {
		return 0
	}
	return len(f.columns[0])
}

func (f *Frame) Has(name string) bool {
	return lo.Contains(f.names, name)
}

// Column returns the values of a column.
func (f *Frame) Column(name string) ([]any, error) {
	i := lo.IndexOf(f.names, name)
	if i < 0 {
		return nil, errors.NotFoundf("column %s", name)
	}
	return f.columns[i], nil
}

// Drop returns a frame without the named columns. Missing names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	out := NewFrame()
	for i, name := range f.names {
		if !lo.Contains(names, name) {
			out.names = append(out.names, name)
			out.columns = append(out.columns, f.columns[i])
		}
	}
	return out
}

// Select returns a frame with the named columns in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := NewFrame()
	for _, name := range names {
		values, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		out.names = append(out.names, name)
		out.columns = append(out.columns, values)
	}
	return out, nil
}

// Take returns the rows at the given indices.
func (f *Frame) Take(indices []int) *Frame {
	out := &Frame{names: f.Columns(), columns: make([][]any, len(f.columns))}
	for i, column := range f.columns {
		out.columns[i] = make([]any, len(indices))
		for j, index := range indices {
			out.columns[i][j] = column[index]
		}
	}
	return out
}

// Map returns a frame whose named column is replaced by fn applied to each
// of its values.
func (f *Frame) Map(name string, fn func(any) (any, error)) (*Frame, error) {
	i := lo.IndexOf(f.names, name)
	if i < 0 {
		return nil, errors.NotFoundf("column %s", name)
	}
	out := &Frame{names: f.Columns(), columns: append([][]any(nil), f.columns...)}
	values := make([]any, len(f.columns[i]))
	for j, v := range f.columns[i] {
		var err error
		if values[j], err = fn(v); err != nil {
			return nil, errors.Annotatef(err, "column %s row %d", name, j)
		}
	}
	out.columns[i] = values
	return out, nil
}

// Row returns the values of a row keyed by column name.
func (f *Frame) Row(i int) map[string]any {
	row := make(map[string]any, len(f.names))
	for j, name := range f.names {
		row[name] = f.columns[j][i]
	}
	return row
}
