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

package table

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// PartitionName is the file written by WriteParquet inside its directory.
const PartitionName = "part_0.parquet"

// Engine runs frame I/O on an in-memory DuckDB database. Paths are local.
type Engine struct {
	db      *sql.DB
	counter atomic.Int64
}

func Open() (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Trace(err)
	}
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Trace(err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ReadCSV loads a CSV file with a header row, inferring column types.
func (e *Engine) ReadCSV(ctx context.Context, path string) (*Frame, error) {
	return e.query(ctx, fmt.Sprintf("SELECT * FROM read_csv_auto(%s, header = true)", quote(path)))
}

// ReadParquet loads every parquet file matching pattern, in file name order.
func (e *Engine) ReadParquet(ctx context.Context, pattern string) (*Frame, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(matches) == 0 {
		return nil, errors.NotFoundf("parquet files matching %s", pattern)
	}
	return e.query(ctx, fmt.Sprintf("SELECT * FROM read_parquet(%s)", quote(pattern)))
}

func (e *Engine) query(ctx context.Context, query string) (*Frame, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Trace(err)
	}
	columns := make([][]any, len(types))
	dest := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err = rows.Scan(ptrs...); err != nil {
			return nil, errors.Trace(err)
		}
		for i, v := range dest {
			columns[i] = append(columns[i], normalize(v, types[i].DatabaseTypeName()))
		}
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	frame := NewFrame()
	for i, t := range types {
		values := columns[i]
		if values == nil {
			values = []any{}
		}
		if err = frame.AddColumn(t.Name(), values); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return frame, nil
}

func normalize(v any, typeName string) any {
	switch v := v.(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case []any:
		if strings.HasPrefix(typeName, "VARCHAR") {
			return lo.Map(v, func(x any, _ int) string {
				s, _ := x.(string)
				return s
			})
		}
		return lo.Map(v, func(x any, _ int) int64 {
			n, _ := normalize(x, "").(int64)
			return n
		})
	default:
		return v
	}
}

// WriteOptions controls how a frame is written to parquet.
type WriteOptions struct {
	// Shuffle permutes rows with a generator seeded by Seed.
	Shuffle bool
	Seed    int64
	// Types overrides the SQL type of named columns, e.g. INTEGER for int32.
	Types map[string]string
}

// WriteParquet writes frame to dir/part_0.parquet, creating dir.
func (e *Engine) WriteParquet(ctx context.Context, frame *Frame, dir string, opts WriteOptions) (string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", errors.Trace(err)
	}
	names := frame.Columns()
	types := make([]string, len(names))
	for i, name := range names {
		values, _ := frame.Column(name)
		if t, ok := opts.Types[name]; ok {
			types[i] = t
			continue
		}
		t, err := inferType(values)
		if err != nil {
			return "", errors.Annotatef(err, "column %s", name)
		}
		types[i] = t
	}

	tableName := fmt.Sprintf("frame_%d", e.counter.Add(1))
	definitions := []string{"__row BIGINT"}
	for i, name := range names {
		definitions = append(definitions, fmt.Sprintf("%s %s", quoteIdent(name), types[i]))
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer conn.Close()
	if _, err = conn.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)",
		tableName, strings.Join(definitions, ", "))); err != nil {
		return "", errors.Trace(err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+tableName)
	}()

	order := lo.Range(frame.Len())
	if opts.Shuffle {
		rand.New(rand.NewSource(opts.Seed)).Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	if err = conn.Raw(func(driverConn any) error {
		return appendRows(driverConn.(driver.Conn), tableName, types, frame, order)
	}); err != nil {
		return "", errors.Trace(err)
	}

	path := filepath.Join(dir, PartitionName)
	if _, err = conn.ExecContext(ctx, fmt.Sprintf(
		"COPY (SELECT * EXCLUDE (__row) FROM %s ORDER BY __row) TO %s (FORMAT PARQUET)",
		tableName, quote(path))); err != nil {
		return "", errors.Trace(err)
	}
	return path, nil
}

// appendRows bulk loads frame rows in order through the DuckDB appender.
func appendRows(driverConn driver.Conn, tableName string, types []string, frame *Frame, order []int) error {
	appender, err := duckdb.NewAppenderFromConn(driverConn, "", tableName)
	if err != nil {
		return errors.Trace(err)
	}
	names := frame.Columns()
	columns := make([][]any, len(names))
	for i, name := range names {
		columns[i], _ = frame.Column(name)
	}
	row := make([]driver.Value, len(names)+1)
	for position, index := range order {
		row[0] = int64(position)
		for i := range columns {
			if row[i+1], err = appendValue(columns[i][index], types[i]); err != nil {
				_ = appender.Close()
				return errors.Annotatef(err, "column %s", names[i])
			}
		}
		if err = appender.AppendRow(row...); err != nil {
			_ = appender.Close()
			return errors.Trace(err)
		}
	}
	if err = appender.Flush(); err != nil {
		_ = appender.Close()
		return errors.Trace(err)
	}
	return errors.Trace(appender.Close())
}

func inferType(values []any) (string, error) {
	for _, v := range values {
		switch v.(type) {
		case nil:
			continue
		case int64, int:
			return "BIGINT", nil
		case int32:
			return "INTEGER", nil
		case float32:
			return "FLOAT", nil
		case float64:
			return "DOUBLE", nil
		case string:
			return "VARCHAR", nil
		case bool:
			return "BOOLEAN", nil
		case []int64, []int32:
			return "BIGINT[]", nil
		default:
			return "", errors.NotSupportedf("value type %T", v)
		}
	}
	return "VARCHAR", nil
}

// appendValue converts v to the Go type the appender expects for sqlType.
func appendValue(v any, sqlType string) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	if elem, ok := strings.CutSuffix(sqlType, "[]"); ok {
		var values []any
		switch v := v.(type) {
		case []int64:
			values = lo.Map(v, func(x int64, _ int) any { return x })
		case []int32:
			values = lo.Map(v, func(x int32, _ int) any { return x })
		case []string:
			values = lo.Map(v, func(x string, _ int) any { return x })
		default:
			return nil, errors.NotSupportedf("value type %T for %s", v, sqlType)
		}
		list := make([]any, len(values))
		for i, x := range values {
			value, err := appendValue(x, elem)
			if err != nil {
				return nil, errors.Trace(err)
			}
			list[i] = value
		}
		return list, nil
	}
	switch sqlType {
	case "BIGINT":
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case "INTEGER":
		if n, ok := toInt64(v); ok {
			return int32(n), nil
		}
	case "FLOAT":
		switch v := v.(type) {
		case float32:
			return v, nil
		case float64:
			return float32(v), nil
		}
	case "DOUBLE":
		switch v := v.(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		}
	case "VARCHAR":
		if s, ok := v.(string); ok {
			return s, nil
		}
	case "BOOLEAN":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, errors.NotSupportedf("value type %T for %s", v, sqlType)
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}
