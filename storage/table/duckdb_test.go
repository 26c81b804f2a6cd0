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
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EngineTestSuite struct {
	suite.Suite
	engine *Engine
}

func (s *EngineTestSuite) SetupSuite() {
	var err error
	s.engine, err = Open()
	s.Require().NoError(err)
}

func (s *EngineTestSuite) TearDownSuite() {
	s.NoError(s.engine.Close())
}

func (s *EngineTestSuite) TestReadCSV() {
	path := filepath.Join(s.T().TempDir(), "movies.csv")
	err := os.WriteFile(path, []byte("movieId,title,genres\n"+
		"1,Toy Story (1995),Adventure|Animation|Children\n"+
		"2,\"Jumanji, The (1995)\",Adventure|Fantasy\n"+
		"3,Heat (1995),\n"), 0644)
	s.Require().NoError(err)

	frame, err := s.engine.ReadCSV(context.Background(), path)
	s.Require().NoError(err)
	s.Equal([]string{"movieId", "title", "genres"}, frame.Columns())
	s.Equal(3, frame.Len())
	movieIds, _ := frame.Column("movieId")
	s.Equal([]any{int64(1), int64(2), int64(3)}, movieIds)
	titles, _ := frame.Column("title")
	s.Equal("Jumanji, The (1995)", titles[1])
	genres, _ := frame.Column("genres")
	s.Equal("Adventure|Fantasy", genres[1])
	s.Nil(genres[2])
}

func (s *EngineTestSuite) TestParquet() {
	ctx := context.Background()
	frame := NewFrame()
	s.Require().NoError(frame.AddColumn("userId", []any{int64(1), int64(2), int64(3), int64(4)}))
	s.Require().NoError(frame.AddColumn("genres", []any{[]int64{1, 2}, []int64{}, []int64{3}, nil}))
	s.Require().NoError(frame.AddColumn("rating", []any{float32(1), float32(0), float32(1), float32(0)}))
	s.Require().NoError(frame.AddColumn("score", []any{0.5, 1.5, 2.5, 3.5}))

	dir := filepath.Join(s.T().TempDir(), "test")
	path, err := s.engine.WriteParquet(ctx, frame, dir, WriteOptions{})
	s.Require().NoError(err)
	s.Equal(filepath.Join(dir, PartitionName), path)

	loaded, err := s.engine.ReadParquet(ctx, filepath.Join(dir, "*.parquet"))
	s.Require().NoError(err)
	s.Equal(frame.Columns(), loaded.Columns())
	for _, name := range frame.Columns() {
		expected, _ := frame.Column(name)
		actual, _ := loaded.Column(name)
		s.Equal(expected, actual, name)
	}
}

func (s *EngineTestSuite) TestParquetTypes() {
	ctx := context.Background()
	frame := NewFrame()
	s.Require().NoError(frame.AddColumn("movieId", []any{int64(7)}))
	dir := filepath.Join(s.T().TempDir(), "serving")
	_, err := s.engine.WriteParquet(ctx, frame, dir, WriteOptions{Types: map[string]string{"movieId": "INTEGER"}})
	s.Require().NoError(err)
	loaded, err := s.engine.ReadParquet(ctx, filepath.Join(dir, PartitionName))
	s.Require().NoError(err)
	movieIds, _ := loaded.Column("movieId")
	s.Equal([]any{int64(7)}, movieIds)
}

func (s *EngineTestSuite) TestShuffle() {
	ctx := context.Background()
	frame := NewFrame()
	values := make([]any, 100)
	for i := range values {
		values[i] = int64(i)
	}
	s.Require().NoError(frame.AddColumn("userId", values))

	read := func(dir string, opts WriteOptions) []any {
		_, err := s.engine.WriteParquet(ctx, frame, dir, opts)
		s.Require().NoError(err)
		loaded, err := s.engine.ReadParquet(ctx, filepath.Join(dir, PartitionName))
		s.Require().NoError(err)
		column, _ := loaded.Column("userId")
		return column
	}
	temp := s.T().TempDir()
	ordered := read(filepath.Join(temp, "ordered"), WriteOptions{})
	s.Equal(values, ordered)
	first := read(filepath.Join(temp, "first"), WriteOptions{Shuffle: true, Seed: 42})
	second := read(filepath.Join(temp, "second"), WriteOptions{Shuffle: true, Seed: 42})
	s.Equal(first, second)
	s.NotEqual(values, first)
	s.ElementsMatch(values, first)
}

func (s *EngineTestSuite) TestShuffleKeepsRows() {
	ctx := context.Background()
	n := 10000
	userIds := make([]any, n)
	genres := make([]any, n)
	ratings := make([]any, n)
	for i := 0; i < n; i++ {
		userIds[i] = int64(i)
		genres[i] = []int64{int64(i % 7), int64(i % 11)}
		ratings[i] = float32(i % 2)
	}
	frame := NewFrame()
	s.Require().NoError(frame.AddColumn("userId", userIds))
	s.Require().NoError(frame.AddColumn("genres", genres))
	s.Require().NoError(frame.AddColumn("rating", ratings))

	dir := filepath.Join(s.T().TempDir(), "train")
	_, err := s.engine.WriteParquet(ctx, frame, dir, WriteOptions{Shuffle: true, Seed: 42})
	s.Require().NoError(err)
	loaded, err := s.engine.ReadParquet(ctx, filepath.Join(dir, PartitionName))
	s.Require().NoError(err)
	s.Require().Equal(n, loaded.Len())

	// rows follow the seeded permutation and stay intact across columns
	order := lo.Range(n)
	rand.New(rand.NewSource(42)).Shuffle(n, func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	loadedUsers, _ := loaded.Column("userId")
	loadedGenres, _ := loaded.Column("genres")
	loadedRatings, _ := loaded.Column("rating")
	for position, index := range order {
		s.Equal(userIds[index], loadedUsers[position])
		s.Equal(genres[index], loadedGenres[position])
		s.Equal(ratings[index], loadedRatings[position])
	}
}

func (s *EngineTestSuite) TestReadParquetMissing() {
	_, err := s.engine.ReadParquet(context.Background(), filepath.Join(s.T().TempDir(), "*.parquet"))
	s.Error(err)
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestInferType(t *testing.T) {
	typ, err := inferType([]any{nil, float32(1)})
	require.NoError(t, err)
	assert.Equal(t, "FLOAT", typ)
	typ, err = inferType([]any{nil})
	require.NoError(t, err)
	assert.Equal(t, "VARCHAR", typ)
	_, err = inferType([]any{[]string{"a"}})
	assert.Error(t, err)
}

func TestAppendValue(t *testing.T) {
	value, err := appendValue([]int64{1, 2}, "BIGINT[]")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, value)
	value, err = appendValue([]int64{}, "INTEGER[]")
	require.NoError(t, err)
	assert.Equal(t, []any{}, value)
	value, err = appendValue(int64(7), "INTEGER")
	require.NoError(t, err)
	assert.Equal(t, int32(7), value)
	value, err = appendValue(float32(1), "DOUBLE")
	require.NoError(t, err)
	assert.Equal(t, float64(1), value)
	value, err = appendValue(nil, "BIGINT[]")
	require.NoError(t, err)
	assert.Nil(t, value)
	_, err = appendValue("x", "BIGINT")
	assert.True(t, errors.Is(err, errors.NotSupported))
}
