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

package etl

import (
	"testing"

	"github.com/gorse-io/gorse-pipeline/storage/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepFrame(t *testing.T) {
	movies := table.NewFrame()
	require.NoError(t, movies.AddColumn("movieId", []any{int64(1), int64(2), int64(3)}))
	require.NoError(t, movies.AddColumn("title", []any{"Toy Story (1995)", "Heat (1995)", "Sabrina (1995)"}))
	require.NoError(t, movies.AddColumn("genres", []any{"Adventure|Animation", "", nil}))

	prepped, err := PrepFrame(movies)
	require.NoError(t, err)
	assert.Equal(t, []string{"movieId", "genres"}, prepped.Columns())
	genres, _ := prepped.Column("genres")
	assert.Equal(t, []any{[]string{"Adventure", "Animation"}, []string{}, nil}, genres)

	// columns outside the checked sets pass through
	ratings := table.NewFrame()
	require.NoError(t, ratings.AddColumn("userId", []any{int64(1)}))
	require.NoError(t, ratings.AddColumn("rating", []any{4.0}))
	prepped, err = PrepFrame(ratings)
	require.NoError(t, err)
	assert.Equal(t, []string{"userId", "rating"}, prepped.Columns())
}

func TestSplitMultivalue(t *testing.T) {
	v, err := SplitMultivalue([]string{"Drama"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"Drama"}, v)
	_, err = SplitMultivalue(int64(1))
	assert.Error(t, err)
}
