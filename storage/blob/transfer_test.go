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

package blob

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snapshot maps relative paths to file contents.
func snapshot(t *testing.T, root string) map[string]string {
	files := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		files[rel] = string(data)
		return err
	})
	require.NoError(t, err)
	return files
}

func makeTree(t *testing.T, root string) {
	writeFile(t, POSIX{}, filepath.Join(root, "workflow.json"), `{"version":1}`)
	writeFile(t, POSIX{}, filepath.Join(root, "categories", "userId.json"), "[1,2,3]")
	writeFile(t, POSIX{}, filepath.Join(root, "categories", "genres", "unique.json"), `["Comedy"]`)
	writeFile(t, POSIX{}, filepath.Join(root, "a", "b", "c", "d", "e", "deep.bin"), string([]byte{0, 1, 2, 255}))
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	router := NewRouter(nil)
	router.Register(SchemeGCS, newFakeGCS(t, "artifacts"))

	src := filepath.Join(t.TempDir(), "transform_workflow")
	makeTree(t, src)
	require.NoError(t, UploadDirectory(ctx, router, src, "gs://artifacts/run/transform_workflow"))
	dst := t.TempDir()
	require.NoError(t, DownloadDirectory(ctx, router, "gs://artifacts/run/transform_workflow/", dst))
	assert.Equal(t, snapshot(t, src), snapshot(t, filepath.Join(dst, "transform_workflow")))
}

func TestUploadDirectoryOverwrite(t *testing.T) {
	ctx := context.Background()
	src, dst := t.TempDir(), t.TempDir()
	makeTree(t, src)
	writeFile(t, POSIX{}, filepath.Join(dst, "workflow.json"), "stale")
	writeFile(t, POSIX{}, filepath.Join(dst, "extra.txt"), "kept")
	require.NoError(t, UploadDirectory(ctx, POSIX{}, src, dst))
	files := snapshot(t, dst)
	assert.Equal(t, `{"version":1}`, files["workflow.json"])
	assert.Equal(t, "kept", files["extra.txt"])
	assert.Equal(t, "[1,2,3]", files[filepath.Join("categories", "userId.json")])
}

func TestUploadDirectoryMissingSource(t *testing.T) {
	err := UploadDirectory(context.Background(), POSIX{}, filepath.Join(t.TempDir(), "missing"), t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCopyFiles(t *testing.T) {
	ctx := context.Background()
	router := NewRouter(nil)
	router.Register(SchemeGCS, newFakeGCS(t, "data"))
	writeFile(t, router, "gs://data/train/part_0.parquet", "0")
	writeFile(t, router, "gs://data/train/part_1.parquet", "1")
	writeFile(t, router, "gs://data/train/_metadata", "m")

	dst := t.TempDir()
	require.NoError(t, CopyFiles(ctx, router, "gs://data/train/*.parquet", dst))
	files := snapshot(t, dst)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"part_0.parquet", "part_1.parquet"}, names)
	assert.Equal(t, "1", files["part_1.parquet"])
}

func TestBestEffortRemoveAll(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	makeTree(t, filepath.Join(dir, "data"))
	router := NewRouter(nil)
	// unsupported schemes are logged and skipped
	BestEffortRemoveAll(ctx, router, "hdfs://namenode/data", filepath.Join(dir, "data"))
	exist, err := router.Exists(ctx, filepath.Join(dir, "data"))
	assert.NoError(t, err)
	assert.False(t, exist)
}
