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
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/juju/errors"
)

// POSIX is the local filesystem.
type POSIX struct{}

func (POSIX) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return f, nil
}

func (POSIX) Create(_ context.Context, name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(name), os.ModePerm); err != nil {
		return nil, errors.Trace(err)
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return f, nil
}

func (POSIX) List(_ context.Context, dir string) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		entries = append(entries, Entry{
			Name:  f.Name(),
			Path:  filepath.Join(dir, f.Name()),
			IsDir: f.IsDir(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

func (POSIX) IsDir(_ context.Context, name string) (bool, error) {
	info, err := os.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	return info.IsDir(), nil
}

func (POSIX) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

func (POSIX) MkdirAll(_ context.Context, dir string) error {
	return errors.Trace(os.MkdirAll(dir, os.ModePerm))
}

func (POSIX) Remove(_ context.Context, name string) error {
	return errors.Trace(os.Remove(name))
}

func (POSIX) RemoveAll(_ context.Context, name string) error {
	return errors.Trace(os.RemoveAll(name))
}

func (POSIX) Glob(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(matches)
	return matches, nil
}
