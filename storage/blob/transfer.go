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

	"github.com/gorse-io/gorse-pipeline/common/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// CopyFile copies a single file, overwriting the destination.
func CopyFile(ctx context.Context, fs FileSystem, src, dst string) error {
	r, err := fs.Open(ctx, src)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	w, err := fs.Create(ctx, dst)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err = io.Copy(w, r); err != nil {
		_ = w.Close()
		return errors.Trace(err)
	}
	return errors.Trace(w.Close())
}

// UploadDirectory mirrors every file below src to the same relative path
// under dst. A failure leaves dst partially populated.
func UploadDirectory(ctx context.Context, fs FileSystem, src, dst string) error {
	isDir, err := fs.IsDir(ctx, src)
	if err != nil {
		return errors.Trace(err)
	}
	if !isDir {
		return CopyFile(ctx, fs, src, Join(dst, Base(src)))
	}
	srcStack, dstStack := []string{src}, []string{dst}
	for len(srcStack) > 0 {
		source, destination := srcStack[len(srcStack)-1], dstStack[len(dstStack)-1]
		srcStack, dstStack = srcStack[:len(srcStack)-1], dstStack[:len(dstStack)-1]
		entries, err := fs.List(ctx, source)
		if err != nil {
			return errors.Trace(err)
		}
		for _, entry := range entries {
			target := Join(destination, entry.Name)
			if entry.IsDir {
				srcStack = append(srcStack, entry.Path)
				dstStack = append(dstStack, target)
			} else if err = CopyFile(ctx, fs, entry.Path, target); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// DownloadDirectory copies the tree rooted at src into dst/<base of src>,
// creating directories as it goes.
func DownloadDirectory(ctx context.Context, fs FileSystem, src, dst string) error {
	srcStack, dstStack := []string{src}, []string{dst}
	for len(srcStack) > 0 {
		source, parent := srcStack[len(srcStack)-1], dstStack[len(dstStack)-1]
		srcStack, dstStack = srcStack[:len(srcStack)-1], dstStack[:len(dstStack)-1]
		destination := Join(parent, Base(source))
		isDir, err := fs.IsDir(ctx, source)
		if err != nil {
			return errors.Trace(err)
		}
		if !isDir {
			if err = CopyFile(ctx, fs, source, destination); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		if err = fs.MkdirAll(ctx, destination); err != nil {
			return errors.Trace(err)
		}
		entries, err := fs.List(ctx, source)
		if err != nil {
			return errors.Trace(err)
		}
		for _, entry := range entries {
			srcStack = append(srcStack, entry.Path)
			dstStack = append(dstStack, destination)
		}
	}
	return nil
}

// CopyFiles copies every file matching pattern into dstDir by base name.
func CopyFiles(ctx context.Context, fs FileSystem, pattern, dstDir string) error {
	matches, err := fs.Glob(ctx, pattern)
	if err != nil {
		return errors.Trace(err)
	}
	for _, match := range matches {
		if err = CopyFile(ctx, fs, match, Join(dstDir, Base(match))); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BestEffortRemoveAll removes each path, logging failures instead of
// returning them.
func BestEffortRemoveAll(ctx context.Context, fs FileSystem, paths ...string) {
	for _, p := range paths {
		if err := fs.RemoveAll(ctx, p); err != nil {
			log.Logger().Warn("failed to clean up", zap.String("path", p), zap.Error(err))
		}
	}
}
