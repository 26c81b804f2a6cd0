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

// Package blob provides a single filesystem view over local paths and
// object stores addressed by URI (gs://, s3://, az://).
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gorse-io/gorse-pipeline/config"
	"github.com/juju/errors"
)

const (
	SchemeGCS   = "gs"
	SchemeS3    = "s3"
	SchemeAzure = "az"
	SchemeFile  = "file"
)

// Entry is a direct child of a directory.
type Entry struct {
	Name  string
	Path  string
	IsDir bool
}

// FileSystem is implemented by local disks and object stores. Object stores
// treat "/" delimited key prefixes as directories.
type FileSystem interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create opens name for writing, truncating existing content. The write is
	// durable once Close returns nil.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	List(ctx context.Context, dir string) ([]Entry, error)
	IsDir(ctx context.Context, name string) (bool, error)
	Exists(ctx context.Context, name string) (bool, error)
	MkdirAll(ctx context.Context, dir string) error
	Remove(ctx context.Context, name string) error
	RemoveAll(ctx context.Context, name string) error
	Glob(ctx context.Context, pattern string) ([]string, error)
}

// Scheme returns the URI scheme of name, or an empty string for local paths.
func Scheme(name string) string {
	if i := strings.Index(name, "://"); i > 0 {
		return name[:i]
	}
	return ""
}

// Join appends elements to a local path or an object URI.
func Join(base string, elem ...string) string {
	if Scheme(base) == "" {
		return filepath.Join(append([]string{base}, elem...)...)
	}
	return config.JoinURI(base, elem...)
}

// Base returns the last element of a local path or an object URI.
func Base(name string) string {
	if Scheme(name) == "" {
		return filepath.Base(name)
	}
	_, _, key := parseURI(name)
	if key == "" {
		return ""
	}
	return path.Base(key)
}

func parseURI(uri string) (scheme, bucket, key string) {
	scheme = Scheme(uri)
	rest := strings.TrimPrefix(uri, scheme+"://")
	bucket, key, _ = strings.Cut(rest, "/")
	key = strings.Trim(key, "/")
	return
}

func formatURI(scheme, bucket, key string) string {
	if key == "" {
		return fmt.Sprintf("%s://%s", scheme, bucket)
	}
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
}

// Backend is the minimal set of object operations an object store provides.
// List returns full object keys and, unless recursive, the common prefixes
// (ending in "/") directly below prefix.
type Backend interface {
	Read(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Write(ctx context.Context, bucket, key string) (io.WriteCloser, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket, prefix string, recursive bool) (objects []string, prefixes []string, err error)
	Delete(ctx context.Context, bucket, key string) error
}

// ObjectStore adapts a Backend to FileSystem.
type ObjectStore struct {
	scheme  string
	backend Backend
}

func NewObjectStore(scheme string, backend Backend) *ObjectStore {
	return &ObjectStore{scheme: scheme, backend: backend}
}

func (s *ObjectStore) parse(name string) (string, string, error) {
	scheme, bucket, key := parseURI(name)
	if scheme != s.scheme {
		return "", "", errors.NotValidf("%s URI %q", s.scheme, name)
	}
	if bucket == "" {
		return "", "", errors.NotValidf("bucket in %q", name)
	}
	return bucket, key, nil
}

func (s *ObjectStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	bucket, key, err := s.parse(name)
	if err != nil {
		return nil, err
	}
	return s.backend.Read(ctx, bucket, key)
}

func (s *ObjectStore) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	bucket, key, err := s.parse(name)
	if err != nil {
		return nil, err
	}
	return s.backend.Write(ctx, bucket, key)
}

func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

func (s *ObjectStore) List(ctx context.Context, dir string) ([]Entry, error) {
	bucket, key, err := s.parse(dir)
	if err != nil {
		return nil, err
	}
	prefix := dirPrefix(key)
	objects, prefixes, err := s.backend.List(ctx, bucket, prefix, false)
	if err != nil {
		return nil, errors.Trace(err)
	}
	entries := make([]Entry, 0, len(objects)+len(prefixes))
	for _, p := range prefixes {
		child := strings.TrimSuffix(p, "/")
		entries = append(entries, Entry{
			Name:  path.Base(child),
			Path:  formatURI(s.scheme, bucket, child),
			IsDir: true,
		})
	}
	for _, object := range objects {
		if object == prefix || strings.HasSuffix(object, "/") {
			// directory placeholder
			continue
		}
		entries = append(entries, Entry{
			Name: path.Base(object),
			Path: formatURI(s.scheme, bucket, object),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

func (s *ObjectStore) IsDir(ctx context.Context, name string) (bool, error) {
	bucket, key, err := s.parse(name)
	if err != nil {
		return false, err
	}
	if key == "" {
		return true, nil
	}
	objects, _, err := s.backend.List(ctx, bucket, dirPrefix(key), true)
	if err != nil {
		return false, errors.Trace(err)
	}
	return len(objects) > 0, nil
}

func (s *ObjectStore) Exists(ctx context.Context, name string) (bool, error) {
	bucket, key, err := s.parse(name)
	if err != nil {
		return false, err
	}
	if key != "" {
		exist, err := s.backend.Exists(ctx, bucket, key)
		if err != nil {
			return false, errors.Trace(err)
		} else if exist {
			return true, nil
		}
	}
	return s.IsDir(ctx, name)
}

// MkdirAll is a no-op: prefixes exist as long as an object lives below them.
func (s *ObjectStore) MkdirAll(ctx context.Context, dir string) error {
	_, _, err := s.parse(dir)
	return err
}

func (s *ObjectStore) Remove(ctx context.Context, name string) error {
	bucket, key, err := s.parse(name)
	if err != nil {
		return err
	}
	return s.backend.Delete(ctx, bucket, key)
}

func (s *ObjectStore) RemoveAll(ctx context.Context, name string) error {
	bucket, key, err := s.parse(name)
	if err != nil {
		return err
	}
	objects, _, err := s.backend.List(ctx, bucket, dirPrefix(key), true)
	if err != nil {
		return errors.Trace(err)
	}
	if key != "" {
		exist, err := s.backend.Exists(ctx, bucket, key)
		if err != nil {
			return errors.Trace(err)
		} else if exist {
			objects = append(objects, key)
		}
	}
	for _, object := range objects {
		if err = s.backend.Delete(ctx, bucket, object); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (s *ObjectStore) Glob(ctx context.Context, pattern string) ([]string, error) {
	bucket, key, err := s.parse(pattern)
	if err != nil {
		return nil, err
	}
	if _, err = path.Match(key, ""); err != nil {
		return nil, errors.Trace(err)
	}
	meta := strings.IndexAny(key, "*?[\\")
	if meta < 0 {
		exist, err := s.backend.Exists(ctx, bucket, key)
		if err != nil || !exist {
			return nil, errors.Trace(err)
		}
		return []string{pattern}, nil
	}
	prefix := ""
	if slash := strings.LastIndex(key[:meta], "/"); slash >= 0 {
		prefix = key[:slash+1]
	}
	objects, _, err := s.backend.List(ctx, bucket, prefix, true)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var matches []string
	for _, object := range objects {
		if ok, _ := path.Match(key, object); ok {
			matches = append(matches, formatURI(s.scheme, bucket, object))
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// pipeWriter streams writes into an upload running in the background. Close
// waits for the upload to finish and reports its error.
type pipeWriter struct {
	*io.PipeWriter
	done chan error
}

func newPipeWriter(upload func(r io.Reader) error) io.WriteCloser {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := upload(pr)
		_ = pr.CloseWithError(err)
		done <- err
	}()
	return &pipeWriter{PipeWriter: pw, done: done}
}

func (w *pipeWriter) Close() error {
	if err := w.PipeWriter.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(<-w.done)
}

// Router dispatches each call to the filesystem registered for the URI
// scheme of its path. Object store clients are created on first use.
type Router struct {
	gcs    config.GCSConfig
	s3     config.S3Config
	azure  config.AzureBlobConfig
	mu     sync.Mutex
	stores map[string]FileSystem
}

func NewRouter(cfg *config.Config) *Router {
	r := &Router{stores: map[string]FileSystem{"": POSIX{}}}
	if cfg != nil {
		r.gcs = cfg.GCS
		r.s3 = cfg.S3
		r.azure = cfg.AzureBlob
	}
	return r
}

// Register overrides the filesystem used for a scheme.
func (r *Router) Register(scheme string, fs FileSystem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[scheme] = fs
}

func (r *Router) resolve(name string) (FileSystem, string, error) {
	scheme := Scheme(name)
	if scheme == SchemeFile {
		return POSIX{}, strings.TrimPrefix(name, "file://"), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if fs, ok := r.stores[scheme]; ok {
		return fs, name, nil
	}
	var (
		backend Backend
		err     error
	)
	switch scheme {
	case SchemeGCS:
		backend, err = NewGCS(r.gcs)
	case SchemeS3:
		backend, err = NewS3(r.s3)
	case SchemeAzure:
		backend, err = NewAzureBlob(r.azure)
	default:
		return nil, "", errors.NotSupportedf("scheme %q", scheme)
	}
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	fs := NewObjectStore(scheme, backend)
	r.stores[scheme] = fs
	return fs, name, nil
}

func (r *Router) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	fs, name, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	return fs.Open(ctx, name)
}

func (r *Router) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	fs, name, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	return fs.Create(ctx, name)
}

func (r *Router) List(ctx context.Context, dir string) ([]Entry, error) {
	fs, dir, err := r.resolve(dir)
	if err != nil {
		return nil, err
	}
	return fs.List(ctx, dir)
}

func (r *Router) IsDir(ctx context.Context, name string) (bool, error) {
	fs, name, err := r.resolve(name)
	if err != nil {
		return false, err
	}
	return fs.IsDir(ctx, name)
}

func (r *Router) Exists(ctx context.Context, name string) (bool, error) {
	fs, name, err := r.resolve(name)
	if err != nil {
		return false, err
	}
	return fs.Exists(ctx, name)
}

func (r *Router) MkdirAll(ctx context.Context, dir string) error {
	fs, dir, err := r.resolve(dir)
	if err != nil {
		return err
	}
	return fs.MkdirAll(ctx, dir)
}

func (r *Router) Remove(ctx context.Context, name string) error {
	fs, name, err := r.resolve(name)
	if err != nil {
		return err
	}
	return fs.Remove(ctx, name)
}

func (r *Router) RemoveAll(ctx context.Context, name string) error {
	fs, name, err := r.resolve(name)
	if err != nil {
		return err
	}
	return fs.RemoveAll(ctx, name)
}

func (r *Router) Glob(ctx context.Context, pattern string) ([]string, error) {
	fs, pattern, err := r.resolve(pattern)
	if err != nil {
		return nil, err
	}
	return fs.Glob(ctx, pattern)
}
