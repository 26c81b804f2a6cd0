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
	"strings"

	"github.com/gorse-io/gorse-pipeline/config"
	"github.com/juju/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 stores objects in any S3 compatible service.
type S3 struct {
	*minio.Client
}

func NewS3(cfg config.S3Config) (*S3, error) {
	if cfg.Endpoint == "" {
		return nil, errors.NotValidf("empty S3 endpoint")
	}
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &S3{Client: minioClient}, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (s *S3) Read(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := s.Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, err = object.Stat(); err != nil {
		_ = object.Close()
		if isNoSuchKey(err) {
			return nil, errors.NotFoundf("s3://%s/%s", bucket, key)
		}
		return nil, errors.Trace(err)
	}
	return object, nil
}

func (s *S3) Write(ctx context.Context, bucket, key string) (io.WriteCloser, error) {
	return newPipeWriter(func(r io.Reader) error {
		_, err := s.Client.PutObject(ctx, bucket, key, r, -1, minio.PutObjectOptions{})
		return err
	}), nil
}

func (s *S3) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, errors.Trace(err)
	}
	return true, nil
}

func (s *S3) List(ctx context.Context, bucket, prefix string, recursive bool) ([]string, []string, error) {
	var objects, prefixes []string
	for info := range s.Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}) {
		if info.Err != nil {
			return nil, nil, errors.Trace(info.Err)
		}
		if !recursive && strings.HasSuffix(info.Key, "/") {
			prefixes = append(prefixes, info.Key)
		} else {
			objects = append(objects, info.Key)
		}
	}
	return objects, prefixes, nil
}

func (s *S3) Delete(ctx context.Context, bucket, key string) error {
	return errors.Trace(s.Client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}
