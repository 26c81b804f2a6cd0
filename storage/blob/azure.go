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
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/gorse-io/gorse-pipeline/config"
	"github.com/juju/errors"
)

// AzureBlob stores objects in Azure Blob Storage. The bucket of a URI is the
// container name.
type AzureBlob struct {
	client *azblob.Client
}

func NewAzureBlob(cfg config.AzureBlobConfig) (*AzureBlob, error) {
	var (
		client *azblob.Client
		err    error
	)
	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
	} else {
		if cfg.AccountName == "" || cfg.AccountKey == "" {
			return nil, errors.New("azure blob requires account name and account key or connection string")
		}
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
		}
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, errors.Trace(err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return &AzureBlob{client: client}, nil
}

func (a *AzureBlob) Read(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, bucket, key, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, errors.NotFoundf("az://%s/%s", bucket, key)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return resp.Body, nil
}

func (a *AzureBlob) Write(ctx context.Context, bucket, key string) (io.WriteCloser, error) {
	return newPipeWriter(func(r io.Reader) error {
		_, err := a.client.UploadStream(ctx, bucket, key, r, nil)
		return err
	}), nil
}

func (a *AzureBlob) Exists(ctx context.Context, bucket, key string) (bool, error) {
	blobClient := a.client.ServiceClient().NewContainerClient(bucket).NewBlobClient(key)
	_, err := blobClient.GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

func (a *AzureBlob) List(ctx context.Context, bucket, prefix string, recursive bool) ([]string, []string, error) {
	var (
		objects  []string
		prefixes []string
		p        *string
	)
	if prefix != "" {
		p = &prefix
	}
	if recursive {
		pager := a.client.NewListBlobsFlatPager(bucket, &azblob.ListBlobsFlatOptions{Prefix: p})
		for pager.More() {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				return nil, nil, errors.Trace(err)
			}
			for _, item := range resp.Segment.BlobItems {
				if item.Name != nil {
					objects = append(objects, *item.Name)
				}
			}
		}
		return objects, nil, nil
	}
	pager := a.client.ServiceClient().NewContainerClient(bucket).
		NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: p})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		for _, item := range resp.Segment.BlobPrefixes {
			if item.Name != nil {
				prefixes = append(prefixes, *item.Name)
			}
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name != nil {
				objects = append(objects, *item.Name)
			}
		}
	}
	return objects, prefixes, nil
}

func (a *AzureBlob) Delete(ctx context.Context, bucket, key string) error {
	_, err := a.client.DeleteBlob(ctx, bucket, key, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return errors.NotFoundf("az://%s/%s", bucket, key)
	}
	return errors.Trace(err)
}
