// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/lakewriter/internal/azureclient"
)

const azureBackend = "azure"

// copyPollInterval is how often AtomicRename checks a pending server-side copy.
const copyPollInterval = 250 * time.Millisecond

// AzureStore keeps blobs in an Azure Blob Storage container under a name
// prefix.
//
// AtomicRename is a server-side copy followed by a delete of the source,
// with the same crash window as S3Store.
type AzureStore struct {
	client    *azureclient.BlobClient
	container string
	prefix    string
}

var _ Storage = (*AzureStore)(nil)

// NewAzureStore returns a store over container, with every path placed
// under prefix.
func NewAzureStore(client *azureclient.BlobClient, container, prefix string) *AzureStore {
	return &AzureStore{
		client:    client,
		container: container,
		prefix:    strings.Trim(prefix, "/"),
	}
}

func (s *AzureStore) key(p string) string {
	return strings.TrimPrefix(path.Join(s.prefix, path.Clean("/"+p)), "/")
}

func (s *AzureStore) rel(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, s.prefix+"/")
}

func (s *AzureStore) start(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return s.client.Tracer.Start(ctx, "storage.azure."+op,
		trace.WithAttributes(
			attribute.String("container", s.container),
			attribute.String("key", key),
		),
	)
}

func (s *AzureStore) blob(key string) *blob.Client {
	return s.client.Client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
}

func (s *AzureStore) Write(ctx context.Context, p string, r io.Reader) (err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "write", key)
	defer span.End()
	defer func() { recordOp(ctx, azureBackend, "write", err) }()

	cr := &countingReader{r: r}
	_, err = s.client.Client.UploadStream(ctx, s.container, key, cr, &azblob.UploadStreamOptions{
		Metadata: map[string]*string{
			"writer": to.Ptr("lakewriter"),
		},
	})
	if err != nil {
		span.RecordError(err)
		return ioError("write", p, err)
	}
	recordBytes(ctx, azureBackend, "write", cr.n)
	return nil
}

func (s *AzureStore) WriteIfAbsent(ctx context.Context, p string, data []byte) (created bool, err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "write_if_absent", key)
	defer span.End()
	defer func() { recordOp(ctx, azureBackend, "write_if_absent", err) }()

	_, err = s.client.Client.UploadBuffer(ctx, s.container, key, data, &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		},
	})
	if err != nil {
		if azureAlreadyExists(err) {
			return false, nil
		}
		span.RecordError(err)
		return false, ioError("write_if_absent", p, err)
	}
	recordBytes(ctx, azureBackend, "write", int64(len(data)))
	return true, nil
}

func (s *AzureStore) Read(ctx context.Context, p string) (data []byte, err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "read", key)
	defer span.End()
	defer func() { recordOp(ctx, azureBackend, "read", err) }()

	resp, err := s.client.Client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		return nil, ioError("read", p, azureNotFound(err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, ioError("read", p, err)
	}
	recordBytes(ctx, azureBackend, "read", int64(len(data)))
	return data, nil
}

func (s *AzureStore) Download(ctx context.Context, tmpdir, p string) (name string, size int64, err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "download", key)
	defer span.End()
	defer func() { recordOp(ctx, azureBackend, "download", err) }()

	resp, err := s.client.Client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		return "", 0, ioError("download", p, azureNotFound(err))
	}
	defer func() { _ = resp.Body.Close() }()

	f, err := os.CreateTemp(tmpdir, "*-"+path.Base(p))
	if err != nil {
		return "", 0, ioError("download", p, err)
	}
	size, err = io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", 0, ioError("download", p, err)
	}
	recordBytes(ctx, azureBackend, "read", size)
	return f.Name(), size, nil
}

func (s *AzureStore) AtomicRename(ctx context.Context, from, dest string) (err error) {
	src, dst := s.key(from), s.key(dest)
	ctx, span := s.start(ctx, "rename", dst)
	defer span.End()
	defer func() { recordOp(ctx, azureBackend, "rename", err) }()

	target := s.blob(dst)
	resp, err := target.StartCopyFromURL(ctx, s.blob(src).URL(), nil)
	if err != nil {
		return ioError("rename", from, azureNotFound(err))
	}
	if err := waitForCopy(ctx, target, resp.CopyStatus); err != nil {
		return ioError("rename", from, err)
	}
	if _, err = s.client.Client.DeleteBlob(ctx, s.container, src, nil); err != nil && !IsNotFound(azureNotFound(err)) {
		return ioError("rename", from, err)
	}
	return nil
}

// waitForCopy polls the destination until a server-side copy leaves the
// pending state. Copies inside one account normally finish immediately.
func waitForCopy(ctx context.Context, target *blob.Client, status *blob.CopyStatusType) error {
	ticker := time.NewTicker(copyPollInterval)
	defer ticker.Stop()
	for {
		switch {
		case status == nil || *status == blob.CopyStatusTypeSuccess:
			return nil
		case *status != blob.CopyStatusTypePending:
			return fmt.Errorf("copy ended with status %s", *status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		props, err := target.GetProperties(ctx, nil)
		if err != nil {
			return err
		}
		status = props.CopyStatus
	}
}

func (s *AzureStore) Delete(ctx context.Context, p string) (err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "delete", key)
	defer span.End()
	defer func() { recordOp(ctx, azureBackend, "delete", err) }()

	_, err = s.client.Client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !IsNotFound(azureNotFound(err)) {
		return ioError("delete", p, err)
	}
	return nil
}

func (s *AzureStore) Exists(ctx context.Context, p string) (ok bool, err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "exists", key)
	defer span.End()
	defer func() { recordOp(ctx, azureBackend, "exists", err) }()

	_, err = s.blob(key).GetProperties(ctx, nil)
	if err != nil {
		if IsNotFound(azureNotFound(err)) {
			return false, nil
		}
		return false, ioError("exists", p, err)
	}
	return true, nil
}

func (s *AzureStore) List(ctx context.Context, prefix string) (paths []string, err error) {
	key := s.key(prefix)
	if strings.HasSuffix(prefix, "/") {
		key += "/"
	}
	ctx, span := s.start(ctx, "list", key)
	defer span.End()
	defer func() { recordOp(ctx, azureBackend, "list", err) }()

	pager := s.client.Client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(key),
	})
	for pager.More() {
		page, perr := pager.NextPage(ctx)
		if perr != nil {
			return nil, ioError("list", prefix, perr)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				paths = append(paths, s.rel(*item.Name))
			}
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// azureNotFound wraps err with ErrNotFound when Azure reports a missing blob
// or, for copies, a missing source.
func azureNotFound(err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.CannotVerifyCopySource) {
		return errors.Join(ErrNotFound, err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return errors.Join(ErrNotFound, err)
	}
	return err
}

// azureAlreadyExists reports an If-None-Match: * upload that found a blob.
func azureAlreadyExists(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) &&
		(respErr.StatusCode == http.StatusConflict || respErr.StatusCode == http.StatusPreconditionFailed)
}
