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
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/lakewriter/internal/awsclient"
)

const s3Backend = "s3"

// S3Store keeps objects in an S3 bucket under a key prefix.
//
// AtomicRename is a server-side copy followed by a delete of the source.
// The destination appears in one step, so a reader never sees a partial
// object, but a crash between the two calls can leave the source behind.
// The commit protocol tolerates that because it deletes staging files on
// abort and a rename retried after the copy finds the destination present.
type S3Store struct {
	client     *awsclient.S3Client
	bucket     string
	prefix     string
	uploader   *manager.Uploader
	downloader *manager.Downloader
	tracer     trace.Tracer
}

var _ Storage = (*S3Store)(nil)

// NewS3Store returns a store over bucket, with every path placed under prefix.
func NewS3Store(client *awsclient.S3Client, bucket, prefix string) *S3Store {
	tracer := client.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/cardinalhq/lakewriter/internal/storage")
	}
	return &S3Store{
		client:     client,
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		uploader:   manager.NewUploader(client.Client),
		downloader: manager.NewDownloader(client.Client),
		tracer:     tracer,
	}
}

func (s *S3Store) key(p string) string {
	return strings.TrimPrefix(path.Join(s.prefix, path.Clean("/"+p)), "/")
}

func (s *S3Store) rel(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

func (s *S3Store) start(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage.s3."+op,
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("key", key),
		),
	)
}

func (s *S3Store) Write(ctx context.Context, p string, r io.Reader) (err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "write", key)
	defer span.End()
	defer func() { recordOp(ctx, s3Backend, "write", err) }()

	cr := &countingReader{r: r}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   cr,
		Metadata: map[string]string{
			"writer": "lakewriter",
		},
	})
	if err != nil {
		span.RecordError(err)
		return ioError("write", p, err)
	}
	recordBytes(ctx, s3Backend, "write", cr.n)
	return nil
}

func (s *S3Store) WriteIfAbsent(ctx context.Context, p string, data []byte) (created bool, err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "write_if_absent", key)
	defer span.End()
	defer func() { recordOp(ctx, s3Backend, "write_if_absent", err) }()

	_, err = s.client.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if s3PreconditionFailed(err) {
			return false, nil
		}
		span.RecordError(err)
		return false, ioError("write_if_absent", p, err)
	}
	recordBytes(ctx, s3Backend, "write", int64(len(data)))
	return true, nil
}

func (s *S3Store) Read(ctx context.Context, p string) (data []byte, err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "read", key)
	defer span.End()
	defer func() { recordOp(ctx, s3Backend, "read", err) }()

	out, err := s.client.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, ioError("read", p, s3NotFound(err))
	}
	defer func() { _ = out.Body.Close() }()

	data, err = io.ReadAll(out.Body)
	if err != nil {
		return nil, ioError("read", p, err)
	}
	recordBytes(ctx, s3Backend, "read", int64(len(data)))
	return data, nil
}

func (s *S3Store) Download(ctx context.Context, tmpdir, p string) (name string, size int64, err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "download", key)
	defer span.End()
	defer func() { recordOp(ctx, s3Backend, "download", err) }()

	f, err := os.CreateTemp(tmpdir, "*-"+path.Base(p))
	if err != nil {
		return "", 0, ioError("download", p, err)
	}
	size, err = s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", 0, ioError("download", p, s3NotFound(err))
	}
	recordBytes(ctx, s3Backend, "read", size)
	return f.Name(), size, nil
}

func (s *S3Store) AtomicRename(ctx context.Context, from, to string) (err error) {
	src, dst := s.key(from), s.key(to)
	ctx, span := s.start(ctx, "rename", dst)
	defer span.End()
	defer func() { recordOp(ctx, s3Backend, "rename", err) }()

	_, err = s.client.Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(s.bucket + "/" + escapeKey(src)),
	})
	if err != nil {
		return ioError("rename", from, s3NotFound(err))
	}
	if _, err = s.client.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(src),
	}); err != nil {
		return ioError("rename", from, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, p string) (err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "delete", key)
	defer span.End()
	defer func() { recordOp(ctx, s3Backend, "delete", err) }()

	_, err = s.client.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !IsNotFound(s3NotFound(err)) {
		return ioError("delete", p, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, p string) (ok bool, err error) {
	key := s.key(p)
	ctx, span := s.start(ctx, "exists", key)
	defer span.End()
	defer func() { recordOp(ctx, s3Backend, "exists", err) }()

	_, err = s.client.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(s3NotFound(err)) {
			return false, nil
		}
		return false, ioError("exists", p, err)
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) (paths []string, err error) {
	key := s.key(prefix)
	if strings.HasSuffix(prefix, "/") {
		key += "/"
	}
	ctx, span := s.start(ctx, "list", key)
	defer span.End()
	defer func() { recordOp(ctx, s3Backend, "list", err) }()

	pager := s3.NewListObjectsV2Paginator(s.client.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	})
	for pager.HasMorePages() {
		page, perr := pager.NextPage(ctx)
		if perr != nil {
			return nil, ioError("list", prefix, perr)
		}
		for _, obj := range page.Contents {
			paths = append(paths, s.rel(aws.ToString(obj.Key)))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// s3NotFound wraps err with ErrNotFound when S3 reports a missing key.
func s3NotFound(err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) || httpStatus(err) == http.StatusNotFound {
		return errors.Join(ErrNotFound, err)
	}
	return err
}

func s3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return true
	}
	return httpStatus(err) == http.StatusPreconditionFailed
}

func httpStatus(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
