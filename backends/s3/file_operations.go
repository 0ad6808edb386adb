package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
)

func (a *S3Adapter) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, metadata.ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat object in S3: %w", err)
	}
	return out, nil
}

// stat resolves path to a file object, a directory marker or an implicit
// directory (a prefix that only exists through its descendants).
func (a *S3Adapter) stat(ctx context.Context, path string) (*metadata.Entry, error) {
	if path == pathutil.Root {
		return entryFrom(path, metadata.TypeDirectory, 0, nil, nil), nil
	}

	out, err := a.head(ctx, pathToKey(path))
	if err == nil {
		return entryFrom(path, metadata.TypeFile, aws.Int64Value(out.ContentLength), out.LastModified, out.Metadata), nil
	}
	if !errors.Is(err, metadata.ErrNotFound) {
		return nil, err
	}

	out, err = a.head(ctx, dirKey(path))
	if err == nil {
		return entryFrom(path, metadata.TypeDirectory, 0, out.LastModified, out.Metadata), nil
	}
	if !errors.Is(err, metadata.ErrNotFound) {
		return nil, err
	}

	list, err := a.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucketName),
		Prefix:  aws.String(dirKey(path)),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects in S3: %w", err)
	}
	if len(list.Contents) > 0 {
		return entryFrom(path, metadata.TypeDirectory, 0, nil, nil), nil
	}
	return nil, metadata.Errorf(metadata.ErrNotFound, "%s", path)
}

func (a *S3Adapter) put(ctx context.Context, key, path string, data []byte, meta map[string]*string) error {
	in := &s3.PutObjectInput{
		Bucket:   aws.String(a.bucketName),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: meta,
	}
	a.applyWriteOptions(in, path)

	if _, err := a.client.PutObjectWithContext(ctx, in); err != nil {
		return fmt.Errorf("failed to put object to S3: %w", err)
	}

	a.logger.Debug("Object written to S3",
		zap.String("bucket", a.bucketName),
		zap.String("key", key),
		zap.Int("size", len(data)))
	return nil
}

// Open opens a file for reading
func (a *S3Adapter) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	key := pathToKey(path)
	if key == "" {
		return nil, metadata.Errorf(metadata.ErrNotFound, "%s is a directory", path)
	}

	result, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, metadata.Errorf(metadata.ErrNotFound, "file %s", path)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	a.logger.Debug("File opened from S3",
		zap.String("bucket", a.bucketName),
		zap.String("key", key))

	return result.Body, nil
}

func (a *S3Adapter) readAll(ctx context.Context, path string) ([]byte, error) {
	body, err := a.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", path, err)
	}
	return data, nil
}

// Create uploads a new file. The existence check and the upload are separate
// requests; callers needing exclusivity serialize through the lock manager.
func (a *S3Adapter) Create(ctx context.Context, path string, reader io.Reader, overwrite bool) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	meta := newMeta(metadata.PrincipalFromContext(ctx), metadata.DefaultGroup, metadata.DefaultFilePermission)

	existing, err := a.stat(ctx, path)
	switch {
	case err == nil:
		if existing.IsDir() {
			return metadata.Errorf(metadata.ErrAlreadyExists, "%s is a directory", path)
		}
		if !overwrite {
			return metadata.Errorf(metadata.ErrAlreadyExists, "file %s", path)
		}
		meta = newMeta(existing.Owner, existing.Group, existing.Permission)
	case !errors.Is(err, metadata.ErrNotFound):
		return err
	default:
		if err := a.mkdirAll(ctx, pathutil.Parent(path)); err != nil {
			return err
		}
	}

	return a.put(ctx, pathToKey(path), path, data, meta)
}

// Append rewrites the object with the new content added at the end. S3 objects
// are immutable, so this costs a full download and upload.
func (a *S3Adapter) Append(ctx context.Context, path string, reader io.Reader) error {
	existing, err := a.stat(ctx, path)
	if err != nil {
		return err
	}
	if existing.IsDir() {
		return metadata.Errorf(metadata.ErrNotFound, "%s is a directory", path)
	}

	current, err := a.readAll(ctx, path)
	if err != nil {
		return err
	}
	extra, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	return a.put(ctx, pathToKey(path), path, append(current, extra...), newMeta(existing.Owner, existing.Group, existing.Permission))
}

// Stat gets file or directory information
func (a *S3Adapter) Stat(ctx context.Context, path string) (*metadata.Entry, error) {
	return a.stat(ctx, path)
}

// SetPermission rewrites the object's user metadata. The root has no object
// and keeps its default permission.
func (a *S3Adapter) SetPermission(ctx context.Context, path string, permission string) error {
	if err := metadata.ValidatePermission(permission); err != nil {
		return err
	}
	if path == pathutil.Root {
		return metadata.Errorf(metadata.ErrInvalidArgument, "the S3 root directory has a fixed permission")
	}

	existing, err := a.stat(ctx, path)
	if err != nil {
		return err
	}
	meta := newMeta(existing.Owner, existing.Group, permission)

	if existing.IsDir() {
		return a.put(ctx, dirKey(path), path, nil, meta)
	}

	key := pathToKey(path)
	in := &s3.CopyObjectInput{
		Bucket:            aws.String(a.bucketName),
		Key:               aws.String(key),
		CopySource:        a.copySource(key),
		Metadata:          meta,
		MetadataDirective: aws.String(s3.MetadataDirectiveReplace),
	}
	if a.serverSideEncryption != "" {
		in.ServerSideEncryption = aws.String(a.serverSideEncryption)
	}
	if _, err := a.client.CopyObjectWithContext(ctx, in); err != nil {
		return fmt.Errorf("failed to update object metadata: %w", err)
	}
	return nil
}

// Concat uploads the joined sources as target, then deletes the sources. A
// failure after the upload leaves the sources in place.
func (a *S3Adapter) Concat(ctx context.Context, target string, sources []string) error {
	if len(sources) == 0 {
		return metadata.Errorf(metadata.ErrInvalidArgument, "no sources to concatenate into %s", target)
	}
	if len(pathutil.SortedUnique(sources...)) != len(sources) {
		return metadata.Errorf(metadata.ErrInvalidArgument, "duplicate concat sources")
	}

	var buf bytes.Buffer
	for _, src := range sources {
		data, err := a.readAll(ctx, src)
		if err != nil {
			return err
		}
		buf.Write(data)
	}

	meta := newMeta(metadata.PrincipalFromContext(ctx), metadata.DefaultGroup, metadata.DefaultFilePermission)
	existing, err := a.stat(ctx, target)
	switch {
	case err == nil:
		if existing.IsDir() {
			return metadata.Errorf(metadata.ErrAlreadyExists, "%s is a directory", target)
		}
		meta = newMeta(existing.Owner, existing.Group, existing.Permission)
	case !errors.Is(err, metadata.ErrNotFound):
		return err
	default:
		if err := a.mkdirAll(ctx, pathutil.Parent(target)); err != nil {
			return err
		}
	}

	if err := a.put(ctx, pathToKey(target), target, buf.Bytes(), meta); err != nil {
		return err
	}

	var remove []string
	for _, src := range sources {
		if src != target {
			remove = append(remove, pathToKey(src))
		}
	}
	return a.deleteKeys(ctx, remove)
}

// getContentType returns the MIME type based on file extension
func getContentType(path string) string {
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
