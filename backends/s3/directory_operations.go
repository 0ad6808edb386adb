package s3

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
)

// listing holds one ListObjectsV2 walk.
type listing struct {
	objects  []*s3.Object
	prefixes []string
}

// list walks every page under prefix. With an empty delimiter the whole
// subtree is returned as objects.
func (a *S3Adapter) list(ctx context.Context, prefix, delimiter string) (*listing, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucketName),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}

	out := &listing{}
	for {
		result, err := a.client.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in S3: %w", err)
		}

		for _, commonPrefix := range result.CommonPrefixes {
			if commonPrefix.Prefix != nil {
				out.prefixes = append(out.prefixes, *commonPrefix.Prefix)
			}
		}
		for _, object := range result.Contents {
			if object.Key != nil {
				out.objects = append(out.objects, object)
			}
		}

		if result.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = result.NextContinuationToken
	}
	return out, nil
}

// ListDirectory lists the contents of a directory
func (a *S3Adapter) ListDirectory(ctx context.Context, path string) ([]*metadata.Entry, error) {
	dir, err := a.stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, metadata.Errorf(metadata.ErrNotFound, "directory %s", path)
	}

	prefix := dirKey(path)
	result, err := a.list(ctx, prefix, "/")
	if err != nil {
		return nil, err
	}

	results := make([]*metadata.Entry, 0, len(result.objects)+len(result.prefixes))

	// Sub-directories arrive as common prefixes; their markers carry the attributes
	for _, p := range result.prefixes {
		childPath := keyToPath(p)
		entry := entryFrom(childPath, metadata.TypeDirectory, 0, nil, nil)
		if out, err := a.head(ctx, p); err == nil {
			entry = entryFrom(childPath, metadata.TypeDirectory, 0, out.LastModified, out.Metadata)
		}
		results = append(results, entry)
	}

	for _, object := range result.objects {
		key := *object.Key
		// Skip the directory marker itself
		if key == prefix || strings.HasSuffix(key, "/") {
			continue
		}
		childPath := keyToPath(key)
		entry := entryFrom(childPath, metadata.TypeFile, aws.Int64Value(object.Size), object.LastModified, nil)
		// Listings omit user metadata
		if out, err := a.head(ctx, key); err == nil {
			entry = entryFrom(childPath, metadata.TypeFile, aws.Int64Value(out.ContentLength), out.LastModified, out.Metadata)
		}
		results = append(results, entry)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

// CreateDirectory writes markers for the directory and any missing ancestors
func (a *S3Adapter) CreateDirectory(ctx context.Context, path string) error {
	return a.mkdirAll(ctx, path)
}

func (a *S3Adapter) mkdirAll(ctx context.Context, path string) error {
	if path == pathutil.Root {
		return nil
	}

	chain := append(pathutil.Ancestors(path), path)
	var missing []string
	for _, p := range chain {
		if p == pathutil.Root {
			continue
		}
		if _, err := a.head(ctx, pathToKey(p)); err == nil {
			return metadata.Errorf(metadata.ErrAlreadyExists, "%s exists and is a file", p)
		} else if !errors.Is(err, metadata.ErrNotFound) {
			return err
		}
		if _, err := a.head(ctx, dirKey(p)); errors.Is(err, metadata.ErrNotFound) {
			missing = append(missing, p)
		} else if err != nil {
			return err
		}
	}

	meta := newMeta(metadata.PrincipalFromContext(ctx), metadata.DefaultGroup, metadata.DefaultDirPermission)
	for _, p := range missing {
		if err := a.put(ctx, dirKey(p), p, nil, meta); err != nil {
			return fmt.Errorf("failed to create directory marker in S3: %w", err)
		}
	}
	return nil
}

func (a *S3Adapter) copyObject(ctx context.Context, from, to string) error {
	in := &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucketName),
		Key:        aws.String(to),
		CopySource: a.copySource(from),
	}
	if a.serverSideEncryption != "" {
		in.ServerSideEncryption = aws.String(a.serverSideEncryption)
	}
	if _, err := a.client.CopyObjectWithContext(ctx, in); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
	}
	return nil
}

func (a *S3Adapter) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		ids := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			ids = append(ids, &s3.ObjectIdentifier{Key: aws.String(key)})
		}

		out, err := a.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.bucketName),
			Delete: &s3.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects from S3: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %s: %s", aws.StringValue(first.Key), aws.StringValue(first.Message))
		}
	}

	a.logger.Debug("Objects deleted from S3",
		zap.String("bucket", a.bucketName),
		zap.Int("count", len(keys)))
	return nil
}

// Rename copies every object under source to its new key, then deletes the originals
func (a *S3Adapter) Rename(ctx context.Context, source, destination string) error {
	if source == pathutil.Root {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot rename the root directory")
	}
	// Renaming onto itself falls through to the existing-destination check.
	if destination != source && pathutil.IsWithin(destination, source) {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot move %s beneath itself", source)
	}

	src, err := a.stat(ctx, source)
	if err != nil {
		return err
	}
	if _, err := a.stat(ctx, destination); err == nil {
		return metadata.Errorf(metadata.ErrAlreadyExists, "%s", destination)
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return err
	}
	parent, err := a.stat(ctx, pathutil.Parent(destination))
	if err != nil || !parent.IsDir() {
		return metadata.Errorf(metadata.ErrNotFound, "destination parent %s", pathutil.Parent(destination))
	}

	if !src.IsDir() {
		if err := a.copyObject(ctx, pathToKey(source), pathToKey(destination)); err != nil {
			return err
		}
		return a.deleteKeys(ctx, []string{pathToKey(source)})
	}

	subtree, err := a.list(ctx, dirKey(source), "")
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(subtree.objects))
	for _, object := range subtree.objects {
		key := *object.Key
		moved := pathToKey(pathutil.Rebase(keyToPath(key), source, destination))
		if strings.HasSuffix(key, "/") {
			moved += "/"
		}
		if err := a.copyObject(ctx, key, moved); err != nil {
			return err
		}
		keys = append(keys, key)
	}
	// An implicit source directory has no marker to carry over
	if len(keys) == 0 || keys[0] != dirKey(source) {
		if err := a.mkdirAll(ctx, destination); err != nil {
			return err
		}
	}
	return a.deleteKeys(ctx, keys)
}

// Delete removes a file or directory. Non-empty directories require recursive.
func (a *S3Adapter) Delete(ctx context.Context, path string, recursive bool) error {
	if path == pathutil.Root {
		return metadata.Errorf(metadata.ErrInvalidArgument, "cannot delete the root directory")
	}

	e, err := a.stat(ctx, path)
	if err != nil {
		return err
	}
	if !e.IsDir() {
		return a.deleteKeys(ctx, []string{pathToKey(path)})
	}

	subtree, err := a.list(ctx, dirKey(path), "")
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(subtree.objects))
	for _, object := range subtree.objects {
		keys = append(keys, *object.Key)
	}
	if !recursive {
		for _, key := range keys {
			if key != dirKey(path) {
				return metadata.Errorf(metadata.ErrNotEmpty, "%s", path)
			}
		}
	}
	return a.deleteKeys(ctx, keys)
}
