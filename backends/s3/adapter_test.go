package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/ebogdum/hnsfs/backends"
	"github.com/ebogdum/hnsfs/backends/backendtest"
	"github.com/ebogdum/hnsfs/metadata"
)

type fakeObject struct {
	data     []byte
	meta     map[string]*string
	modified time.Time
}

// fakeS3 keeps one bucket in memory and implements the calls the adapter makes.
type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	bucket  string
	objects map[string]*fakeObject
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: make(map[string]*fakeObject)}
}

func (f *fakeS3) get(key string) (*fakeObject, error) {
	obj, ok := f.objects[key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return obj, nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New("NotFound", "Not Found", nil)
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modified),
		Metadata:      obj.meta,
	}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, err := f.get(aws.StringValue(in.Key))
	if err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		Metadata:      obj.meta,
	}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = &fakeObject{data: data, meta: in.Metadata, modified: time.Now()}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObjectWithContext(_ aws.Context, in *s3.CopyObjectInput, _ ...request.Option) (*s3.CopyObjectOutput, error) {
	source, err := url.PathUnescape(aws.StringValue(in.CopySource))
	if err != nil {
		return nil, err
	}
	source = strings.TrimPrefix(source, f.bucket+"/")

	f.mu.Lock()
	defer f.mu.Unlock()
	obj, err := f.get(source)
	if err != nil {
		return nil, err
	}
	meta := obj.meta
	if aws.StringValue(in.MetadataDirective) == s3.MetadataDirectiveReplace {
		meta = in.Metadata
	}
	f.objects[aws.StringValue(in.Key)] = &fakeObject{data: obj.data, meta: meta, modified: time.Now()}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectsWithContext(_ aws.Context, in *s3.DeleteObjectsInput, _ ...request.Option) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.StringValue(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2WithContext(_ aws.Context, in *s3.ListObjectsV2Input, _ ...request.Option) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.StringValue(in.Prefix)
	delimiter := aws.StringValue(in.Delimiter)

	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seen := make(map[string]bool)
	for _, key := range keys {
		if delimiter != "" {
			rest := key[len(prefix):]
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				common := prefix + rest[:idx+len(delimiter)]
				if common != key && !seen[common] {
					seen[common] = true
					out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(common)})
				}
				if common != key {
					continue
				}
			}
		}
		obj := f.objects[key]
		out.Contents = append(out.Contents, &s3.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modified),
		})
		if in.MaxKeys != nil && int64(len(out.Contents)) >= *in.MaxKeys {
			break
		}
	}
	return out, nil
}

func newTestAdapter(t *testing.T) (*S3Adapter, *fakeS3) {
	t.Helper()
	fake := newFakeS3("test-bucket")
	return newAdapter(fake, "test-bucket", nil), fake
}

func TestS3AdapterConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backends.Storage {
		a, _ := newTestAdapter(t)
		return a
	})
}

func TestS3AdapterKeysAndMarkers(t *testing.T) {
	a, fake := newTestAdapter(t)
	ctx := metadata.WithPrincipal(context.Background(), "alice")

	if err := a.Create(ctx, "/a/b/c.txt", strings.NewReader("hello"), false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, key := range []string{"a/", "a/b/", "a/b/c.txt"} {
		if _, ok := fake.objects[key]; !ok {
			t.Errorf("expected object %q", key)
		}
	}
	if got := metaValue(fake.objects["a/b/c.txt"].meta, metaOwner, ""); got != "alice" {
		t.Errorf("owner metadata = %q, want alice", got)
	}
}

func TestS3AdapterImplicitDirectory(t *testing.T) {
	a, fake := newTestAdapter(t)
	ctx := context.Background()

	// Objects written by other tools often have no directory markers
	fake.objects["logs/2024/app.log"] = &fakeObject{data: []byte("x"), modified: time.Now()}

	e, err := a.Stat(ctx, "/logs")
	if err != nil {
		t.Fatalf("Stat implicit dir: %v", err)
	}
	if !e.IsDir() {
		t.Errorf("expected /logs to be a directory, got %s", e.Type)
	}

	entries, err := a.ListDirectory(ctx, "/logs")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "2024" || !entries[0].IsDir() {
		t.Fatalf("unexpected listing %+v", entries)
	}

	if err := a.Rename(ctx, "/logs", "/archive"); err != nil {
		t.Fatalf("Rename implicit dir: %v", err)
	}
	if _, ok := fake.objects["archive/2024/app.log"]; !ok {
		t.Error("expected the object to move under archive/")
	}
	if _, err := a.Stat(ctx, "/logs"); !errors.Is(err, metadata.ErrNotFound) {
		t.Errorf("expected /logs to be gone, got %v", err)
	}
}

func TestS3AdapterSetPermissionKeepsContent(t *testing.T) {
	a, fake := newTestAdapter(t)
	ctx := context.Background()

	if err := a.Create(ctx, "/f.txt", strings.NewReader("data"), false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := a.SetPermission(ctx, "/f.txt", "600"); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}
	obj := fake.objects["f.txt"]
	if string(obj.data) != "data" {
		t.Errorf("content changed to %q", obj.data)
	}
	if got := metaValue(obj.meta, metaPermission, ""); got != "600" {
		t.Errorf("permission metadata = %q", got)
	}

	if err := a.SetPermission(ctx, "/", "700"); !errors.Is(err, metadata.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for the root, got %v", err)
	}
}

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", awserr.New(s3.ErrCodeNoSuchKey, "missing", nil), true},
		{"head not found", awserr.New("NotFound", "missing", nil), true},
		{"request failure 404", awserr.NewRequestFailure(awserr.New("Other", "x", nil), 404, "req"), true},
		{"access denied", awserr.New("AccessDenied", "nope", nil), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isS3NotFound(tt.err); got != tt.want {
				t.Errorf("isS3NotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestGetContentType(t *testing.T) {
	tests := map[string]string{
		"/a/index.html": "text/html",
		"/a/data.JSON":  "application/json",
		"/a/readme.md":  "text/markdown",
		"/a/blob":       "application/octet-stream",
	}
	for path, want := range tests {
		if got := getContentType(path); got != want {
			t.Errorf("getContentType(%q) = %q, want %q", path, got, want)
		}
	}
}
