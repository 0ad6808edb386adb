// Package s3 stores the namespace in an S3 bucket. Files are objects keyed by
// their path without the leading slash; directories are zero-length "key/"
// markers. Permission and ownership travel in object user metadata.
package s3

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/metadata"
)

// User metadata keys. S3 canonicalizes them on the way back, so reads match case-insensitively.
const (
	metaPermission = "Permission"
	metaOwner      = "Owner"
	metaGroup      = "Group"
)

// deleteBatchSize is the DeleteObjects limit.
const deleteBatchSize = 1000

// S3Adapter implements the backends.Storage interface for AWS S3
type S3Adapter struct {
	client               s3iface.S3API
	bucketName           string
	serverSideEncryption string
	acl                  string
	kmsKeyID             string
	logger               *zap.Logger
}

// NewS3Adapter creates a new S3 storage adapter
func NewS3Adapter(cfg config.BackendConfig, logger *zap.Logger) (*S3Adapter, error) {
	if cfg.S3BucketName == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	awsConfig := &aws.Config{
		Region: aws.String(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, "")
	}

	// Custom endpoint for MinIO and other S3-compatible stores
	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
		awsConfig.DisableSSL = aws.Bool(strings.HasPrefix(cfg.S3Endpoint, "http://"))
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)

	_, err = client.HeadBucket(&s3.HeadBucketInput{
		Bucket: aws.String(cfg.S3BucketName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %s: %w", cfg.S3BucketName, err)
	}

	a := newAdapter(client, cfg.S3BucketName, logger)
	a.serverSideEncryption = cfg.S3ServerSideEncryption
	a.acl = cfg.S3ACL
	a.kmsKeyID = cfg.S3KMSKeyID
	return a, nil
}

func newAdapter(client s3iface.S3API, bucket string, logger *zap.Logger) *S3Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Adapter{
		client:     client,
		bucketName: bucket,
		logger:     logger,
	}
}

// Close closes any resources used by the S3 adapter
func (a *S3Adapter) Close() error {
	// No resources to close for S3
	return nil
}

// pathToKey converts a namespace path to the key of its file object
func pathToKey(path string) string {
	return strings.TrimPrefix(path, "/")
}

// dirKey is the marker key of a directory; the root has none.
func dirKey(path string) string {
	if path == "/" {
		return ""
	}
	return pathToKey(path) + "/"
}

// keyToPath converts an S3 key (file or marker) to a namespace path
func keyToPath(key string) string {
	return "/" + strings.TrimSuffix(key, "/")
}

func (a *S3Adapter) copySource(key string) *string {
	return aws.String((&url.URL{Path: a.bucketName + "/" + key}).EscapedPath())
}

// isS3NotFound checks if an error indicates the object was not found
func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	var rf awserr.RequestFailure
	return errors.As(err, &rf) && rf.StatusCode() == 404
}

func metaValue(meta map[string]*string, key, fallback string) string {
	for k, v := range meta {
		if strings.EqualFold(k, key) && v != nil && *v != "" {
			return *v
		}
	}
	return fallback
}

// entryFrom builds an entry from object attributes.
func entryFrom(path string, typ metadata.EntryType, size int64, modified *time.Time, meta map[string]*string) *metadata.Entry {
	perm := metadata.DefaultFilePermission
	if typ == metadata.TypeDirectory {
		perm = metadata.DefaultDirPermission
		size = 0
	}
	e := &metadata.Entry{
		Name:       baseName(path),
		Path:       path,
		Type:       typ,
		Length:     size,
		Owner:      metaValue(meta, metaOwner, metadata.DefaultOwner),
		Group:      metaValue(meta, metaGroup, metadata.DefaultGroup),
		Permission: metaValue(meta, metaPermission, perm),
	}
	if modified != nil {
		e.ModTime = *modified
		e.AccessTime = *modified
	}
	return e
}

func baseName(path string) string {
	if path == "/" {
		return "/"
	}
	return path[strings.LastIndex(path, "/")+1:]
}

func newMeta(owner, group, permission string) map[string]*string {
	return map[string]*string{
		metaOwner:      aws.String(owner),
		metaGroup:      aws.String(group),
		metaPermission: aws.String(permission),
	}
}

// applyWriteOptions sets encryption, ACL and content type on an upload.
func (a *S3Adapter) applyWriteOptions(in *s3.PutObjectInput, path string) {
	if a.serverSideEncryption != "" {
		in.ServerSideEncryption = aws.String(a.serverSideEncryption)
		if a.serverSideEncryption == "aws:kms" && a.kmsKeyID != "" {
			in.SSEKMSKeyId = aws.String(a.kmsKeyID)
		}
	}
	if a.acl != "" {
		in.ACL = aws.String(a.acl)
	}
	if contentType := getContentType(path); contentType != "" {
		in.ContentType = aws.String(contentType)
	}
}
