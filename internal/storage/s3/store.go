// Package s3 reads importable dataset files from an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/askcsv/askcsv/internal/storage"
)

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	// Prefix confines imports to one subtree of the bucket. Callers address
	// objects relative to it and never see it in returned keys.
	Prefix string
}

// objectAPI is the slice of the S3 API the store needs. Keys passed to it are
// absolute within the bucket.
type objectAPI interface {
	getObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	statObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	listObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	bucketExists(ctx context.Context, bucket string) (bool, error)
}

type Store struct {
	api    objectAPI
	bucket string
	prefix string
}

var _ storage.ObjectSource = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return newStore(cfg.Bucket, cfg.Prefix, &minioAPI{client: client})
}

func newStore(bucket, prefix string, api objectAPI) (*Store, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if api == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	return &Store{api: api, bucket: bucket, prefix: cleanPrefix(prefix)}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	body, err := s.api.getObject(ctx, s.bucket, objectKey)
	if err != nil {
		return nil, wrapObjectErr("get", objectKey, err)
	}
	return body, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	objectKey, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.statObject(ctx, s.bucket, objectKey)
	if err != nil {
		return storage.ObjectInfo{}, wrapObjectErr("stat", objectKey, err)
	}
	info.Key = s.relative(info.Key)
	return info, nil
}

// List returns CSV and Parquet objects under the prefix. Other files are
// skipped rather than reported.
func (s *Store) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}
	objects, err := s.api.listObjects(ctx, s.bucket, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("list objects in %q: %w", s.bucket, err)
	}

	importable := make([]storage.ObjectInfo, 0, len(objects))
	for _, object := range objects {
		if !storage.Importable(object.Key) {
			continue
		}
		object.Key = s.relative(object.Key)
		importable = append(importable, object)
	}
	sort.Slice(importable, func(i, j int) bool { return importable[i].Key < importable[j].Key })
	return importable, nil
}

// Ping reports whether the bucket is reachable and exists.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.api.bucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

// resolve maps a caller key onto the bucket, refusing keys that would climb
// out of the prefix.
func (s *Store) resolve(key string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("object key is required")
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid object key: %q", key)
		}
	}
	return path.Join(s.prefix, path.Clean(trimmed)), nil
}

func (s *Store) relative(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.prefix+"/")
}

func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if cleaned := path.Clean(prefix); cleaned != "." {
		return cleaned
	}
	return ""
}

// parseEndpoint accepts either host:port or a URL. A URL scheme overrides
// useSSL.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("endpoint host is required")
	}
	switch parsed.Scheme {
	case "https":
		return parsed.Host, true, nil
	case "http":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}
}

func wrapObjectErr(op, objectKey string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return storage.ErrObjectNotFound
	}
	return fmt.Errorf("%s object %q: %w", op, objectKey, err)
}

type minioAPI struct {
	client *minio.Client
}

func (m *minioAPI) getObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateErr(err)
	}
	// GetObject does not touch the network until the first read; Stat makes
	// a missing key fail here instead of inside the CSV decoder.
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, translateErr(err)
	}
	return object, nil
}

func (m *minioAPI) statObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translateErr(err)
	}
	return objectInfo(info), nil
}

func (m *minioAPI) listObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	for info := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, translateErr(info.Err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		objects = append(objects, objectInfo(info))
	}
	return objects, nil
}

func (m *minioAPI) bucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, translateErr(err)
	}
	return exists, nil
}

func objectInfo(info minio.ObjectInfo) storage.ObjectInfo {
	return storage.ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}
}

func translateErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrObjectNotFound
	}
	return err
}
