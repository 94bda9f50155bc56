package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/askcsv/askcsv/internal/storage"
)

func TestGetResolvesKeyUnderPrefix(t *testing.T) {
	api := &fakeAPI{objects: map[string]string{"askcsv/imports/sales.csv": "id\n1\n"}}
	store, err := newStore("bucket-a", "/askcsv/imports/", api)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	reader, err := store.Get(context.Background(), "/sales.csv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	body, _ := io.ReadAll(reader)
	if string(body) != "id\n1\n" {
		t.Fatalf("body = %q", body)
	}
	if api.lastBucket != "bucket-a" || api.lastKey != "askcsv/imports/sales.csv" {
		t.Fatalf("request = %s/%s", api.lastBucket, api.lastKey)
	}
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	store, err := newStore("bucket-a", "imports", &fakeAPI{})
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	for _, key := range []string{"../secrets.csv", "a/../../b.csv", "..", " ", "/"} {
		if _, err := store.Get(context.Background(), key); err == nil {
			t.Fatalf("Get(%q) expected validation error", key)
		}
	}
}

func TestGetMissingObjectReturnsNotFound(t *testing.T) {
	store, err := newStore("bucket-a", "", &fakeAPI{})
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	_, err = store.Get(context.Background(), "missing.csv")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want %v", err, storage.ErrObjectNotFound)
	}
}

func TestStatReturnsRelativeKey(t *testing.T) {
	api := &fakeAPI{objects: map[string]string{"imports/data.parquet": "PAR1"}}
	store, err := newStore("bucket-a", "imports", api)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	info, err := store.Stat(context.Background(), "data.parquet")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Key != "data.parquet" || info.Size != 4 {
		t.Fatalf("info = %#v", info)
	}
}

func TestListReturnsImportableObjectsSorted(t *testing.T) {
	api := &fakeAPI{objects: map[string]string{
		"imports/z.csv":            "id\n",
		"imports/a/part-0.parquet": "PAR1",
		"imports/readme.md":        "# notes",
		"imports/b.CSV":            "id\n",
		"other/x.csv":              "id\n",
	}}
	store, err := newStore("bucket-a", "imports", api)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	objects, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		keys = append(keys, object.Key)
	}
	if got := strings.Join(keys, ","); got != "a/part-0.parquet,b.CSV,z.csv" {
		t.Fatalf("keys = %s", got)
	}
	if api.lastPrefix != "imports/" {
		t.Fatalf("list prefix = %q", api.lastPrefix)
	}
}

func TestPingRequiresExistingBucket(t *testing.T) {
	store, err := newStore("bucket-a", "", &fakeAPI{bucket: false})
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("expected error for missing bucket")
	}

	store, err = newStore("bucket-a", "", &fakeAPI{bucket: true})
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestTranslateErrNotFound(t *testing.T) {
	err := translateErr(minio.ErrorResponse{Code: "NoSuchKey"})
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("translateErr() = %v", err)
	}
	other := errors.New("connection reset")
	if translateErr(other) != other {
		t.Fatal("expected unrelated errors to pass through")
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw    string
		useSSL bool
		host   string
		secure bool
	}{
		{raw: "https://minio.example.com", host: "minio.example.com", secure: true},
		{raw: "http://minio.local:9000", useSSL: true, host: "minio.local:9000", secure: false},
		{raw: "localhost:9000", host: "localhost:9000", secure: false},
		{raw: "localhost:9000", useSSL: true, host: "localhost:9000", secure: true},
	}
	for _, tc := range cases {
		host, secure, err := parseEndpoint(tc.raw, tc.useSSL)
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tc.raw, err)
		}
		if host != tc.host || secure != tc.secure {
			t.Fatalf("parseEndpoint(%q) = %q/%v", tc.raw, host, secure)
		}
	}
	if _, _, err := parseEndpoint("ftp://files", false); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Bucket: "b"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if _, err := New(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

type fakeAPI struct {
	objects    map[string]string
	bucket     bool
	lastBucket string
	lastKey    string
	lastPrefix string
}

func (f *fakeAPI) getObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.lastBucket, f.lastKey = bucket, key
	body, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeAPI) statObject(_ context.Context, bucket, key string) (storage.ObjectInfo, error) {
	f.lastBucket, f.lastKey = bucket, key
	body, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body)), LastModified: time.Now().UTC()}, nil
}

func (f *fakeAPI) listObjects(_ context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	f.lastBucket, f.lastPrefix = bucket, prefix
	var objects []storage.ObjectInfo
	for key, body := range f.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(body))})
		}
	}
	return objects, nil
}

func (f *fakeAPI) bucketExists(_ context.Context, _ string) (bool, error) {
	return f.bucket, nil
}
