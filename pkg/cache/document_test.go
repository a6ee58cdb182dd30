package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjectAPI struct {
	mu       sync.Mutex
	objects  map[string][]byte
	headErr  error
	putErr   error
	putCalls int
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{objects: make(map[string][]byte)}
}

func (f *fakeObjectAPI) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeObjectAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(raw)),
		ETag: aws.String(fmt.Sprintf("\"etag-%d\"", len(raw))),
	}, nil
}

func (f *fakeObjectAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return nil, f.putErr
	}
	raw, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = raw
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func TestDocumentBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newFakeObjectAPI()
	b := NewDocumentBackend(api, "bucket")

	if err := b.VerifySchema(ctx); err != nil {
		t.Fatalf("VerifySchema() error = %v", err)
	}
	if err := b.WriteAll(ctx, []Section{
		{Name: "users", Data: map[string]any{"online": 3.0}},
		{Name: "motd", Data: "hello"},
	}); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	if _, ok := api.objects["cache/users.json"]; !ok {
		t.Fatalf("objects = %v, want cache/users.json", api.objects)
	}

	sections, err := b.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("ReadAll() = %d sections, want 2", len(sections))
	}
	if sections[0].Name != "motd" || sections[0].Data != "hello" {
		t.Fatalf("sections[0] = %+v", sections[0])
	}
	if sections[1].ID == "" {
		t.Fatal("section ID not assigned from ETag")
	}
}

func TestDocumentBackend_Prefix(t *testing.T) {
	api := newFakeObjectAPI()
	b := NewDocumentBackend(api, "bucket", WithDocumentPrefix("app1/"))
	if err := b.WriteAll(context.Background(), []Section{{Name: "s", Data: 1.0}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := api.objects["app1/s.json"]; !ok {
		t.Fatalf("objects = %v, want app1/s.json", api.objects)
	}
}

func TestDocumentBackend_Unreachable(t *testing.T) {
	api := newFakeObjectAPI()
	api.headErr = errors.New("connection refused")
	err := NewDocumentBackend(api, "bucket").VerifySchema(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("VerifySchema() error = %v, want connection refused", err)
	}
}

func TestDocumentBackend_WriteFailureKeepsStoreDirty(t *testing.T) {
	api := newFakeObjectAPI()
	api.putErr = errors.New("throttled")
	b := NewDocumentBackend(api, "bucket")

	s := NewStore()
	_ = s.Set("a", 1.0, false)
	if _, err := s.Flush(context.Background(), b, nil); err == nil {
		t.Fatal("Flush() error = nil with failing backend")
	}
	if !s.Altered() {
		t.Fatal("store clean after failed document write")
	}
}

func TestNewS3Client(t *testing.T) {
	client := NewS3Client(S3Options{Endpoint: "http://localhost:9000", UsePathStyle: true})
	if client == nil {
		t.Fatal("NewS3Client() = nil")
	}
	if got := client.Options().Region; got != "us-east-1" {
		t.Fatalf("Region = %q, want us-east-1", got)
	}
	if got := aws.ToString(client.Options().BaseEndpoint); got != "http://localhost:9000" {
		t.Fatalf("BaseEndpoint = %q", got)
	}
}
