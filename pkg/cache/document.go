package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the subset of *s3.Client used by DocumentBackend.
type ObjectAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// document is the stored form of one section.
type document struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

// DocumentBackend stores each section as its own JSON document in an
// S3-compatible bucket. The object ETag is reported as the section ID.
type DocumentBackend struct {
	client ObjectAPI
	bucket string
	prefix string
}

// DocumentBackendOption configures DocumentBackend behavior.
type DocumentBackendOption func(*DocumentBackend)

// WithDocumentPrefix sets the key prefix of section documents.
// Default: "cache/".
func WithDocumentPrefix(prefix string) DocumentBackendOption {
	return func(b *DocumentBackend) {
		b.prefix = prefix
	}
}

// NewDocumentBackend creates a document backend over client and bucket.
func NewDocumentBackend(client ObjectAPI, bucket string, opts ...DocumentBackendOption) *DocumentBackend {
	b := &DocumentBackend{
		client: client,
		bucket: bucket,
		prefix: "cache/",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *DocumentBackend) key(name string) string {
	return b.prefix + name + ".json"
}

// VerifySchema checks that the bucket is reachable.
func (b *DocumentBackend) VerifySchema(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return backendError("document", "verify", err)
}

// ReadAll lists and decodes every section document under the prefix.
func (b *DocumentBackend) ReadAll(ctx context.Context) ([]Section, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})

	var sections []Section
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, backendError("document", "list", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			sec, err := b.readOne(ctx, key)
			if err != nil {
				return nil, err
			}
			sections = append(sections, sec)
		}
	}
	return sections, nil
}

func (b *DocumentBackend) readOne(ctx context.Context, key string) (Section, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Section{}, backendError("document", "get "+key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return Section{}, backendError("document", "get "+key, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Section{}, backendError("document", "decode "+key, err)
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(strings.TrimPrefix(key, b.prefix), ".json")
	}
	return Section{Name: doc.Name, Data: doc.Data, ID: aws.ToString(out.ETag)}, nil
}

// WriteAll puts one document per section. The first failing section aborts
// the write; the store keeps its dirty flags and retries the full set.
func (b *DocumentBackend) WriteAll(ctx context.Context, sections []Section) error {
	for _, sec := range sections {
		raw, err := json.Marshal(document{Name: sec.Name, Data: sec.Data})
		if err != nil {
			return backendError("document", "encode "+sec.Name, err)
		}

		_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(b.key(sec.Name)),
			Body:        bytes.NewReader(raw),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return backendError("document", "put "+sec.Name, err)
		}
	}
	return nil
}

// Close is a no-op.
func (b *DocumentBackend) Close() error {
	return nil
}

// S3Options configures the client built by NewS3Client.
type S3Options struct {
	// Region is the bucket region. Default: "us-east-1".
	Region string

	// Endpoint overrides the service endpoint for S3-compatible stores.
	Endpoint string

	// AccessKeyID and SecretAccessKey are static credentials. When empty the
	// client sends anonymous requests.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle addresses buckets as path segments instead of subdomains.
	UsePathStyle bool
}

// NewS3Client builds an S3 client from static options.
func NewS3Client(opts S3Options) *s3.Client {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	var creds aws.CredentialsProvider = aws.AnonymousCredentials{}
	if opts.AccessKeyID != "" {
		key, secret := opts.AccessKeyID, opts.SecretAccessKey
		creds = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     key,
				SecretAccessKey: secret,
				Source:          "servermanager",
			}, nil
		})
	}

	return s3.New(s3.Options{
		Region:       region,
		Credentials:  creds,
		UsePathStyle: opts.UsePathStyle,
	}, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
}
