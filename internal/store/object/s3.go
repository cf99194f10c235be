// Package object provides an S3-compatible blob store adapter. Paired with
// the relational metadata store it forms the hybrid backend: records in
// Postgres, payloads in a bucket.
package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"datavault/internal/store"
)

// Options configures the S3 blob store. Endpoint switches to path-style
// addressing for S3-compatible stores (MinIO etc.).
type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Blobs stores each payload as one object under a uuid key.
type Blobs struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ store.BlobStore = (*Blobs)(nil)

// New builds the S3 client and verifies the bucket is reachable.
func New(ctx context.Context, opts Options) (*Blobs, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	b := &Blobs{client: client, bucket: opts.Bucket, prefix: opts.Prefix}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(opts.Bucket)}); err != nil {
		return nil, fmt.Errorf("%w: head bucket %q: %v", store.ErrUnavailable, opts.Bucket, err)
	}
	return b, nil
}

func (b *Blobs) objectKey(key string) string {
	if b.prefix != "" {
		return b.prefix + key
	}
	return key
}

func (b *Blobs) Put(ctx context.Context, data []byte) (store.BlobRef, error) {
	key := uuid.NewString()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return store.BlobRef{}, fmt.Errorf("s3 put: %w", err)
	}
	return store.BlobRef{Key: key, ByteLength: int64(len(data))}, nil
}

func (b *Blobs) Get(ctx context.Context, ref store.BlobRef) ([]byte, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(ref.Key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %q: %w", ref.Key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %q: %w", ref.Key, err)
	}
	if int64(len(data)) != ref.ByteLength {
		return nil, fmt.Errorf("%w: object %s holds %d bytes, expected %d",
			store.ErrCorruptBlob, ref.Key, len(data), ref.ByteLength)
	}
	return data, nil
}

func (b *Blobs) Delete(ctx context.Context, ref store.BlobRef) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(ref.Key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %q: %w", ref.Key, err)
	}
	return nil
}

func (b *Blobs) List(ctx context.Context) ([]store.BlobRef, error) {
	var refs []store.BlobRef
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if b.prefix != "" {
				key = key[len(b.prefix):]
			}
			refs = append(refs, store.BlobRef{
				Key:        key,
				ByteLength: aws.ToInt64(obj.Size),
			})
		}
	}
	return refs, nil
}
