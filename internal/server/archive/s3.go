// Package archive uploads exports of the audit chain to S3-compatible
// object storage (MinIO in development).
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/tontineledger/internal/cryptox"
	sc "github.com/dmitrijs2005/tontineledger/internal/server/config"
	"github.com/google/uuid"
)

// ObjectStore is the subset of *s3.Client used here.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter writes the audit chain as JSON lines.
type Exporter interface {
	Export(ctx context.Context, w io.Writer) (int, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) ObjectStore {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Result describes one uploaded export.
type Result struct {
	Bucket string
	Key    string
	Events int
	SHA256 string
}

type Uploader struct {
	store  ObjectStore
	bucket string
	now    func() time.Time
}

func NewUploader(store ObjectStore, bucket string) *Uploader {
	return &Uploader{store: store, bucket: bucket, now: time.Now}
}

// NewS3Uploader builds an uploader for the bucket and endpoint in cfg using
// static credentials.
func NewS3Uploader(ctx context.Context, cfg *sc.Config) (*Uploader, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		o.UsePathStyle = true
	})
	return NewUploader(client, cfg.S3Bucket), nil
}

// ObjectKey returns a date-partitioned, unique key for an export taken at t.
func ObjectKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("audit/%d/%02d/%02d/%s.jsonl", t.Year(), t.Month(), t.Day(), uuid.New())
}

// Upload exports the chain into memory and stores it as one object. The
// object carries the event count and the SHA-256 of its body as metadata.
func (u *Uploader) Upload(ctx context.Context, exp Exporter) (*Result, error) {
	var buf bytes.Buffer
	n, err := exp.Export(ctx, &buf)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	res := &Result{
		Bucket: u.bucket,
		Key:    ObjectKey(u.now()),
		Events: n,
		SHA256: cryptox.SHA256Hex(buf.Bytes()),
	}
	_, err = u.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(res.Bucket),
		Key:         aws.String(res.Key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"events": strconv.Itoa(n),
			"sha256": res.SHA256,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", res.Key, err)
	}
	return res, nil
}
