package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"audubon_monitor/config"
	"audubon_monitor/models"
)

// objectPutter is the slice of the S3 client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads a copy of every written document to S3-compatible
// storage so past runs can be replayed.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Archiver creates a new S3 archiver
func NewS3Archiver(ctx context.Context, cfg config.S3Config) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// SnapshotKey names the object a document generated at t is archived under.
func (a *S3Archiver) SnapshotKey(t time.Time, runID string) string {
	name := t.UTC().Format("2006/01/02/150405")
	if runID != "" {
		name += "-" + runID
	}
	return path.Join(strings.Trim(a.prefix, "/"), name+".json")
}

// Archive uploads doc and returns the key it was stored under.
func (a *S3Archiver) Archive(ctx context.Context, doc *models.OutputDocument) (string, error) {
	data, err := Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	key := a.SnapshotKey(doc.GeneratedAt, doc.RunID)
	if err := a.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// Upload uploads data to S3 with the given key
func (a *S3Archiver) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
