// Package archive writes ingested transaction batches to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"stablewatch/internal/core"
)

// ErrEmptyBatch is returned when there is nothing to archive.
var ErrEmptyBatch = errors.New("empty batch")

// Archiver stores a batch of transactions and returns the object key.
type Archiver interface {
	Store(ctx context.Context, txs []core.Transaction) (key string, err error)
}

// Putter is the subset of *s3.Client used by S3Archiver.
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type S3Archiver struct {
	client Putter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Client builds an S3 client from the default AWS credential chain, or
// from static keys when both are set. A custom endpoint switches to
// path-style addressing for S3-compatible stores.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Archiver(client Putter, cfg Config, logger *slog.Logger) *S3Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Store uploads txs as a JSON array under transactions/<first timestamp>.json.
func (a *S3Archiver) Store(ctx context.Context, txs []core.Transaction) (string, error) {
	if len(txs) == 0 {
		return "", ErrEmptyBatch
	}

	body, err := json.Marshal(txs)
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}

	key := a.Key(txs)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"transactions": fmt.Sprint(len(txs)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload batch %s: %w", key, err)
	}

	a.logger.InfoContext(ctx, "Batch archived",
		"bucket", a.bucket,
		"key", key,
		"transactions", len(txs))
	return key, nil
}

// Key returns the object key a batch is stored under.
func (a *S3Archiver) Key(txs []core.Transaction) string {
	ts := "default"
	if len(txs) > 0 && txs[0].Timestamp != "" {
		ts = txs[0].Timestamp
	}
	return a.prefix + "transactions/" + ts + ".json"
}
