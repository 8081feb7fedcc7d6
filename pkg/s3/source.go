package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MaxKeys is the largest page S3 returns for one listing request
const MaxKeys = 1000

// ErrNotFound is returned when opening a log object that does not exist
var ErrNotFound = errors.New("log object not found")

// SourceConfig selects the log objects of a bucket
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type SourceConfig struct {
	Bucket string
	Prefix string

	// StartAfter lists only keys sorting after it; log object keys start with
	// their delivery time, so this skips older deliveries without listing them
	StartAfter string

	// MaxKeys is the page size of the listing (1 to 1000)
	MaxKeys int

	Logger *slog.Logger
}

// Source lists and reads access log objects delivered to a bucket.
// Object keys are the source file identifiers.
type Source struct {
	client     *Client
	logger     *slog.Logger
	bucket     string
	prefix     string
	startAfter string
	maxKeys    int32
}

// NewSource creates a source over the log objects of cfg.Bucket
func NewSource(client *Client, cfg SourceConfig) (*Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("a bucket is required")
	}
	maxKeys := cfg.MaxKeys
	if maxKeys == 0 {
		maxKeys = MaxKeys
	}
	if maxKeys < 0 || maxKeys > MaxKeys {
		return nil, fmt.Errorf("max keys must be between 1 and %d, got %d", MaxKeys, maxKeys)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		client:     client,
		logger:     logger,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		startAfter: cfg.StartAfter,
		maxKeys:    int32(maxKeys), //nolint:gosec // bounded above
	}, nil
}

// List returns the keys of the log objects, in key order
func (s *Source) List(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(s.maxKeys),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix)
	}
	if s.startAfter != "" {
		input.StartAfter = aws.String(s.startAfter)
	}

	var keys []string
	pages := 0

	paginator := s3.NewListObjectsV2Paginator(s.client.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list log objects: bucket=%s, prefix=%s: %w", s.bucket, s.prefix, err)
		}
		pages++

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Folder placeholders hold no logs
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}

	s.logger.Debug("listed log objects",
		"bucket", s.bucket,
		"prefix", s.prefix,
		"startAfter", s.startAfter,
		"nObjects", len(keys),
		"nPages", pages)

	return keys, nil
}

// Open streams the content of one log object
func (s *Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	output, err := s.client.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("bucket=%s, key=%s: %w", s.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get log object: bucket=%s, key=%s: %w", s.bucket, key, err)
	}

	return output.Body, nil
}
