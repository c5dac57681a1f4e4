package photcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultS3Prefix is the key prefix used when S3Config.Prefix is empty.
const DefaultS3Prefix = "forcedphot/cache/"

// S3Config configures an S3Store.
//
// Authentication follows the AWS SDK v2 default chain unless explicit keys
// are given. For S3-compatible stores (MinIO, Wasabi) set Endpoint and
// usually ForcePathStyle.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Validate checks that required configuration is present.
func (c *S3Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("s3 cache: bucket is required")
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return errors.New("s3 cache: access key id and secret access key must be provided together")
	}
	return nil
}

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps one JSON object per fingerprint in a bucket, so a cache can
// be shared between machines.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds an S3-backed store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 cache: load aws config: %w", err)
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newS3StoreWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3StoreWithClient(client s3API, bucket, prefix string) *S3Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultS3Prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(fingerprint string) string {
	return s.prefix + fingerprint + ".json"
}

func (s *S3Store) Load(ctx context.Context, fingerprint string) (*Entry, error) {
	if err := ValidateFingerprint(fingerprint); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fingerprint)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 cache: get %s: %w", fingerprint, err)
	}
	defer func() { _ = out.Body.Close() }()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 cache: read %s: %w", fingerprint, err)
	}
	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, fmt.Errorf("s3 cache: parse %s: %w", fingerprint, err)
	}
	return &entry, nil
}

func (s *S3Store) Save(ctx context.Context, entry *Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("s3 cache: marshal entry: %w", err)
	}
	size := int64(len(b))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(entry.Fingerprint)),
		Body:          bytes.NewReader(b),
		ContentLength: &size,
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 cache: put %s: %w", entry.Fingerprint, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]Entry, error) {
	var (
		out   []Entry
		token *string
	)
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 cache: list: %w", err)
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			e, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
			if err != nil {
				continue
			}
			out = append(out, *e)
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].FetchedAt.After(out[j].FetchedAt)
	})
	return out, nil
}

func (s *S3Store) Delete(ctx context.Context, fingerprint string) error {
	if err := ValidateFingerprint(fingerprint); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fingerprint)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("s3 cache: delete %s: %w", fingerprint, err)
	}
	return nil
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (s *S3Store) Close() error { return nil }

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
