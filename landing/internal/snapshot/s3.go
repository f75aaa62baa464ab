package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hazyhaar/lander/horosafe"
)

// S3Config locates the snapshot object in S3 or an S3-compatible store.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
	Region string `yaml:"region"`
	// Endpoint is set for S3-compatible services (MinIO, R2, ...).
	Endpoint string `yaml:"endpoint"`
	// Static credentials. Leave empty to use the default AWS chain.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	// CacheControl is sent with every put so CDNs in front of the bucket
	// expire the document in step with the splitter.
	CacheControl string `yaml:"cache_control"`
}

// S3Store publishes the snapshot as a single object.
type S3Store struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3Store builds an S3 client from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("snapshot: s3 bucket is required")
	}
	if cfg.Key == "" {
		cfg.Key = "lander/snapshot.json"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "max-age=60"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		})
	}
	return &S3Store{client: s3.NewFromConfig(awsCfg, s3Opts...), cfg: cfg}, nil
}

// Publish implements Publisher.
func (s *S3Store) Publish(ctx context.Context, snap *Snapshot) error {
	data, err := Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(s.cfg.Key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String(s.cfg.CacheControl),
	})
	if err != nil {
		return fmt.Errorf("snapshot: s3 put %s/%s: %w", s.cfg.Bucket, s.cfg.Key, err)
	}
	return nil
}

// Load implements Source.
func (s *S3Store) Load(ctx context.Context) (*Snapshot, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("snapshot: s3 get %s/%s: %w", s.cfg.Bucket, s.cfg.Key, err)
	}
	defer resp.Body.Close()
	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("snapshot: s3 read: %w", err)
	}
	return Parse(data)
}
