package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
)

// deleteBatch is the DeleteObjects per-request key limit.
const deleteBatch = 1000

type S3Storage struct {
	client     *s3.Client
	sts        *sts.Client
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	endpoint   string
}

// NewS3 creates a new S3Storage instance using AWS SDK v2
func NewS3(ctx context.Context, cfg config.RemoteConfig) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := normalizeEndpoint(cfg.CustomEndpoint())
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		client:     client,
		sts:        sts.NewFromConfig(awsCfg),
		uploader:   s3manager.NewUploader(client),
		downloader: s3manager.NewDownloader(client),
		bucket:     cfg.Bucket,
		endpoint:   endpoint,
	}, nil
}

// Upload uploads a local file to S3
func (s *S3Storage) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}

// Download writes the object to localPath via a temp file.
func (s *S3Storage) Download(ctx context.Context, key, localPath string) (retErr error) {
	tmpPath := localPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if retErr != nil {
			file.Close()
			os.Remove(tmpPath)
		}
	}()

	_, err = s.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%w: s3://%s/%s", domain.ErrNotFound, s.bucket, key)
		}
		return fmt.Errorf("failed to download %s from S3: %w", key, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return os.Rename(tmpPath, localPath)
}

// ListPrefixes returns the names of the "directories" directly below prefix.
func (s *S3Storage) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	parent := dirPrefix(prefix)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(parent),
		Delimiter: aws.String("/"),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 prefixes: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), parent), "/")
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// List returns all objects with the given prefix
func (s *S3Storage) List(ctx context.Context, prefix string) ([]domain.RemoteObject, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []domain.RemoteObject
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, domain.RemoteObject{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// DeletePrefix removes every object under prefix/.
func (s *S3Storage) DeletePrefix(ctx context.Context, prefix string) error {
	objects, err := s.List(ctx, dirPrefix(prefix))
	if err != nil {
		return err
	}

	for start := 0; start < len(objects); start += deleteBatch {
		end := min(start+deleteBatch, len(objects))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(obj.Key)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete from S3: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects under %s, first %s: %s",
				len(out.Errors), prefix, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

// Identity reports the caller ARN. S3-compatible endpoints have no STS, so for
// them reachability of the bucket is checked instead.
func (s *S3Storage) Identity(ctx context.Context) (string, error) {
	if s.endpoint != "" {
		if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
			return "", fmt.Errorf("bucket %s not reachable at %s: %w", s.bucket, s.endpoint, err)
		}
		return fmt.Sprintf("bucket %s at %s", s.bucket, s.endpoint), nil
	}

	out, err := s.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to verify AWS credentials: %w", err)
	}
	return aws.ToString(out.Arn), nil
}

// dirPrefix returns prefix with exactly one trailing slash, or "" for the bucket root.
func dirPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "https://" + endpoint
}
