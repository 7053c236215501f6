package objectclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	cfg "github.com/markdave123-py/studykb/internal/config"
	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/logger"
)

var _ core.ObjectClient = (*S3Client)(nil)

type S3Client struct {
	client *s3.Client
	region string
	bucket string
	log    logger.Logger
}

// LoadAWSConfig builds the shared AWS configuration from static credentials.
// Textract reuses it.
func LoadAWSConfig(ctx context.Context, c *cfg.Config) (aws.Config, error) {
	if c.AwsAccessKey == "" || c.AwsSecretKey == "" {
		return aws.Config{}, fmt.Errorf("AWS credentials not set")
	}
	if c.AwsRegion == "" {
		return aws.Config{}, fmt.Errorf("AWS_REGION not set")
	}
	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(c.AwsRegion),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AwsAccessKey, c.AwsSecretKey, ""),
		),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func NewS3Client(ctx context.Context, c *cfg.Config, log logger.Logger) (*S3Client, error) {
	if c.BucketName == "" {
		return nil, fmt.Errorf("S3 bucket name not set")
	}
	awsCfg, err := LoadAWSConfig(ctx, c)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg)
	log.Info("connected to AWS S3", logger.String("bucket", c.BucketName), logger.String("region", c.AwsRegion))

	return &S3Client{
		client: client,
		region: c.AwsRegion,
		bucket: c.BucketName,
		log:    log.Named("s3"),
	}, nil
}

// UploadFile uploads a file to S3 and returns its object URL.
func (c *S3Client) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	uploader := manager.NewUploader(c.client)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := uploader.Upload(ctxUpload, input); err != nil {
		return "", &core.StorageError{Key: key, Err: fmt.Errorf("s3 upload failed: %w", err)}
	}

	return ObjectURL(bucket, c.region, key), nil
}

func (c *S3Client) DeleteFile(ctx context.Context, bucket, key string) error {
	ctxDel, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := c.client.DeleteObject(ctxDel, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &core.StorageError{Key: key, Err: fmt.Errorf("s3 delete failed: %w", err)}
	}
	return nil
}

func (c *S3Client) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	resp, err := c.client.GetObject(ctxGet, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.getError(key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.StorageError{Key: key, Err: fmt.Errorf("read body: %w", err)}
	}
	c.log.Debug("fetched object", logger.String("key", key), logger.Int("bytes", len(body)))

	return body, nil
}

// GetObjectReader streams an object. The caller owns the returned body and
// its lifetime is bounded by ctx.
func (c *S3Client) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.getError(key, err)
	}
	return resp.Body, nil
}

func (c *S3Client) getError(key string, err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return &core.StorageError{Key: key, Err: fmt.Errorf("%w: %v", core.ErrNotFound, err)}
	}
	return &core.StorageError{Key: key, Err: fmt.Errorf("s3 get failed: %w", err)}
}
