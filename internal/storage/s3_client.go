package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/emberhost/panel/pkg/config"
	"github.com/emberhost/panel/pkg/logger"
)

// UploadPart identifies one uploaded part of a multipart upload
type UploadPart struct {
	ETag       string `json:"etag"`
	PartNumber int32  `json:"part_number"`
}

// S3Client wraps the object-storage operations the backup lifecycle needs:
// multipart bookkeeping and short-lived download URLs. Archives themselves
// are streamed by the daemon, never through the panel.
type S3Client struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewS3Client creates an S3 client from the panel configuration
func NewS3Client(cfg *config.Config) (*S3Client, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when the s3 backup disk is enabled")
	}

	opts := s3.Options{
		Region:       cfg.S3Region,
		UsePathStyle: cfg.S3UsePathStyle,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	client := s3.New(opts)

	logger.Info("S3: Object storage client initialized", map[string]interface{}{
		"bucket":   cfg.S3Bucket,
		"region":   cfg.S3Region,
		"endpoint": cfg.S3Endpoint,
	})

	return &S3Client{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.S3Bucket,
	}, nil
}

// Bucket returns the bucket backups are stored in
func (c *S3Client) Bucket() string {
	return c.bucket
}

// CreateMultipartUpload starts a multipart upload for the given key and
// returns its upload id.
func (c *S3Client) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	out, err := c.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}
	return aws.ToString(out.UploadId), nil
}

// ListParts returns every part uploaded so far for the given upload
func (c *S3Client) ListParts(ctx context.Context, key, uploadID string) ([]UploadPart, error) {
	var parts []UploadPart
	var marker *string

	for {
		out, err := c.client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(c.bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list upload parts: %w", err)
		}

		for _, p := range out.Parts {
			parts = append(parts, UploadPart{
				ETag:       aws.ToString(p.ETag),
				PartNumber: aws.ToInt32(p.PartNumber),
			})
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		marker = out.NextPartNumberMarker
	}

	return parts, nil
}

// AbortMultipartUpload discards a multipart upload and its parts
func (c *S3Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := c.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}

// CompleteMultipartUpload assembles the uploaded parts into the final object
func (c *S3Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []UploadPart) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		}
	}

	_, err := c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// DeleteObject removes an object from the bucket
func (c *S3Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// PresignDownload generates a time-limited GET URL for the given key. URLs
// are generated on demand and never persisted.
func (c *S3Client) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign download url: %w", err)
	}
	return req.URL, nil
}
