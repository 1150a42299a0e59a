// utils/archive.go
package utils

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var archiveClient *s3.Client
var archiveBucket string

// InitArchive configures the S3-compatible transcript archive. Archiving is
// optional: with no ARCHIVE_BUCKET set, ArchiveTranscript becomes a no-op.
func InitArchive() error {
	archiveBucket = os.Getenv("ARCHIVE_BUCKET")
	if archiveBucket == "" {
		log.Println("[Archive] ARCHIVE_BUCKET not set, transcript archiving disabled")
		return nil
	}

	endpoint := os.Getenv("ARCHIVE_ENDPOINT")
	accessKeyID := os.Getenv("ARCHIVE_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("ARCHIVE_ACCESS_KEY_SECRET")

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(getenvDefault("ARCHIVE_REGION", "auto")),
	}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, accessKeySecret, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		return fmt.Errorf("failed to load archive config: %w", err)
	}

	archiveClient = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return nil
}

// ArchiveTranscript uploads a raw transcript payload under the given key.
// Best effort: callers log the error and move on.
func ArchiveTranscript(ctx context.Context, key, body string) error {
	if archiveClient == nil {
		return nil
	}

	_, err := archiveClient.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(archiveBucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload transcript: %w", err)
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
