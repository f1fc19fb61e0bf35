package server

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3ContentStore implements the ContentStore interface using AWS S3.
// Objects are keyed directly by blob id.
type S3ContentStore struct {
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	bucketName string
}

// NewS3ContentStore creates a new S3 content store.
func NewS3ContentStore(region, bucketName string) (*S3ContentStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}

	return &S3ContentStore{
		s3Client:   s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucketName: bucketName,
	}, nil
}

// Exists checks whether content is stored for a blob id.
func (s *S3ContentStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(id),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, storeErr("head content", err)
	}
	return true, nil
}

// Write streams r into S3. The upload manager consumes the reader in
// parts as data arrives, so the payload is never held in memory whole,
// and a reader error aborts the multipart upload instead of leaving a
// truncated object behind.
func (s *S3ContentStore) Write(ctx context.Context, id, contentType string, r io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(id),
		ContentType: aws.String(contentType),
		Body:        r,
	})
	if err != nil {
		return storeErr("upload content", err)
	}
	return nil
}

// OpenRead returns a stream over the stored content and its size.
func (s *S3ContentStore) OpenRead(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	output, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(id),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, fmt.Errorf("%w: content %s", ErrNotFound, id)
		}
		return nil, 0, storeErr("get content", err)
	}
	return output.Body, aws.Int64Value(output.ContentLength), nil
}

// Delete removes the stored content. S3 deletes are idempotent, so
// absence is checked first to keep the contract's distinct not-found
// failure.
func (s *S3ContentStore) Delete(ctx context.Context, id string) error {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: content %s", ErrNotFound, id)
	}

	_, err = s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(id),
	})
	if err != nil {
		return storeErr("delete content", err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
