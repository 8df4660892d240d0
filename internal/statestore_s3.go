package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bdlm/bedlam"
	"go.uber.org/zap"
)

var _ bedlam.StateStore = (*S3StateStore)(nil)

// s3API is the subset of *s3.Client the state store calls.
type s3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3StateStore keeps JSON encoded Objects under <prefix>/<key>.json.
type S3StateStore struct {
	client   s3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func NewS3StateStore(client s3API, bucket, prefix string) (*S3StateStore, error) {
	if client == nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeNoConnection, "s3 state store needs a client", nil)
	}
	if bucket == "" {
		return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidName, "s3 state store needs a bucket")
	}
	return &S3StateStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

func (s *S3StateStore) objectKey(key string) string {
	return path.Join(s.prefix, key+".json")
}

func (s *S3StateStore) Put(ctx context.Context, key string, obj *bedlam.Object) error {
	if obj == nil {
		return bedlam.NewConfigurationError(bedlam.ErrCodeInvalidType, "cannot store a nil object")
	}
	data, err := obj.Serialize()
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, "s3 upload", err).WithDetail("key", key)
	}
	zap.S().Debugw("state stored", "bucket", s.bucket, "key", s.objectKey(key), "bytes", len(data))
	return nil
}

func (s *S3StateStore) Get(ctx context.Context, key string) (*bedlam.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return nil, bedlam.NewStateNotFoundError(key)
		}
		return nil, bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, "s3 get", err).WithDetail("key", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, fmt.Sprintf("read %s", s.objectKey(key)), err)
	}
	return bedlam.Unserialize(data)
}

func (s *S3StateStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, "s3 delete", err).WithDetail("key", key)
	}
	return nil
}

// Close is a no-op; the S3 client holds no connection.
func (s *S3StateStore) Close() error { return nil }
