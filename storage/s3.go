package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config holds the connection settings for s3:// outputs. Empty fields fall
// back to the default AWS credential chain and region resolution.
type S3Config struct {
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

// PutObjectAPI is the part of the S3 client the sink uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads outputs to S3. The output is fully encoded in memory before
// the upload starts.
type S3Sink struct {
	Client PutObjectAPI
}

// NewS3Sink builds an S3 client from cfg. A custom endpoint switches to
// path-style addressing so MinIO and similar servers work.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{Client: client}, nil
}

func (s *S3Sink) Put(ctx context.Context, dest string, encode EncodeFunc) error {
	bucket, key, ok, err := ParseS3URL(dest)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q is not an s3 URL: %w", dest, ErrInvalidDestination)
	}

	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		return fmt.Errorf("%s: %w: %w", dest, ErrEncoding, err)
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := s.Client.PutObject(ctx, in); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("upload %s: %s: %s: %w", dest, apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
		}
		return fmt.Errorf("upload %s: %w", dest, err)
	}
	return nil
}
