package oss

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	aliyun "github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// ErrObjectNotFound marks a delete against a missing object. The adapter's
// retry predicate treats it as success.
var ErrObjectNotFound = errors.New("object not found")

// Client is the external object-store contract: upload a buffer, delete a
// stored object, test connectivity.
type Client interface {
	Upload(ctx context.Context, path string, buf []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	TestConnection(ctx context.Context) error
}

// AliyunClient implements Client against Aliyun OSS.
type AliyunClient struct {
	bucket     *aliyun.Bucket
	client     *aliyun.Client
	bucketName string
}

type AliyunConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Region          string
}

func NewAliyunClient(cfg AliyunConfig) (*AliyunClient, error) {
	endpoint := fmt.Sprintf("https://%s.aliyuncs.com", cfg.Region)
	cli, err := aliyun.New(endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss client: %w", err)
	}
	bucket, err := cli.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %q: %w", cfg.Bucket, err)
	}
	return &AliyunClient{bucket: bucket, client: cli, bucketName: cfg.Bucket}, nil
}

func (c *AliyunClient) Upload(ctx context.Context, path string, buf []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.bucket.PutObject(path, bytes.NewReader(buf), aliyun.ContentType(contentType))
}

func (c *AliyunClient) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.bucket.DeleteObject(path)
	if isAliyunNotFound(err) {
		return ErrObjectNotFound
	}
	return err
}

func (c *AliyunClient) TestConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.client.GetBucketInfo(c.bucketName)
	return err
}

func isAliyunNotFound(err error) bool {
	var svcErr aliyun.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode == 404
	}
	return false
}
