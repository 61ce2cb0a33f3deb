package services

import (
	"bytes"
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PayloadArchive stores rejected webhook payloads so malformed events can be
// investigated after the provider has given up redelivering them.
type PayloadArchive interface {
	StorePayload(ctx context.Context, objectName string, payload []byte) error
	EnsureBucketExists(ctx context.Context) error
}

type minioArchive struct {
	client *minio.Client
	bucket string
}

func NewMinioArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (PayloadArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &minioArchive{client: client, bucket: bucket}, nil
}

func (m *minioArchive) StorePayload(ctx context.Context, objectName string, payload []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (m *minioArchive) EnsureBucketExists(ctx context.Context) error {
	found, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !found {
		return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	}
	return nil
}
