package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const directoryContentType = "application/x-directory"

// MinIOClient implements the destination store on top of MinIO/S3.
// Containers are key prefixes ending in "/" and materialized by an empty marker object.
type MinIOClient struct {
	client     *minio.Client
	bucketName string
}

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string // e.g., "localhost:9000"
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinIOClient creates a new MinIO storage client, creating the bucket if needed.
func NewMinIOClient(ctx context.Context, cfg MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinIOClient{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// ListChildren lists the direct children of a container.
func (m *MinIOClient) ListChildren(ctx context.Context, parentID string, filter Filter) ([]Entry, error) {
	prefix := parentID
	if filter.Name != "" {
		// Narrow the listing server-side; exact matching happens below.
		prefix += filter.Name
	}

	var entries []Entry
	for obj := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, toAPIError("list", obj.Err)
		}
		e, ok := entryFromKey(parentID, obj.Key)
		if !ok || !filter.match(e) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CreateContainer writes the marker object of a new container and returns its ID.
func (m *MinIOClient) CreateContainer(ctx context.Context, name, parentID string) (string, error) {
	key, err := ContainerKey(parentID, name)
	if err != nil {
		return "", err
	}
	_, err = m.client.PutObject(ctx, m.bucketName, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: directoryContentType,
	})
	if err != nil {
		return "", toAPIError("create container", err)
	}
	return key, nil
}

// CreateObject stores content under meta.ParentID.
func (m *MinIOClient) CreateObject(ctx context.Context, meta ObjectMeta, content io.Reader) (Object, error) {
	key, err := ChildKey(meta.ParentID, meta.Name)
	if err != nil {
		return Object{}, err
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := m.client.PutObject(ctx, m.bucketName, key, content, objectSize(meta), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, toAPIError("create object", err)
	}

	return Object{
		ID:          info.Key,
		Name:        meta.Name,
		ContentType: contentType,
		Link:        m.link(info.Key),
	}, nil
}

// objectSize returns the size passed to PutObject. An unknown size (-1)
// makes minio-go buffer the upload in multipart chunks.
func objectSize(meta ObjectMeta) int64 {
	if meta.Size > 0 {
		return meta.Size
	}
	return -1
}

func (m *MinIOClient) link(key string) string {
	endpoint := m.client.EndpointURL()
	return strings.TrimRight(endpoint.String(), "/") + "/" + m.bucketName + "/" + key
}

func toAPIError(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	return wrapError(op, resp.StatusCode, resp.Code, err)
}
