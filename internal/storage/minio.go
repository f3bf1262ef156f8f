package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aihub/policy-assistant/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ObjectClient MinIOMirror用到的对象存储操作
type ObjectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

// MinIOMirror 将索引产物镜像到对象存储
type MinIOMirror struct {
	client ObjectClient
	bucket string
	prefix string
	logger *zap.Logger
}

// NewMinIOClient 按配置创建MinIO客户端
func NewMinIOClient(cfg config.ObjectStorageConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

// NewMinIOMirror 创建镜像并确保bucket存在
func NewMinIOMirror(ctx context.Context, client ObjectClient, bucket, prefix string, logger *zap.Logger) (*MinIOMirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bucket == "" {
		return nil, fmt.Errorf("minio bucket not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			resp := minio.ToErrorResponse(err)
			if resp.Code != "BucketAlreadyOwnedByYou" && resp.Code != "BucketAlreadyExists" {
				return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		logger.Info("minio bucket ready", zap.String("bucket", bucket))
	}

	return &MinIOMirror{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

func (m *MinIOMirror) objectName(name string) string {
	return path.Join(m.prefix, name)
}

// Upload 上传本地产物
func (m *MinIOMirror) Upload(ctx context.Context, name, localPath string) error {
	info, err := m.client.FPutObject(ctx, m.bucket, m.objectName(name), localPath, minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	m.logger.Debug("index artifact uploaded",
		zap.String("object", m.objectName(name)),
		zap.Int64("size", info.Size))
	return nil
}

// Download 下载产物到本地，对象不存在时返回false
func (m *MinIOMirror) Download(ctx context.Context, name, localPath string) (bool, error) {
	err := m.client.FGetObject(ctx, m.bucket, m.objectName(name), localPath, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("download %s: %w", name, err)
	}
	return true, nil
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}
