package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"StoryboardStudio-server/logger"
	"StoryboardStudio-server/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// MinIOArtifactStore 生成的图片/视频上传到 MinIO，分镜中保存预签名 URL
type MinIOArtifactStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	log    *logrus.Entry

	bucketMu    sync.Mutex
	bucketReady bool
}

type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration
}

func NewMinIOArtifactStore(o MinIOOptions) (*MinIOArtifactStore, error) {
	client, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: o.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化失败: %w", err)
	}
	expiry := o.URLExpiry
	if expiry <= 0 {
		expiry = 72 * time.Hour
	}
	return &MinIOArtifactStore{
		client: client,
		bucket: o.Bucket,
		expiry: expiry,
		log:    logger.Get("oss"),
	}, nil
}

// ensureBucket Bucket 不存在则创建；成功后不再检查
func (m *MinIOArtifactStore) ensureBucket(ctx context.Context) error {
	m.bucketMu.Lock()
	defer m.bucketMu.Unlock()
	if m.bucketReady {
		return nil
	}
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("创建 Bucket 失败: %w", err)
		}
		m.log.Infof("Bucket '%s' 已创建", m.bucket)
	}
	m.bucketReady = true
	return nil
}

func (m *MinIOArtifactStore) Save(ctx context.Context, key string, a models.Artifact) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", err
	}
	objectName := key + extensionFor(a.MimeType)
	_, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(a.Data), int64(len(a.Data)), minio.PutObjectOptions{
		ContentType: a.MimeType,
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}

	presignedURL, err := m.client.PresignedGetObject(ctx, m.bucket, objectName, m.expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	m.log.WithFields(logrus.Fields{"object": objectName, "bytes": len(a.Data)}).Info("文件已上传")
	return presignedURL.String(), nil
}

// Load 支持 data URI（用户上传的参考图）和本 bucket 的对象 URL
func (m *MinIOArtifactStore) Load(ctx context.Context, ref string) (models.Artifact, error) {
	if models.IsDataURI(ref) {
		return models.ParseDataURI(ref)
	}
	objectName, err := m.objectName(ref)
	if err != nil {
		return models.Artifact{}, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return models.Artifact{}, fmt.Errorf("读取 MinIO 对象失败: %w", err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		return models.Artifact{}, fmt.Errorf("读取 MinIO 对象信息失败: %w", err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("下载 MinIO 对象失败: %w", err)
	}
	return models.Artifact{MimeType: info.ContentType, Data: data}, nil
}

func (m *MinIOArtifactStore) objectName(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse artifact url: %w", err)
	}
	prefix := "/" + m.bucket + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", fmt.Errorf("artifact %s is not in bucket %s", ref, m.bucket)
	}
	return strings.TrimPrefix(u.Path, prefix), nil
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	default:
		return ""
	}
}
