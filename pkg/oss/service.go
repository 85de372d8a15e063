package oss

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"
)

// AliyunService 阿里云OSS对象读写
type AliyunService struct {
	config *config.OssConfig
	client *oss.Client
	log    *logger.Log
	err    *errorc.ErrorBuilder
}

// NewAliyunService 创建阿里云OSS服务实例
func NewAliyunService(cfg *config.OssConfig) (*AliyunService, error) {
	log := logger.GetLogger().WithEntryName("AliyunOSSService")
	errBuilder := errorc.NewErrorBuilder("AliyunOSSService")

	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.Bucket == "" {
		return nil, errBuilder.New("阿里云配置不完整", nil).ValidWithCtx().ToLog(log.Entry)
	}

	provider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, "")
	ossCfg := oss.LoadDefaultConfig().
		WithCredentialsProvider(provider).
		WithRegion(cfg.Region)

	return &AliyunService{
		config: cfg,
		client: oss.NewClient(ossCfg),
		log:    log,
		err:    errBuilder,
	}, nil
}

func (s *AliyunService) Bucket() string {
	return s.config.Bucket
}

// UploadFile 上传文件
func (s *AliyunService) UploadFile(ctx context.Context, objectKey string, reader io.Reader) error {
	s.log.WithTrace(ctx).WithField("objectKey", objectKey).Info("上传文件到阿里云OSS")

	request := &oss.PutObjectRequest{
		Bucket: oss.Ptr(s.config.Bucket),
		Key:    oss.Ptr(normalizeKey(objectKey)),
		Body:   reader,
		Acl:    oss.ObjectACLPrivate,
	}

	if _, err := s.client.PutObject(ctx, request); err != nil {
		return s.err.New("上传文件到阿里云OSS失败", err).WithTraceID(ctx).ToLog(s.log.Entry)
	}
	return nil
}

// ObjectExists 检查对象是否存在，用于部署后的校验
func (s *AliyunService) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	exists, err := s.client.IsObjectExist(ctx, s.config.Bucket, normalizeKey(objectKey))
	if err != nil {
		return false, s.err.New("查询阿里云OSS对象失败", err).WithTraceID(ctx)
	}
	return exists, nil
}

// GetDownloadUrl 获取带签名的下载地址
func (s *AliyunService) GetDownloadUrl(ctx context.Context, objectKey string, expire time.Duration) (string, error) {
	if expire <= 0 {
		expire = 10 * time.Minute
	}

	request := &oss.GetObjectRequest{
		Bucket: oss.Ptr(s.config.Bucket),
		Key:    oss.Ptr(normalizeKey(objectKey)),
	}
	result, err := s.client.Presign(ctx, request, oss.PresignExpires(expire))
	if err != nil {
		return "", s.err.New("生成下载地址失败", err).WithTraceID(ctx)
	}
	return result.URL, nil
}

// normalizeKey 保证objectKey不以"/"开头
func normalizeKey(objectKey string) string {
	return strings.TrimPrefix(objectKey, "/")
}
