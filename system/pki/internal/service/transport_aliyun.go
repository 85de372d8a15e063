package service

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	pkioss "github.com/xsxdot/aio-pki/pkg/oss"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	cas "github.com/alibabacloud-go/cas-20200407/v2/client"
	cdn "github.com/alibabacloud-go/cdn-20180510/v4/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dcdn "github.com/alibabacloud-go/dcdn-20180115/v3/client"
	"github.com/alibabacloud-go/tea/tea"
	ossv1 "github.com/aliyun/aliyun-oss-go-sdk/oss"
)

const defaultAliyunRegion = "cn-hangzhou"

// ossTransport 上传证书文件到 OSS，并为 bucket 自定义域名绑定证书
type ossTransport struct {
	target   *DeployTarget
	cfg      config.OssConfig
	service  *pkioss.AliyunService
	uploaded []string
	log      *logger.Log
	err      *errorc.ErrorBuilder
}

func newOSSTransport(target *DeployTarget, fallback config.OssConfig, log *logger.Log) *ossTransport {
	spec := target.Spec
	cfg := config.OssConfig{
		AccessKeyID:     orDefault(spec.AccessKeyID, fallback.AccessKeyID),
		AccessKeySecret: orDefault(spec.AccessKeySecret, fallback.AccessKeySecret),
		Bucket:          orDefault(spec.Bucket, fallback.Bucket),
		Region:          orDefault(orDefault(spec.Region, fallback.Region), defaultAliyunRegion),
	}
	return &ossTransport{
		target: target,
		cfg:    cfg,
		log:    log.WithEntryName("OSSTransport"),
		err:    errorc.NewErrorBuilder("OSSTransport"),
	}
}

func (t *ossTransport) Connect(ctx context.Context, out LineWriter) error {
	service, err := pkioss.NewAliyunService(&t.cfg)
	if err != nil {
		return t.err.New("创建 OSS 客户端失败", err).DeploymentFailure()
	}
	t.service = service
	out(model.LogLevelInfo, fmt.Sprintf("OSS bucket %s (%s)", t.cfg.Bucket, t.cfg.Region))
	return nil
}

func (t *ossTransport) objectKey(bundle *DeployBundle, name string) string {
	return path.Join(strings.Trim(t.target.Spec.Prefix, "/"), bundle.CommonName, name)
}

func (t *ossTransport) Push(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	t.uploaded = t.uploaded[:0]
	for _, f := range t.target.Files(bundle) {
		key := t.objectKey(bundle, f.Name)
		if err := t.service.UploadFile(ctx, key, bytes.NewReader(f.Content)); err != nil {
			return t.err.New("上传 "+f.Name+" 到 OSS 失败", err).DeploymentFailure()
		}
		t.uploaded = append(t.uploaded, key)
		out(model.LogLevelInfo, "已上传 oss://"+t.cfg.Bucket+"/"+key)
	}
	return nil
}

// Reload 为配置的自定义域名绑定新证书
func (t *ossTransport) Reload(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	domains := t.target.Spec.Domains
	if len(domains) == 0 {
		out(model.LogLevelWarn, "未配置自定义域名，跳过证书绑定")
		return nil
	}

	endpoint := fmt.Sprintf("oss-%s.aliyuncs.com", t.cfg.Region)
	client, err := ossv1.New(endpoint, t.cfg.AccessKeyID, t.cfg.AccessKeySecret)
	if err != nil {
		return t.err.New("创建 OSS 管控客户端失败", err).DeploymentFailure()
	}

	for _, domain := range domains {
		putCname := ossv1.PutBucketCname{
			Cname: domain,
			CertificateConfiguration: &ossv1.CertificateConfiguration{
				Certificate: bundle.CertPem + bundle.ChainPem,
				PrivateKey:  bundle.KeyPem,
				Force:       true,
			},
		}
		if err := client.PutBucketCnameWithCertificate(t.cfg.Bucket, putCname); err != nil {
			return t.err.New("绑定域名证书失败: "+domain, err).DeploymentFailure()
		}
		out(model.LogLevelInfo, "已绑定域名证书: "+domain)
	}
	return nil
}

func (t *ossTransport) Verify(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	for _, key := range t.uploaded {
		exists, err := t.service.ObjectExists(ctx, key)
		if err != nil {
			return t.err.New("校验 OSS 对象失败", err).DeploymentFailure()
		}
		if !exists {
			return t.err.New("OSS 对象不存在: "+key, nil).DeploymentFailure()
		}
	}
	if len(t.uploaded) > 0 {
		if url, err := t.service.GetDownloadUrl(ctx, t.uploaded[0], 10*time.Minute); err == nil {
			out(model.LogLevelInfo, "证书下载地址（10 分钟有效）: "+url)
		}
	}
	out(model.LogLevelInfo, "OSS 对象校验通过")
	return nil
}

func (t *ossTransport) Close() error {
	return nil
}

// casTransport 上传到阿里云证书服务，并部署到 CDN/DCDN 加速域名
type casTransport struct {
	target   *DeployTarget
	region   string
	proxy    config.ProxyConfig
	client   *cas.Client
	certID   int64
	certName string
	log      *logger.Log
	err      *errorc.ErrorBuilder
}

func newCASTransport(target *DeployTarget, proxy config.ProxyConfig, log *logger.Log) *casTransport {
	return &casTransport{
		target: target,
		region: orDefault(target.Spec.Region, defaultAliyunRegion),
		proxy:  proxy,
		log:    log.WithEntryName("CASTransport"),
		err:    errorc.NewErrorBuilder("CASTransport"),
	}
}

func (t *casTransport) config(endpoint string) *openapi.Config {
	cfg := &openapi.Config{
		AccessKeyId:     tea.String(t.target.Spec.AccessKeyID),
		AccessKeySecret: tea.String(t.target.Spec.AccessKeySecret),
		Endpoint:        tea.String(endpoint),
	}
	if socks := t.proxy.Socks5URL(); socks != "" {
		cfg.Socks5Proxy = tea.String(socks)
	}
	return cfg
}

func (t *casTransport) Connect(ctx context.Context, out LineWriter) error {
	client, err := cas.NewClient(t.config(fmt.Sprintf("cas.%s.aliyuncs.com", t.region)))
	if err != nil {
		return t.err.New("创建阿里云 CAS 客户端失败", err).DeploymentFailure()
	}
	t.client = client
	out(model.LogLevelInfo, "阿里云证书服务 "+t.region)
	return nil
}

func (t *casTransport) Push(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	t.certName = uniqueCertName(bundle.CommonName)
	resp, err := t.client.UploadUserCertificate(&cas.UploadUserCertificateRequest{
		Name: tea.String(t.certName),
		Cert: tea.String(bundle.CertPem + bundle.ChainPem),
		Key:  tea.String(bundle.KeyPem),
	})
	if err != nil {
		return t.err.New("上传证书到阿里云 CAS 失败", err).DeploymentFailure()
	}
	t.certID = tea.Int64Value(resp.Body.CertId)
	out(model.LogLevelInfo, fmt.Sprintf("已上传证书 %s (id=%d)", t.certName, t.certID))
	return nil
}

// Reload 依次尝试 CDN 和 DCDN，域名两者都不存在时失败
func (t *casTransport) Reload(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	if len(t.target.Spec.Domains) == 0 {
		out(model.LogLevelWarn, "未配置加速域名，仅上传证书")
		return nil
	}

	cdnClient, err := cdn.NewClient(t.config("cdn.aliyuncs.com"))
	if err != nil {
		return t.err.New("创建 CDN 客户端失败", err).DeploymentFailure()
	}
	dcdnClient, err := dcdn.NewClient(t.config("dcdn.aliyuncs.com"))
	if err != nil {
		return t.err.New("创建 DCDN 客户端失败", err).DeploymentFailure()
	}

	for _, domain := range t.target.Spec.Domains {
		if _, err := cdnClient.DescribeCdnDomainDetail(&cdn.DescribeCdnDomainDetailRequest{DomainName: tea.String(domain)}); err == nil {
			_, err = cdnClient.SetCdnDomainSSLCertificate(&cdn.SetCdnDomainSSLCertificateRequest{
				DomainName:  tea.String(domain),
				CertName:    tea.String(t.certName),
				CertType:    tea.String("upload"),
				SSLProtocol: tea.String("on"),
				SSLPub:      tea.String(bundle.CertPem + bundle.ChainPem),
				SSLPri:      tea.String(bundle.KeyPem),
			})
			if err != nil {
				return t.err.New("CDN 证书部署失败: "+domain, err).DeploymentFailure()
			}
			out(model.LogLevelInfo, "CDN 证书已更新: "+domain)
			continue
		}

		if _, err := dcdnClient.DescribeDcdnDomainDetail(&dcdn.DescribeDcdnDomainDetailRequest{DomainName: tea.String(domain)}); err != nil {
			return t.err.New("域名既不是 CDN 也不是 DCDN 加速域名: "+domain, err).DeploymentFailure()
		}
		_, err := dcdnClient.SetDcdnDomainSSLCertificate(&dcdn.SetDcdnDomainSSLCertificateRequest{
			DomainName:  tea.String(domain),
			CertName:    tea.String(t.certName),
			CertType:    tea.String("upload"),
			SSLProtocol: tea.String("on"),
			SSLPub:      tea.String(bundle.CertPem + bundle.ChainPem),
			SSLPri:      tea.String(bundle.KeyPem),
		})
		if err != nil {
			return t.err.New("DCDN 证书部署失败: "+domain, err).DeploymentFailure()
		}
		out(model.LogLevelInfo, "DCDN 证书已更新: "+domain)
	}
	return nil
}

func (t *casTransport) Verify(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	resp, err := t.client.GetUserCertificateDetail(&cas.GetUserCertificateDetailRequest{CertId: tea.Int64(t.certID)})
	if err != nil {
		return t.err.New("查询 CAS 证书失败", err).DeploymentFailure()
	}
	if tea.Int64Value(resp.Body.Id) != t.certID {
		return t.err.New("CAS 中未找到已上传的证书", nil).DeploymentFailure()
	}
	out(model.LogLevelInfo, "CAS 证书校验通过")
	return nil
}

func (t *casTransport) Close() error {
	return nil
}

// uniqueCertName 格式: <清洗后的名称>-<unix_nano>，阿里云证书名称限制 100 字符
func uniqueCertName(commonName string) string {
	var sanitized strings.Builder
	for _, ch := range commonName {
		switch {
		case (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '-':
			sanitized.WriteRune(ch)
		case ch == '.' || ch == '*':
			sanitized.WriteRune('-')
		}
	}
	name := fmt.Sprintf("%s-%d", sanitized.String(), time.Now().UnixNano())
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
