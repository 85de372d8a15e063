package service

import (
	"context"
	"fmt"
	"os/exec"
	"path"
	"strings"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
)

const (
	defaultCertName  = "cert.pem"
	defaultKeyName   = "key.pem"
	defaultChainName = "ca-chain.pem"
)

// DeployBundle 推送到目标的证书文件
type DeployBundle struct {
	CommonName  string
	SANs        []string
	CertPem     string
	KeyPem      string
	ChainPem    string
	Fingerprint string
}

// LineWriter 传输过程中的日志输出
type LineWriter func(level model.LogLevel, msg string)

// Transport 部署传输通道，按 Connect、Push、Reload、Verify、Close 的顺序调用
type Transport interface {
	Connect(ctx context.Context, out LineWriter) error
	Push(ctx context.Context, bundle *DeployBundle, out LineWriter) error
	Reload(ctx context.Context, bundle *DeployBundle, out LineWriter) error
	Verify(ctx context.Context, bundle *DeployBundle, out LineWriter) error
	Close() error
}

// TransportFactory 按目标类型打开传输通道
type TransportFactory interface {
	Open(target *DeployTarget) (Transport, error)
}

// DeployTarget 部署目标，Name 为空表示请求中直接携带的描述
type DeployTarget struct {
	Name string
	Spec config.DeployTargetConfig
}

func (t *DeployTarget) Kind() model.TargetKind {
	return model.TargetKind(t.Spec.Kind)
}

// Descriptor 主机/容器描述，写入部署记录
func (t *DeployTarget) Descriptor() string {
	s := t.Spec
	switch t.Kind() {
	case model.TargetKindLocal:
		return s.Path
	case model.TargetKindContainer:
		return s.Container + ":" + s.Path
	case model.TargetKindSSH:
		d := fmt.Sprintf("%s@%s:%d", s.Username, s.Host, sshPort(s.Port))
		if s.Container != "" {
			d += "/" + s.Container
		}
		return d + ":" + s.Path
	case model.TargetKindOSS:
		return s.Bucket + "/" + strings.Trim(s.Prefix, "/")
	case model.TargetKindAliyunCAS:
		return strings.Join(s.Domains, ",")
	default:
		return ""
	}
}

func (t *DeployTarget) CertName() string  { return orDefault(t.Spec.CertName, defaultCertName) }
func (t *DeployTarget) KeyName() string   { return orDefault(t.Spec.KeyName, defaultKeyName) }
func (t *DeployTarget) ChainName() string { return orDefault(t.Spec.ChainName, defaultChainName) }

// Files 文件名到内容，私钥权限为 0600
func (t *DeployTarget) Files(bundle *DeployBundle) []DeployFile {
	return []DeployFile{
		{Name: t.CertName(), Content: []byte(bundle.CertPem), Mode: 0644},
		{Name: t.KeyName(), Content: []byte(bundle.KeyPem), Mode: 0600},
		{Name: t.ChainName(), Content: []byte(bundle.ChainPem), Mode: 0644},
	}
}

// DeployFile 待写入的单个文件
type DeployFile struct {
	Name    string
	Content []byte
	Mode    uint32
}

// Validate 检查各类型的必填项
func (t *DeployTarget) Validate() error {
	eb := errorc.NewErrorBuilder("DeployTarget")
	s := t.Spec
	switch t.Kind() {
	case model.TargetKindLocal:
		if s.Path == "" {
			return eb.BadRequest("本机部署需要配置 path")
		}
	case model.TargetKindContainer:
		if s.Container == "" || s.Path == "" {
			return eb.BadRequest("容器部署需要配置 container 和 path")
		}
	case model.TargetKindSSH:
		if s.Host == "" || s.Username == "" || s.Path == "" {
			return eb.BadRequest("SSH 部署需要配置 host、username 和 path")
		}
		if s.Password == "" && s.PrivateKey == "" {
			return eb.BadRequest("SSH 部署需要配置密码或私钥")
		}
	case model.TargetKindOSS:
		// 凭证和 bucket 可回退到全局 oss 配置
	case model.TargetKindAliyunCAS:
		if s.AccessKeyID == "" || s.AccessKeySecret == "" {
			return eb.BadRequest("阿里云证书服务需要配置 access-key 和 access-secret")
		}
	default:
		return eb.BadRequest("不支持的部署类型: " + s.Kind)
	}
	return nil
}

// DefaultTransportFactory 生产环境的传输通道
type DefaultTransportFactory struct {
	proxy config.ProxyConfig
	oss   config.OssConfig
	log   *logger.Log
	err   *errorc.ErrorBuilder
}

func NewTransportFactory(proxy config.ProxyConfig, oss config.OssConfig, log *logger.Log) *DefaultTransportFactory {
	return &DefaultTransportFactory{
		proxy: proxy,
		oss:   oss,
		log:   log.WithEntryName("TransportFactory"),
		err:   errorc.NewErrorBuilder("TransportFactory"),
	}
}

func (f *DefaultTransportFactory) Open(target *DeployTarget) (Transport, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	switch target.Kind() {
	case model.TargetKindLocal:
		return newLocalTransport(target, f.log), nil
	case model.TargetKindContainer:
		return newContainerTransport(target, f.log), nil
	case model.TargetKindSSH:
		return newSSHTransport(target, f.proxy, f.log), nil
	case model.TargetKindOSS:
		return newOSSTransport(target, f.oss, f.log), nil
	case model.TargetKindAliyunCAS:
		return newCASTransport(target, f.proxy, f.log), nil
	default:
		return nil, f.err.BadRequest("不支持的部署类型: " + target.Spec.Kind)
	}
}

// runCommand 执行本机命令，返回合并输出
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		if out != "" {
			return out, fmt.Errorf("命令执行失败: %w: %s", err, out)
		}
		return out, fmt.Errorf("命令执行失败: %w", err)
	}
	return out, nil
}

func joinPath(dir, name string) string {
	return path.Join(dir, name)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func sshPort(port int) int {
	if port == 0 {
		return 22
	}
	return port
}

// shellQuote 单引号转义，用于拼接远端命令
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
