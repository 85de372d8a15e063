package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sshTransport 通过 SSH/SFTP 写入远端目录，配置 container 时再复制进远端容器
type sshTransport struct {
	target *DeployTarget
	proxy  config.ProxyConfig
	client *ssh.Client
	sftp   *sftp.Client
	log    *logger.Log
	err    *errorc.ErrorBuilder
}

func newSSHTransport(target *DeployTarget, proxy config.ProxyConfig, log *logger.Log) *sshTransport {
	return &sshTransport{
		target: target,
		proxy:  proxy,
		log:    log.WithEntryName("SSHTransport"),
		err:    errorc.NewErrorBuilder("SSHTransport"),
	}
}

func (t *sshTransport) Connect(ctx context.Context, out LineWriter) error {
	spec := t.target.Spec
	addr := fmt.Sprintf("%s:%d", spec.Host, sshPort(spec.Port))
	out(model.LogLevelInfo, "连接 "+addr)

	client, err := t.dial(ctx, addr)
	if err != nil {
		return t.err.New("建立 SSH 连接失败", err).DeploymentFailure()
	}
	t.client = client

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return t.err.New("创建 SFTP 客户端失败", err).DeploymentFailure()
	}
	t.sftp = sftpClient

	if err := t.sftp.MkdirAll(t.stagingDir()); err != nil {
		return t.err.New("创建远程目录失败", err).DeploymentFailure()
	}
	if spec.Container != "" {
		if _, err := t.exec(fmt.Sprintf("docker exec -u root %s mkdir -p %s", shellQuote(spec.Container), shellQuote(spec.Path))); err != nil {
			return t.err.New("创建远端容器内目录失败", err).DeploymentFailure()
		}
	}
	out(model.LogLevelInfo, "SSH 连接成功")
	return nil
}

// dial 经 proxy 配置的拨号器建立 SSH 连接
func (t *sshTransport) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	spec := t.target.Spec

	var authMethods []ssh.AuthMethod
	if spec.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(spec.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("解析 SSH 私钥失败: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if spec.Password != "" {
		authMethods = append(authMethods, ssh.Password(spec.Password))
	}

	sshConfig := &ssh.ClientConfig{
		User:            spec.Username,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback(spec.HostKey),
		Timeout:         15 * time.Second,
	}

	conn, err := t.proxy.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("连接 SSH 服务器失败: %w", err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH 握手失败: %w", err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// hostKeyCallback 配置了 host-key 时按 SHA256 指纹校验主机公钥，未配置时不校验
func hostKeyCallback(fingerprint string) ssh.HostKeyCallback {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return ssh.InsecureIgnoreHostKey()
	}
	if !strings.HasPrefix(fingerprint, "SHA256:") {
		fingerprint = "SHA256:" + fingerprint
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		got := ssh.FingerprintSHA256(key)
		if subtle.ConstantTimeCompare([]byte(got), []byte(fingerprint)) != 1 {
			return fmt.Errorf("主机 %s 公钥指纹不匹配: %s", hostname, got)
		}
		return nil
	}
}

// stagingDir 直接部署时即目标目录，容器部署时为远端临时目录
func (t *sshTransport) stagingDir() string {
	if t.target.Spec.Container != "" {
		return "/tmp/pki-deploy"
	}
	return t.target.Spec.Path
}

func (t *sshTransport) Push(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	spec := t.target.Spec
	for _, f := range t.target.Files(bundle) {
		remote := joinPath(t.stagingDir(), f.Name)
		if err := t.upload(remote, f.Content, os.FileMode(f.Mode)); err != nil {
			return t.err.New("上传 "+f.Name+" 失败", err).DeploymentFailure()
		}

		final := remote
		if spec.Container != "" {
			final = joinPath(spec.Path, f.Name)
			cmd := fmt.Sprintf("docker cp %s %s && docker exec -u root %s chmod %o %s",
				shellQuote(remote), shellQuote(spec.Container+":"+final), shellQuote(spec.Container), f.Mode, shellQuote(final))
			if _, err := t.exec(cmd); err != nil {
				return t.err.New("复制 "+f.Name+" 到远端容器失败", err).DeploymentFailure()
			}
			_ = t.sftp.Remove(remote)
		}

		if owner := spec.FileOwner; owner != "" {
			cmd := "chown " + shellQuote(owner) + " " + shellQuote(final)
			if spec.Container != "" {
				cmd = fmt.Sprintf("docker exec -u root %s %s", shellQuote(spec.Container), cmd)
			}
			if _, err := t.exec(cmd); err != nil {
				return t.err.New("设置 "+f.Name+" 属主失败", err).DeploymentFailure()
			}
		}
		out(model.LogLevelInfo, fmt.Sprintf("已上传 %s (%d 字节)", final, len(f.Content)))
	}
	return nil
}

func (t *sshTransport) upload(remotePath string, content []byte, mode os.FileMode) error {
	file, err := t.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("创建远程文件失败: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(content); err != nil {
		return fmt.Errorf("写入远程文件失败: %w", err)
	}
	if err := t.sftp.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("设置远程文件权限失败: %w", err)
	}
	return nil
}

func (t *sshTransport) Reload(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	command := t.target.Spec.ReloadCommand
	if command == "" {
		out(model.LogLevelWarn, "未配置重载命令，跳过")
		return nil
	}
	output, err := t.exec(t.wrap(command))
	if output != "" {
		out(model.LogLevelInfo, output)
	}
	if err != nil {
		return t.err.New("执行远程重载命令失败", err).DeploymentFailure()
	}
	return nil
}

func (t *sshTransport) Verify(ctx context.Context, bundle *DeployBundle, out LineWriter) error {
	command := t.target.Spec.VerifyCommand
	if command == "" {
		command = "test -s " + shellQuote(joinPath(t.target.Spec.Path, t.target.CertName()))
	}
	output, err := t.exec(t.wrap(command))
	if output != "" {
		out(model.LogLevelInfo, output)
	}
	if err != nil {
		return t.err.New("远端校验失败", err).DeploymentFailure()
	}
	out(model.LogLevelInfo, "远端证书校验通过")
	return nil
}

// wrap 配置容器时在容器内执行
func (t *sshTransport) wrap(command string) string {
	if t.target.Spec.Container == "" {
		return command
	}
	return fmt.Sprintf("docker exec %s sh -c %s", shellQuote(t.target.Spec.Container), shellQuote(command))
}

func (t *sshTransport) exec(command string) (string, error) {
	if t.client == nil {
		return "", fmt.Errorf("SSH 未连接")
	}
	session, err := t.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("创建 SSH 会话失败: %w", err)
	}
	defer session.Close()

	output, err := session.CombinedOutput(command)
	out := strings.TrimSpace(string(output))
	if err != nil {
		return out, fmt.Errorf("命令执行失败: %w", err)
	}
	return out, nil
}

func (t *sshTransport) Close() error {
	if t.sftp != nil {
		t.sftp.Close()
	}
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}
