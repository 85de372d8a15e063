package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestDeployTarget_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    config.DeployTargetConfig
		wantErr bool
	}{
		{name: "本机目录", spec: config.DeployTargetConfig{Kind: "local", Path: "/etc/pg"}},
		{name: "本机缺少目录", spec: config.DeployTargetConfig{Kind: "local"}, wantErr: true},
		{name: "容器缺少容器名", spec: config.DeployTargetConfig{Kind: "container", Path: "/certs"}, wantErr: true},
		{name: "SSH 缺少凭证", spec: config.DeployTargetConfig{Kind: "ssh", Host: "h", Username: "u", Path: "/p"}, wantErr: true},
		{name: "SSH 私钥", spec: config.DeployTargetConfig{Kind: "ssh", Host: "h", Username: "u", Path: "/p", PrivateKey: "k"}},
		{name: "OSS 使用全局凭证", spec: config.DeployTargetConfig{Kind: "oss"}},
		{name: "CAS 缺少凭证", spec: config.DeployTargetConfig{Kind: "aliyun_cas"}, wantErr: true},
		{name: "未知类型", spec: config.DeployTargetConfig{Kind: "ftp"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &DeployTarget{Spec: tt.spec}
			err := target.Validate()
			if tt.wantErr {
				assert.True(t, errorc.IsCode(err, errorc.ErrorCodeValid))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDeployTarget_Descriptor(t *testing.T) {
	tests := []struct {
		name string
		spec config.DeployTargetConfig
		want string
	}{
		{name: "容器", spec: config.DeployTargetConfig{Kind: "container", Container: "pg", Path: "/certs"}, want: "pg:/certs"},
		{name: "SSH 默认端口", spec: config.DeployTargetConfig{Kind: "ssh", Host: "10.0.0.5", Username: "root", Path: "/certs"}, want: "root@10.0.0.5:22:/certs"},
		{name: "SSH 远端容器", spec: config.DeployTargetConfig{Kind: "ssh", Host: "h", Port: 2222, Username: "u", Container: "minio", Path: "/c"}, want: "u@h:2222/minio:/c"},
		{name: "OSS", spec: config.DeployTargetConfig{Kind: "oss", Bucket: "b", Prefix: "/certs/"}, want: "b/certs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &DeployTarget{Spec: tt.spec}
			assert.Equal(t, tt.want, target.Descriptor())
		})
	}
}

func TestLocalTransport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pg")
	marker := filepath.Join(dir, "reloaded")
	target := &DeployTarget{Spec: config.DeployTargetConfig{
		Kind:          "local",
		Path:          dir,
		ReloadCommand: "touch " + marker,
	}}

	factory := NewTransportFactory(config.ProxyConfig{}, config.OssConfig{}, logger.GetLogger())
	transport, err := factory.Open(target)
	require.NoError(t, err)
	defer transport.Close()

	var lines []string
	out := func(level model.LogLevel, msg string) { lines = append(lines, msg) }
	bundle := &DeployBundle{CommonName: "db.internal", CertPem: "CERT", KeyPem: "KEY", ChainPem: "CHAIN"}

	ctx := context.Background()
	require.NoError(t, transport.Connect(ctx, out))
	require.NoError(t, transport.Push(ctx, bundle, out))
	require.NoError(t, transport.Reload(ctx, bundle, out))
	require.NoError(t, transport.Verify(ctx, bundle, out))

	key, err := os.Stat(filepath.Join(dir, "key.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), key.Mode().Perm())

	chain, err := os.ReadFile(filepath.Join(dir, "ca-chain.pem"))
	require.NoError(t, err)
	assert.Equal(t, "CHAIN", string(chain))

	_, err = os.Stat(marker)
	assert.NoError(t, err, "重载命令已执行")
	assert.NotEmpty(t, lines)
}

func TestLocalTransport_VerifyMismatch(t *testing.T) {
	dir := t.TempDir()
	transport := newLocalTransport(&DeployTarget{Spec: config.DeployTargetConfig{Kind: "local", Path: dir}}, logger.GetLogger())
	out := func(model.LogLevel, string) {}
	ctx := context.Background()

	require.NoError(t, transport.Push(ctx, &DeployBundle{CertPem: "OLD"}, out))
	err := transport.Verify(ctx, &DeployBundle{CertPem: "NEW"}, out)
	assert.True(t, errorc.IsCode(err, errorc.ErrorCodeDeployment))
}

func TestLocalTransport_ReloadFailure(t *testing.T) {
	transport := newLocalTransport(&DeployTarget{Spec: config.DeployTargetConfig{Kind: "local", Path: t.TempDir(), ReloadCommand: "exit 3"}}, logger.GetLogger())
	err := transport.Reload(context.Background(), &DeployBundle{}, func(model.LogLevel, string) {})
	assert.True(t, errorc.IsCode(err, errorc.ErrorCodeDeployment))
}

func TestUniqueCertName(t *testing.T) {
	name := uniqueCertName("*.cdn.example.com")
	assert.Regexp(t, `^--cdn-example-com-\d+$`, name)
}

func TestMemoryLiveChannel(t *testing.T) {
	ch := NewMemoryLiveChannel(logger.GetLogger())
	ctx := context.Background()

	sub, err := ch.Subscribe(ctx, "op1")
	require.NoError(t, err)

	require.NoError(t, ch.Publish(ctx, "op1", &LiveMessage{Line: &model.DeployLogLine{Seq: 1}}))
	require.NoError(t, ch.Publish(ctx, "other", &LiveMessage{Line: &model.DeployLogLine{Seq: 9}}))
	require.NoError(t, ch.Publish(ctx, "op1", &LiveMessage{Status: model.DeployStatusCompleted}))

	first := <-sub.C()
	assert.Equal(t, 1, first.Line.Seq)
	second := <-sub.C()
	assert.True(t, second.Terminal())

	require.NoError(t, sub.Close())
	_, ok := <-sub.C()
	assert.False(t, ok, "关闭后通道关闭")
	assert.NoError(t, sub.Close(), "重复关闭无副作用")
}

func TestHostKeyCallback(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	other, err := ssh.NewPublicKey(otherPub)
	require.NoError(t, err)

	fingerprint := ssh.FingerprintSHA256(key)
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.12"), Port: 22}

	tests := []struct {
		name    string
		pinned  string
		key     ssh.PublicKey
		wantErr bool
	}{
		{name: "未配置指纹不校验", pinned: "", key: other},
		{name: "指纹一致", pinned: fingerprint, key: key},
		{name: "省略前缀", pinned: strings.TrimPrefix(fingerprint, "SHA256:"), key: key},
		{name: "指纹不一致", pinned: fingerprint, key: other, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hostKeyCallback(tt.pinned)("10.0.0.12:22", addr, tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
