package app

import (
	"context"
	"sync"
	"testing"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(lines []model.DeployLogLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Message)
	}
	return out
}

func TestApp_DeployAndWait(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-Deploy", 365)
	cert := env.issue(t, root.ID, "pg.internal")

	record, err := env.app.DeployAndWait(ctx, &DeployRequest{CertificateID: cert.ID, TargetName: "pg-primary"})
	require.NoError(t, err)

	assert.Equal(t, model.DeployStatusCompleted, record.Status)
	assert.Equal(t, model.TargetKindContainer, record.TargetKind)
	assert.Equal(t, "pg:/var/lib/postgresql/certs", record.TargetDescriptor)
	assert.Len(t, record.OperationID, 12)
	require.NotNil(t, record.CompletedAt)
	assert.Equal(t, []string{
		"连接目标 pg:/var/lib/postgresql/certs",
		"已连接 pg:/var/lib/postgresql/certs",
		"传输证书、私钥和 CA 链",
		"已写入 cert.pem",
		"重载服务",
		"校验部署结果",
		"部署完成",
	}, messages(record.Lines))
	for i, line := range record.Lines {
		assert.Equal(t, i+1, line.Seq)
	}

	require.Len(t, env.transports.pushed, 1)
	bundle := env.transports.pushed[0]
	assert.Equal(t, cert.CertificatePem, bundle.CertPem)
	assert.Equal(t, root.ChainPem, bundle.ChainPem)
	assert.Contains(t, bundle.KeyPem, "PRIVATE KEY")

	updated, err := env.app.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, "pg-primary", updated.LastDeployTarget)
	assert.NotNil(t, updated.LastDeployedAt)

	live := env.live.published(record.OperationID)
	require.Len(t, live, len(record.Lines)+1)
	last := live[len(live)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, model.DeployStatusCompleted, last.Status)

	events := env.events(t, dao.AuditQuery{CertificateID: &cert.ID, EventType: eventType(model.EventCertDeployed)})
	require.Len(t, events, 1)
	assert.Equal(t, record.OperationID, events[0].Metadata["operationId"])

	logs, err := env.app.ListDeployLogs(ctx, cert.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Zero(t, env.notifier.count())
}

func TestApp_DeployAndWait_Failure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-DeployFail", 365)
	cert := env.issue(t, root.ID, "minio.internal")
	env.transports.failAt["/etc/minio/certs"] = "reload"

	record, err := env.app.DeployAndWait(ctx, &DeployRequest{CertificateID: cert.ID, TargetName: "minio"})
	require.Error(t, err)
	assert.True(t, errorc.IsCode(err, errorc.ErrorCodeDeployment))

	require.NotNil(t, record)
	assert.Equal(t, model.DeployStatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "reload exit status 1")
	require.NotEmpty(t, record.Lines)
	lastLine := record.Lines[len(record.Lines)-1]
	assert.Equal(t, model.LogLevelError, lastLine.Level)
	assert.NotContains(t, messages(record.Lines), "校验部署结果")

	updated, err := env.app.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.LastDeployTarget)

	failed := env.events(t, dao.AuditQuery{CertificateID: &cert.ID, EventType: eventType(model.EventCertDeployFailed)})
	require.Len(t, failed, 1)
	assert.False(t, failed[0].Success)
	assert.Equal(t, 1, env.notifier.count())
}

func TestApp_DeployValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-DeployCheck", 365)
	cert := env.issue(t, root.ID, "check.internal")
	revoked := env.issue(t, root.ID, "revoked.internal")
	require.NoError(t, env.app.RevokeCertificate(ctx, revoked.ID, model.ReasonUnspecified))

	tests := []struct {
		name string
		req  *DeployRequest
		code *errorc.ErrorCode
	}{
		{"已吊销证书不能部署", &DeployRequest{CertificateID: revoked.ID, TargetName: "minio"}, errorc.ErrorCodeConflict},
		{"未知的命名目标", &DeployRequest{CertificateID: cert.ID, TargetName: "redis"}, errorc.ErrorCodeNotFound},
		{"未指定目标", &DeployRequest{CertificateID: cert.ID}, errorc.ErrorCodeValid},
		{"容器目标缺少容器名", &DeployRequest{CertificateID: cert.ID, Target: &config.DeployTargetConfig{Kind: "container", Path: "/certs"}}, errorc.ErrorCodeValid},
		{"不支持的目标类型", &DeployRequest{CertificateID: cert.ID, Target: &config.DeployTargetConfig{Kind: "ftp", Path: "/certs"}}, errorc.ErrorCodeValid},
		{"证书不存在", &DeployRequest{CertificateID: 9999, TargetName: "minio"}, errorc.ErrorCodeNotFound},
		{"临时目标不能是本机", &DeployRequest{CertificateID: cert.ID, Target: &config.DeployTargetConfig{Kind: "local", Path: "/tmp/pki-test"}}, errorc.ErrorCodeValid},
		{"临时目标携带重载命令", &DeployRequest{CertificateID: cert.ID, Target: &config.DeployTargetConfig{Kind: "container", Container: "pg", Path: "/certs", ReloadCommand: "id > /tmp/x"}}, errorc.ErrorCodeValid},
		{"临时目标携带校验命令", &DeployRequest{CertificateID: cert.ID, Target: &config.DeployTargetConfig{Kind: "ssh", Host: "10.0.0.8", Username: "root", Password: "x", Path: "/certs", VerifyCommand: "id"}}, errorc.ErrorCodeValid},
		{"临时目标携带文件属主", &DeployRequest{CertificateID: cert.ID, Target: &config.DeployTargetConfig{Kind: "container", Container: "pg", Path: "/certs", FileOwner: "postgres"}}, errorc.ErrorCodeValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.app.StartDeploy(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, errorc.IsCode(err, tt.code), "实际错误: %v", err)
		})
	}

	t.Run("临时目标", func(t *testing.T) {
		record, err := env.app.DeployAndWait(ctx, &DeployRequest{
			CertificateID: cert.ID,
			Target:        &config.DeployTargetConfig{Kind: "container", Container: "redis", Path: "/tls"},
		})
		require.NoError(t, err)
		assert.Empty(t, record.TargetName)
		assert.Equal(t, "redis:/tls", record.TargetDescriptor)

		updated, err := env.app.GetCertificate(ctx, cert.ID)
		require.NoError(t, err)
		assert.Equal(t, "redis:/tls", updated.LastDeployTarget)
	})
}

func TestApp_StartDeploy_Exclusive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-DeployLock", 365)
	cert := env.issue(t, root.ID, "lock.internal")

	gate := make(chan struct{})
	env.transports.gate = gate

	first, err := env.app.StartDeploy(ctx, &DeployRequest{CertificateID: cert.ID, TargetName: "pg-primary"})
	require.NoError(t, err)
	assert.Equal(t, model.DeployStatusRunning, first.Status)

	_, err = env.app.StartDeploy(ctx, &DeployRequest{CertificateID: cert.ID, TargetName: "pg-primary"})
	assert.True(t, errorc.IsConflict(err), "同一证书同一目标不能并发部署")

	other, err := env.app.StartDeploy(ctx, &DeployRequest{CertificateID: cert.ID, TargetName: "minio"})
	require.NoError(t, err, "不同目标可以并发部署")

	close(gate)
	for _, opID := range []string{first.OperationID, other.OperationID} {
		waitFor(t, func() bool {
			record, err := env.app.GetDeployLog(ctx, opID)
			return err == nil && record.IsTerminal()
		})
	}
	env.app.Wait()

	again, err := env.app.DeployAndWait(ctx, &DeployRequest{CertificateID: cert.ID, TargetName: "pg-primary"})
	require.NoError(t, err, "上一次部署结束后锁已释放")
	assert.Equal(t, model.DeployStatusCompleted, again.Status)
}

func TestApp_StreamDeployLog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-Stream", 365)
	cert := env.issue(t, root.ID, "stream.internal")

	gate := make(chan struct{})
	env.transports.gate = gate

	record, err := env.app.StartDeploy(ctx, &DeployRequest{CertificateID: cert.ID, TargetName: "pg-primary"})
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		received []*service.LiveMessage
	)
	done := make(chan error, 1)
	go func() {
		done <- env.app.StreamDeployLog(ctx, record.OperationID, func(msg *service.LiveMessage) error {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
			return nil
		})
	}()

	// 订阅已建立且回放完成后再放行
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 2
	})
	close(gate)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, received)
	last := received[len(received)-1]
	assert.Equal(t, model.DeployStatusCompleted, last.Status)

	seqs := make([]int, 0, len(received))
	for _, msg := range received[:len(received)-1] {
		require.NotNil(t, msg.Line)
		seqs = append(seqs, msg.Line.Seq)
	}
	for i, seq := range seqs {
		assert.Equal(t, i+1, seq, "日志行不重复不乱序")
	}

	full, err := env.app.GetDeployLog(ctx, record.OperationID)
	require.NoError(t, err)
	assert.Len(t, seqs, len(full.Lines))

	t.Run("结束后订阅只回放", func(t *testing.T) {
		var replay []*service.LiveMessage
		err := env.app.StreamDeployLog(ctx, record.OperationID, func(msg *service.LiveMessage) error {
			replay = append(replay, msg)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, replay, len(full.Lines)+1)
		assert.True(t, replay[len(replay)-1].Terminal())
	})

	t.Run("操作不存在", func(t *testing.T) {
		err := env.app.StreamDeployLog(ctx, "missing", func(*service.LiveMessage) error { return nil })
		assert.True(t, errorc.IsNotFound(err))
	})
}

func TestApp_RotateCertificate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.root(t, "Root-Rotate", 365)
	cert := env.issue(t, root.ID, "rotate.internal")

	result, err := env.app.RotateCertificate(ctx, cert.ID, DeployRequest{TargetName: "pg-primary"})
	require.NoError(t, err)
	require.NotNil(t, result.Deploy)
	assert.Equal(t, model.DeployStatusCompleted, result.Deploy.Status)
	assert.Equal(t, result.Certificate.ID, result.Deploy.CertificateID)
	assert.Equal(t, "pg-primary", result.Certificate.LastDeployTarget)

	old, err := env.app.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CertificateStatusSuperseded, old.Status)

	started := env.events(t, dao.AuditQuery{CertificateID: &cert.ID, EventType: eventType(model.EventCertRotationStarted)})
	completed := env.events(t, dao.AuditQuery{CertificateID: &cert.ID, EventType: eventType(model.EventCertRotationCompleted)})
	require.Len(t, started, 1)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Success)
}

func TestApp_DeployTargets(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PkiConfig) {
		cfg.DeployTargets["edge"] = config.DeployTargetConfig{
			Kind:     "ssh",
			Host:     "10.0.0.20",
			Username: "deploy",
			Password: "secret",
			Path:     "/etc/nginx/certs",
		}
	})

	targets := env.app.DeployTargets()
	require.Contains(t, targets, "edge")
	assert.Empty(t, targets["edge"].Password)
	assert.Equal(t, "10.0.0.20", targets["edge"].Host)
	assert.Len(t, targets, 3)
}
