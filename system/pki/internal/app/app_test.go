package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/lock"
	"github.com/xsxdot/aio-pki/pkg/notifier"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao/memory"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"

	"github.com/stretchr/testify/require"
)

// recordingLive 记录所有发布的消息
type recordingLive struct {
	*service.MemoryLiveChannel
	mu       sync.Mutex
	messages map[string][]*service.LiveMessage
}

func newRecordingLive() *recordingLive {
	return &recordingLive{
		MemoryLiveChannel: service.NewMemoryLiveChannel(logger.GetLogger()),
		messages:          make(map[string][]*service.LiveMessage),
	}
}

func (r *recordingLive) Publish(ctx context.Context, operationID string, msg *service.LiveMessage) error {
	r.mu.Lock()
	r.messages[operationID] = append(r.messages[operationID], msg)
	r.mu.Unlock()
	return r.MemoryLiveChannel.Publish(ctx, operationID, msg)
}

func (r *recordingLive) published(operationID string) []*service.LiveMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*service.LiveMessage(nil), r.messages[operationID]...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*notifier.Notification
}

func (n *recordingNotifier) Send(ctx context.Context, notification *notifier.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fakeTransport 按目标路径决定行为：failAt 指定失败的步骤，gate 非空时 Push 阻塞直到关闭
type fakeTransport struct {
	factory *fakeTransportFactory
	target  *service.DeployTarget
}

type fakeTransportFactory struct {
	mu     sync.Mutex
	failAt map[string]string
	gate   chan struct{}
	pushed []*service.DeployBundle
}

func newFakeTransportFactory() *fakeTransportFactory {
	return &fakeTransportFactory{failAt: make(map[string]string)}
}

func (f *fakeTransportFactory) Open(target *service.DeployTarget) (service.Transport, error) {
	return &fakeTransport{factory: f, target: target}, nil
}

func (f *fakeTransportFactory) step(target *service.DeployTarget, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt[target.Spec.Path] == step {
		return errors.New(step + " exit status 1")
	}
	return nil
}

func (t *fakeTransport) Connect(ctx context.Context, out service.LineWriter) error {
	out(model.LogLevelInfo, "已连接 "+t.target.Descriptor())
	return t.factory.step(t.target, "connect")
}

func (t *fakeTransport) Push(ctx context.Context, bundle *service.DeployBundle, out service.LineWriter) error {
	t.factory.mu.Lock()
	gate := t.factory.gate
	t.factory.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := t.factory.step(t.target, "push"); err != nil {
		return err
	}
	t.factory.mu.Lock()
	t.factory.pushed = append(t.factory.pushed, bundle)
	t.factory.mu.Unlock()
	out(model.LogLevelInfo, "已写入 "+t.target.CertName())
	return nil
}

func (t *fakeTransport) Reload(ctx context.Context, bundle *service.DeployBundle, out service.LineWriter) error {
	return t.factory.step(t.target, "reload")
}

func (t *fakeTransport) Verify(ctx context.Context, bundle *service.DeployBundle, out service.LineWriter) error {
	return t.factory.step(t.target, "verify")
}

func (t *fakeTransport) Close() error {
	return nil
}

type testEnv struct {
	app        *App
	store      *memory.Store
	live       *recordingLive
	transports *fakeTransportFactory
	notifier   *recordingNotifier
}

func newTestEnv(t *testing.T, mutate ...func(cfg *config.PkiConfig)) *testEnv {
	t.Helper()
	cfg := config.PkiConfig{
		BaseURL:       "https://pki.internal",
		DeployTimeout: 10,
		DeployTargets: map[string]config.DeployTargetConfig{
			"pg-primary": {Kind: "container", Container: "pg", Path: "/var/lib/postgresql/certs"},
			"minio":      {Kind: "local", Path: "/etc/minio/certs"},
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	env := &testEnv{
		store:      memory.NewStore(),
		live:       newRecordingLive(),
		transports: newFakeTransportFactory(),
		notifier:   &recordingNotifier{},
	}
	env.app = NewApp(Options{
		Store:       env.store,
		Config:      cfg,
		LockManager: lock.NewMemoryLockManager(),
		Live:        env.live,
		Transports:  env.transports,
		Notifier:    env.notifier,
		Log:         logger.GetLogger(),
	})
	t.Cleanup(env.app.Wait)
	return env
}

// root 创建 ECDSA 根 CA，测试中避免生成大 RSA 密钥
func (e *testEnv) root(t *testing.T, name string, days int) *model.CertificateAuthority {
	t.Helper()
	authority, err := e.app.CreateRoot(context.Background(), &CreateAuthorityRequest{
		Name:         name,
		Subject:      service.Subject{CommonName: name, Organization: "Internal", Country: "CN"},
		KeyAlgorithm: model.KeyAlgorithmECDSA,
		KeySize:      384,
		ValidityDays: days,
	})
	require.NoError(t, err)
	return authority
}

func (e *testEnv) issue(t *testing.T, authorityID int64, cn string, mutate ...func(req *IssueCertificateRequest)) *model.ManagedCertificate {
	t.Helper()
	req := &IssueCertificateRequest{
		AuthorityID:  authorityID,
		CommonName:   cn,
		SANs:         []string{"10.0.0.8"},
		Purpose:      "database",
		KeyAlgorithm: model.KeyAlgorithmECDSA,
		KeySize:      256,
		ValidityDays: 90,
	}
	for _, m := range mutate {
		m(req)
	}
	cert, err := e.app.IssueCertificate(context.Background(), req)
	require.NoError(t, err)
	return cert
}

func (e *testEnv) events(t *testing.T, query dao.AuditQuery) []*model.CertificateAuditEvent {
	t.Helper()
	if query.Limit == 0 {
		query.Limit = 1000
	}
	events, err := e.store.AuditEvents().List(context.Background(), query)
	require.NoError(t, err)
	return events
}

func eventType(t model.AuditEventType) *model.AuditEventType {
	return &t
}

// waitFor 等待异步部署结束
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}
