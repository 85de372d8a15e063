package pki

import (
	"github.com/xsxdot/aio-pki/base"
	"github.com/xsxdot/aio-pki/pkg/lock"
	"github.com/xsxdot/aio-pki/pkg/notifier"
	"github.com/xsxdot/aio-pki/pkg/scheduler"
	"github.com/xsxdot/aio-pki/system/pki/api/client"
	"github.com/xsxdot/aio-pki/system/pki/internal/app"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao/memory"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"
)

// Module 证书中心组件模块门面（对外暴露的根对象）
// 封装了内部 app 和对外 client，只暴露需要的能力
type Module struct {
	// internalApp 内部应用实例，不对外暴露，仅供组件内部使用
	internalApp *app.App
	// Client 对外客户端，供其他组件签发和查询证书
	Client *client.PkiClient
}

// NewModule 使用 base 中已初始化的基础设施创建证书中心模块
// 未配置数据库时使用内存存储，未配置 Redis 时实时日志走进程内通道
func NewModule() *Module {
	log := base.Logger.WithEntryName("PkiModule")
	cfg := base.Configures.Config

	var store dao.Store
	if base.DB != nil {
		store = dao.NewGormStore(base.DB, log)
	} else {
		store = memory.NewStore()
	}

	var live service.LiveChannel
	if base.RDB != nil {
		live = service.NewRedisLiveChannel(base.RDB, log)
	} else {
		live = service.NewMemoryLiveChannel(log)
	}

	locks := base.LockManager
	if locks == nil {
		locks = lock.NewMemoryLockManager()
	}

	n := base.Notifier
	if n == nil {
		n = notifier.NoopNotifier{}
	}

	internalApp := app.NewApp(app.Options{
		Store:       store,
		Config:      cfg.Pki,
		LockManager: locks,
		Live:        live,
		Transports:  service.NewTransportFactory(cfg.Proxy, cfg.Oss, log),
		Cache:       base.Cache,
		Notifier:    n,
		Log:         log,
	})

	return &Module{
		internalApp: internalApp,
		Client:      client.NewPkiClient(internalApp),
	}
}

// RegisterTasks 注册自动续期、过期扫描与 CRL 刷新任务
func (m *Module) RegisterTasks(s *scheduler.Scheduler) error {
	return m.internalApp.RegisterTasks(s)
}

// Shutdown 等待进行中的部署结束
func (m *Module) Shutdown() {
	m.internalApp.Wait()
}
