package app

import (
	"context"
	"sync"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/lock"
	"github.com/xsxdot/aio-pki/pkg/notifier"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"

	"github.com/go-redis/cache/v9"
)

// Options 应用层依赖，由模块根按配置组装
type Options struct {
	Store       dao.Store
	Config      config.PkiConfig
	LockManager lock.LockManager
	Live        service.LiveChannel
	Transports  service.TransportFactory
	Cache       *cache.Cache // 可选
	Notifier    notifier.Notifier
	Log         *logger.Log
}

// App 证书中心应用层
// 负责组合/调度 Service，实现签发、续期、吊销、部署等业务流程
type App struct {
	store dao.Store

	// Services
	Crypto     *service.CryptoBackend
	Allocator  *service.AllocatorService
	Audit      *service.AuditService
	KeySeal    *service.KeySealService
	Transports service.TransportFactory
	Live       service.LiveChannel

	locks    lock.LockManager
	cache    *cache.Cache
	notifier notifier.Notifier
	cfg      config.PkiConfig
	now      func() time.Time

	deploys sync.WaitGroup

	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewApp(opts Options) *App {
	log := opts.Log
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithEntryName("PkiApp")

	n := opts.Notifier
	if n == nil {
		n = notifier.NoopNotifier{}
	}
	live := opts.Live
	if live == nil {
		live = service.NewMemoryLiveChannel(log)
	}
	locks := opts.LockManager
	if locks == nil {
		locks = lock.NewMemoryLockManager()
	}

	a := &App{
		store:      opts.Store,
		Allocator:  service.NewAllocatorService(log),
		KeySeal:    service.NewKeySealService(opts.Config.KeyEncryptionSalt, log),
		Transports: opts.Transports,
		Live:       live,
		locks:      locks,
		cache:      opts.Cache,
		notifier:   n,
		cfg:        opts.Config,
		now:        time.Now,
		log:        log,
		err:        errorc.NewErrorBuilder("PkiApp"),
	}
	// 服务读取 a.now，替换时钟后签发和审计时间同步变化
	clock := func() time.Time { return a.now() }
	a.Crypto = service.NewCryptoBackend(opts.Config.BaseURL, clock, log)
	a.Audit = service.NewAuditService(clock, log)
	return a
}

// Store 对外暴露持久化入口，供模块迁移和测试使用
func (a *App) Store() dao.Store {
	return a.store
}

// Wait 等待进行中的异步部署结束
func (a *App) Wait() {
	a.deploys.Wait()
}

// cached 通过 go-redis/cache 读取，未配置缓存时直接加载
func (a *App) cached(ctx context.Context, key string, ttl time.Duration, dst interface{}, load func() (interface{}, error)) error {
	if a.cache == nil {
		v, err := load()
		if err != nil {
			return err
		}
		return assign(dst, v)
	}
	return a.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: dst,
		TTL:   ttl,
		Do: func(*cache.Item) (interface{}, error) {
			return load()
		},
	})
}

func (a *App) evict(ctx context.Context, key string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Delete(ctx, key); err != nil && !errorc.IsNotFound(err) {
		a.log.WithErr(err).WithField("key", key).Warn("清除缓存失败")
	}
}

func assign(dst, v interface{}) error {
	switch d := dst.(type) {
	case *string:
		*d = v.(string)
	case *[]byte:
		*d = v.([]byte)
	default:
		return errorc.New("不支持的缓存类型", nil)
	}
	return nil
}
