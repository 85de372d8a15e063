package base

import (
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/security"
	"github.com/xsxdot/aio-pki/pkg/core/start"
	"github.com/xsxdot/aio-pki/pkg/lock"
	"github.com/xsxdot/aio-pki/pkg/notifier"
	"github.com/xsxdot/aio-pki/pkg/scheduler"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	Configures  *start.Configures
	Logger      *logger.Log
	ENV         string
	AdminAuth   *security.AdminAuth
	DB          *gorm.DB // memory 驱动时为 nil
	RDB         *redis.Client
	Cache       *cache.Cache
	LockManager lock.LockManager
	Notifier    notifier.Notifier
	Scheduler   *scheduler.Scheduler
)
