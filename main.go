package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xsxdot/aio-pki/app"
	"github.com/xsxdot/aio-pki/base"
	"github.com/xsxdot/aio-pki/pkg/core/start"
	"github.com/xsxdot/aio-pki/pkg/lock"
	"github.com/xsxdot/aio-pki/pkg/notifier"
	"github.com/xsxdot/aio-pki/pkg/scheduler"
	"github.com/xsxdot/aio-pki/router"
	"github.com/xsxdot/aio-pki/system/pki"
)

func main() {
	env, filename := getBaseInfo()

	file, err := os.ReadFile(filename)
	if err != nil {
		panic(fmt.Sprintf("读取配置文件失败,因为：%v", err))
	}

	configures := start.NewConfigures(file, env)
	base.Configures = configures
	base.Logger = configures.Logger
	base.ENV = env
	base.AdminAuth = configures.AdminAuth

	base.DB = configures.EnableDB()
	if base.DB != nil {
		// 执行数据库迁移
		if err := pki.AutoMigrate(base.DB, base.Logger); err != nil {
			configures.Logger.Panic(fmt.Sprintf("数据库迁移失败: %v", err))
		}
	}

	base.RDB = configures.EnableRedis()
	base.Cache = configures.EnableCache(base.RDB)
	if locker := configures.EnableLocker(base.RDB); locker != nil {
		base.LockManager = lock.NewRedisLockManager(locker, configures.Config.AppName+":lock:", base.Logger)
	} else {
		base.LockManager = lock.NewMemoryLockManager()
	}
	base.Notifier = notifier.NewNotifier(configures.Config.Notify, base.Logger)

	base.Scheduler = scheduler.NewScheduler(base.LockManager, scheduler.DefaultSchedulerConfig(), base.Logger)

	// 创建应用组合根
	appRoot := app.NewApp()

	// 注册证书自动续期、过期扫描与 CRL 刷新任务
	if err := appRoot.PkiModule.RegisterTasks(base.Scheduler); err != nil {
		configures.Logger.Panic(fmt.Sprintf("注册证书中心定时任务失败: %v", err))
	}
	if err := base.Scheduler.Start(); err != nil {
		configures.Logger.Panic(fmt.Sprintf("启动调度器失败: %v", err))
	}

	// 创建 Fiber 应用
	fiberApp := app.GetApp()

	// 注册路由
	router.Register(appRoot, fiberApp)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		base.Logger.Info("收到退出信号，正在停止服务...")
		if err := fiberApp.Shutdown(); err != nil {
			base.Logger.WithErr(err).Error("停止 HTTP 服务失败")
		}
	}()

	if err := fiberApp.Listen(fmt.Sprintf(":%d", configures.Config.Port)); err != nil {
		base.Logger.WithErr(err).Error("HTTP 服务异常退出")
	}

	if err := base.Scheduler.Stop(); err != nil {
		base.Logger.WithErr(err).Error("停止调度器失败")
	}
	appRoot.Shutdown()
	if err := base.LockManager.Close(); err != nil {
		base.Logger.WithErr(err).Error("关闭锁管理器失败")
	}
	base.Logger.Info("服务已停止")
}

func getBaseInfo() (string, string) {
	// 定义命令行参数
	env := flag.String("env", "dev", "环境配置 (dev, prod, test等)")
	configFile := flag.String("config", "", "配置文件路径，默认为 ./resources/{env}.yaml")

	// 解析命令行参数
	flag.Parse()

	// 如果没有指定配置文件路径，则使用默认路径
	var filename string
	if *configFile == "" {
		getwd, err := os.Getwd()
		if err != nil {
			panic(fmt.Sprintf("获取当前文件位置失败,因为：%v", err))
		}
		filename = getwd + "/resources/" + *env + ".yaml"
	} else {
		filename = *configFile
	}
	return *env, filename
}
