package app

import (
	"github.com/xsxdot/aio-pki/system/pki"
)

// App 应用组合根，持有各组件模块
// router 只依赖这里暴露的模块，不直接访问组件内部
type App struct {
	PkiModule *pki.Module
}

// NewApp 在 base 基础设施初始化完成后创建
func NewApp() *App {
	return &App{
		PkiModule: pki.NewModule(),
	}
}

// Shutdown 等待各组件的后台任务结束
func (a *App) Shutdown() {
	a.PkiModule.Shutdown()
}
