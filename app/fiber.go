package app

import (
	"github.com/xsxdot/aio-pki/base"
	"github.com/xsxdot/aio-pki/pkg/core/start"

	"github.com/gofiber/fiber/v2"
)

// GetApp 创建 Fiber 应用，接口崩溃时通过 base.Notifier 告警
func GetApp() *fiber.App {
	return start.GetApp(base.Notifier)
}
