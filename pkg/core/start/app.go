package start

import (
	"fmt"

	"github.com/xsxdot/aio-pki/pkg/core/fiber_handle"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/util"
	"github.com/xsxdot/aio-pki/pkg/notifier"

	"github.com/gofiber/fiber/v2"
	recover2 "github.com/gofiber/fiber/v2/middleware/recover"
)

func GetApp(n notifier.Notifier) *fiber.App {
	app := fiber.New(
		fiber.Config{
			BodyLimit:    10 * 1024 * 1024,
			ErrorHandler: fiber_handle.ErrHandler,
		})
	app.Use(fiber_handle.Cors())
	app.Use(recover2.New(recover2.Config{
		Next:             nil,
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			ctx := util.Context(c)
			logger.GetLogger().WithTrace(ctx).WithField("path", c.Path()).Errorf("请求崩溃: %+v", e)
			if n != nil {
				_ = n.Send(ctx, &notifier.Notification{
					Title:   "接口崩溃",
					Content: fmt.Sprintf("url：%s崩溃了。%+v", c.Path(), e),
					Level:   notifier.NotificationLevelError,
				})
			}
		},
	}))
	app.Use(fiber_handle.HealthCheck(fiber_handle.HealthCheckConfig{Path: "/health"}))
	app.Use(fiber_handle.NewTraceID())
	return app
}
