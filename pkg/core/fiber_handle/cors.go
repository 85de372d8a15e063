package fiber_handle

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// Cors 下载证书包和 CRL 时前端需要读取 Content-Disposition
func Cors() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,Last-Event-ID",
		ExposeHeaders: "Authorization,Content-Disposition,X-Total-Count",
		MaxAge:        1800,
	})
}
