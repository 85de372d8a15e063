package logger

import (
	"strings"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/consts"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"

	"github.com/gofiber/fiber/v2"
)

type Config struct {
	Logger *Log
	// LogBody 记录非 GET 请求的请求体，证书与私钥接口不要开启
	LogBody bool
}

// NewRequestLogger 记录每个请求的状态码、耗时和错误根因
func NewRequestLogger(config Config) fiber.Handler {
	log := config.Logger
	if log == nil {
		log = GetLogger()
	}
	log = log.WithEntryName("API")

	return func(c *fiber.Ctx) error {
		url := strings.SplitN(c.OriginalURL(), "?", 2)[0]
		start := time.Now()

		// Handle request, store err for logging
		err := c.Next()

		cLog := log.WithField("status", c.Response().StatusCode()).
			WithField("latency", time.Since(start).Round(time.Millisecond)).
			WithField("method", c.Method()).
			WithField("path", url).
			WithField("TraceId", c.Locals(consts.TraceKey))

		if config.LogBody && c.Method() != fiber.MethodGet {
			cLog = cLog.WithField("req", string(c.Request().Body()))
		}

		if err != nil {
			errc := errorc.ParseError(err)
			errc.ToLog(log.WithTrace(c.UserContext()).GetLogger())
			cLog = cLog.WithField("Err", errc.RootCause())
		}

		cLog.Debug("请求处理完毕")
		return err
	}
}
