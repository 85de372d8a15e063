package fiber_handle

import (
	"context"

	"github.com/xsxdot/aio-pki/pkg/core/consts"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// NewTraceID 为每个请求生成 trace id，上游已经带了 X-Trace-Id 时沿用
func NewTraceID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		traceID := c.Get(consts.TraceHeaderName)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := context.WithValue(c.UserContext(), consts.TraceKey, traceID)
		c.SetUserContext(ctx)
		c.Locals(consts.TraceKey, traceID)
		c.Set(consts.TraceHeaderName, traceID)
		return c.Next()
	}
}
