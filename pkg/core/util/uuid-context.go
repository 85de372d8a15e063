package util

import (
	"context"

	"github.com/xsxdot/aio-pki/pkg/core/consts"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func Context(c *fiber.Ctx) context.Context {

	ctx := c.UserContext()
	if ctx.Value(consts.TraceKey) == nil {
		return context.WithValue(ctx, consts.TraceKey, uuid.NewString())
	}
	return ctx
}
