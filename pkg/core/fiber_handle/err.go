package fiber_handle

import (
	"errors"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"

	"github.com/gofiber/fiber/v2"
)

func ErrHandler(ctx *fiber.Ctx, err error) error {

	var e *fiber.Error
	if errors.As(err, &e) {
		return ctx.Status(e.Code).SendString(e.Message)
	}

	cError := errorc.ParseError(err)
	code := errorc.ErrorCodeUnknown.Code
	if cError.ErrorCode != nil {
		code = cError.Code
	}

	return ctx.Status(200).JSON(fiber.Map{"status": code, "message": cError.Brief(), "errData": cError})
}
