package pki

import (
	controller "github.com/xsxdot/aio-pki/system/pki/external/http"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 注册证书中心组件的所有 HTTP 路由
// 此函数在 pki 包内，可以访问 Module 的私有字段 internalApp
func RegisterRoutes(m *Module, api, admin fiber.Router) {
	pkiController := controller.NewPkiController(m.internalApp)
	// CRL、OCSP、CA 链等公开接口
	pkiController.RegisterPublicRoutes(api)
	// 后台管理接口
	pkiController.RegisterRoutes(admin)
}
