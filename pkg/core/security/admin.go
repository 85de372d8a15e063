package security

import (
	"strings"
	"time"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

type AdminAuth struct {
	jwtClient *JwtClient
}

const AdminKey = "admin"

// 证书中心后台权限，SuperAdmin 拥有全部权限
const (
	PermPkiRead        = "admin:pki:read"
	PermPkiAuditRead   = "admin:pki:audit:read"
	PermPkiCaCreate    = "admin:pki:ca:create"
	PermPkiCaRevoke    = "admin:pki:ca:revoke"
	PermPkiCrlGenerate = "admin:pki:crl:generate"
	PermPkiCertIssue   = "admin:pki:cert:issue"
	PermPkiCertRenew   = "admin:pki:cert:renew"
	PermPkiCertRevoke  = "admin:pki:cert:revoke"
	PermPkiCertExport  = "admin:pki:cert:export"
	PermPkiCertDeploy  = "admin:pki:cert:deploy"
)

type AdminClaims struct {
	jwt.RegisteredClaims
	ID        int64    `json:"id"`
	Account   string   `json:"account,omitempty"`
	AdminType []string `json:"admin_type"`
}

func NewAdminAuth(secret []byte, expireTime time.Duration) *AdminAuth {
	return &AdminAuth{
		jwtClient: NewJwtClient(secret, expireTime),
	}
}

// CreateAdminToken 创建管理员token
func (a *AdminAuth) CreateAdminToken(claims *AdminClaims) (string, int64, error) {
	return a.jwtClient.CreateToken(claims)
}

// RequireAdminAuth 管理员权限校验中间件
func (a *AdminAuth) RequireAdminAuth(requiredRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			return errorc.New("authorization header is required", nil).NoAuth()
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		claims, err := a.jwtClient.ParseToken(token)
		if err != nil {
			return errorc.New("invalid token", err).NoAuth()
		}

		// 保存管理员信息到上下文
		a.jwtClient.SaveToContext(c, claims)

		// 超级管理员跳过权限校验，直接放行
		if IsAdminSuper(c) {
			return c.Next()
		}

		// 非超级管理员，校验具体权限
		if err := a.jwtClient.ValidateRoles(c, requiredRoles); err != nil {
			return errorc.New("permission denied", err).Forbidden()
		}
		return c.Next()
	}
}

// IsAdminSuper 判断是否为超级管理员
func IsAdminSuper(c *fiber.Ctx) bool {
	if c == nil {
		return false
	}
	isSuper, ok := c.Locals("is_super").(bool)
	if !ok {
		return false
	}
	return isSuper
}

// ParseToken 解析管理员令牌（供外部使用）
func (a *AdminAuth) ParseToken(token string) (*AdminClaims, error) {
	return a.jwtClient.ParseToken(token)
}
