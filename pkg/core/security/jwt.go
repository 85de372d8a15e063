package security

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const SuperAdminRole = "SuperAdmin"

type JwtClient struct {
	secret     []byte
	expireTime time.Duration
}

func NewJwtClient(secret []byte, expireTime time.Duration) *JwtClient {
	if expireTime <= 0 {
		expireTime = 24 * time.Hour
	}
	return &JwtClient{
		secret:     secret,
		expireTime: expireTime,
	}
}

func (c *JwtClient) CreateToken(claims *AdminClaims) (string, int64, error) {
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(c.expireTime))
	claims.IssuedAt = jwt.NewNumericDate(time.Now())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedString, err := token.SignedString(c.secret)
	return signedString, claims.ExpiresAt.Unix(), err
}

func (c *JwtClient) ParseToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AdminClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func (c *JwtClient) SaveToContext(ctx *fiber.Ctx, claims *AdminClaims) {
	ctx.Locals("user_id", claims.ID)
	if claims.Account != "" {
		ctx.Locals("account", claims.Account)
	}
	if len(claims.AdminType) > 0 {
		ctx.Locals("roles", claims.AdminType)
	}

	for _, s := range claims.AdminType {
		if s == SuperAdminRole {
			ctx.Locals("is_super", true)
			break
		}
	}

	userCtx := ctx.UserContext()
	userCtx = context.WithValue(userCtx, AdminKey, claims)
	userCtx = WithPrincipal(userCtx, Principal{Actor: claims.Account, SourceIP: ctx.IP()})
	ctx.SetUserContext(userCtx)
}

func (c *JwtClient) ValidateRoles(ctx *fiber.Ctx, requiredRoles []string) error {
	if len(requiredRoles) == 0 {
		return nil
	}

	isSuper, _ := ctx.Locals("is_super").(bool)
	if isSuper {
		return nil
	}

	userRoles, _ := ctx.Locals("roles").([]string)
	for _, required := range requiredRoles {
		hasRole := false
		for _, userRole := range userRoles {
			if required == userRole {
				hasRole = true
				break
			}
		}
		if !hasRole {
			return fiber.ErrForbidden
		}
	}
	return nil
}
