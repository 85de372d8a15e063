package security

import (
	"context"

	"github.com/xsxdot/aio-pki/pkg/core/consts"
)

// SystemActor 定时任务等无人值守操作的审计主体
const SystemActor = "system"

// Principal 审计记录中的操作主体
type Principal struct {
	Actor    string
	SourceIP string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, consts.PrincipalKey, p)
}

// PrincipalFromContext 未携带主体时视为系统操作
func PrincipalFromContext(ctx context.Context) Principal {
	if ctx != nil {
		if p, ok := ctx.Value(consts.PrincipalKey).(Principal); ok && p.Actor != "" {
			return p
		}
	}
	return Principal{Actor: SystemActor}
}
