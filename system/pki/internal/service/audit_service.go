package service

import (
	"context"
	"time"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/model/common"
	"github.com/xsxdot/aio-pki/pkg/core/security"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
)

// AuditEntry 一条待记录的审计事件，Err 非空时记为失败
type AuditEntry struct {
	CertificateID *int64
	AuthorityID   *int64
	EventType     model.AuditEventType
	Description   string
	Metadata      common.JSON
	Err           error
}

// AuditService 审计记录器，操作主体从 context 中获取
type AuditService struct {
	now func() time.Time
	log *logger.Log
}

func NewAuditService(now func() time.Time, log *logger.Log) *AuditService {
	if now == nil {
		now = time.Now
	}
	return &AuditService{now: now, log: log.WithEntryName("AuditService")}
}

// Record 追加审计事件；写入失败只记日志，不影响业务结果
func (s *AuditService) Record(ctx context.Context, repo dao.AuditEventRepository, entry AuditEntry) {
	principal := security.PrincipalFromContext(ctx)

	event := &model.CertificateAuditEvent{
		CertificateID: entry.CertificateID,
		AuthorityID:   entry.AuthorityID,
		EventType:     entry.EventType,
		Description:   entry.Description,
		Actor:         principal.Actor,
		SourceIP:      principal.SourceIP,
		Metadata:      entry.Metadata,
		Success:       entry.Err == nil,
		Timestamp:     s.now(),
	}
	if entry.Err != nil {
		event.ErrorMessage = errorc.ParseError(entry.Err).Brief()
	}

	if err := repo.Append(ctx, event); err != nil {
		s.log.WithTrace(ctx).WithErr(err).WithFields(map[string]interface{}{
			"event_type":  event.EventName(),
			"description": event.Description,
		}).Error("写入审计事件失败")
	}
}

// Int64Ptr 审计事件中可选 ID 的便捷写法
func Int64Ptr(v int64) *int64 {
	return &v
}
