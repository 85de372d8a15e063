package dao

import (
	"context"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/mvc"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
)

// Store 证书中心的持久化入口，gorm 与内存两种实现
type Store interface {
	Authorities() AuthorityRepository
	Certificates() CertificateRepository
	Crls() CrlRepository
	AuditEvents() AuditEventRepository
	DeployLogs() DeployLogRepository
	// Transaction fn 返回错误时其中的所有写入都会回滚
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type AuthorityRepository interface {
	Create(ctx context.Context, authority *model.CertificateAuthority) error
	FindById(ctx context.Context, id int64) (*model.CertificateAuthority, error)
	FindByName(ctx context.Context, name string) (*model.CertificateAuthority, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
	List(ctx context.Context) ([]*model.CertificateAuthority, error)
	ListChildren(ctx context.Context, parentID int64) ([]*model.CertificateAuthority, error)
	// MarkRevoked 只允许 active -> revoked，否则返回 Conflict
	MarkRevoked(ctx context.Context, id int64, reason model.RevocationReason, at time.Time) error
	// IncrementSerial 原子地加一并返回加一前的值
	IncrementSerial(ctx context.Context, id int64) (int64, error)
	// IncrementCrlNumber 原子地加一并返回加一前的值
	IncrementCrlNumber(ctx context.Context, id int64) (int64, error)
	CountByStatus(ctx context.Context) (map[model.AuthorityStatus]int64, error)
}

// CertificateQuery 证书列表筛选条件，零值字段不参与筛选
type CertificateQuery struct {
	AuthorityID int64
	Status      model.CertificateStatus
	Purpose     string
	Keyword     string // 通用名称模糊匹配
}

type CertificateRepository interface {
	Create(ctx context.Context, cert *model.ManagedCertificate) error
	FindById(ctx context.Context, id int64) (*model.ManagedCertificate, error)
	FindBySerial(ctx context.Context, authorityID, serial int64) (*model.ManagedCertificate, error)
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
	// TransitionStatus 仅当当前状态为 from 时更新，否则返回 Conflict（记录不存在时返回 NotFound）
	TransitionStatus(ctx context.Context, id int64, from model.CertificateStatus, patch CertificatePatch) error
	Update(ctx context.Context, id int64, patch CertificatePatch) error
	ListByAuthority(ctx context.Context, authorityID int64, status model.CertificateStatus) ([]*model.ManagedCertificate, error)
	ListByStatus(ctx context.Context, status model.CertificateStatus) ([]*model.ManagedCertificate, error)
	FindPage(ctx context.Context, query CertificateQuery, page *mvc.Page) ([]*model.ManagedCertificate, int64, error)
	CountByStatus(ctx context.Context) (map[model.CertificateStatus]int64, error)
	// CountActiveExpiringBefore 统计 not_after 早于 before 的有效证书
	CountActiveExpiringBefore(ctx context.Context, before time.Time) (int64, error)
}

type CrlRepository interface {
	Create(ctx context.Context, crl *model.CertificateRevocationList) error
	FindLatest(ctx context.Context, authorityID int64) (*model.CertificateRevocationList, error)
	ListByAuthority(ctx context.Context, authorityID int64, limit int) ([]*model.CertificateRevocationList, error)
}

// AuditQuery 审计事件筛选条件
type AuditQuery struct {
	CertificateID *int64
	AuthorityID   *int64
	EventType     *model.AuditEventType
	Limit         int
}

type AuditEventRepository interface {
	Append(ctx context.Context, event *model.CertificateAuditEvent) error
	// List 按时间倒序
	List(ctx context.Context, query AuditQuery) ([]*model.CertificateAuditEvent, error)
}

type DeployLogRepository interface {
	Create(ctx context.Context, log *model.CertDeploymentLog) error
	FindByOperationId(ctx context.Context, operationID string) (*model.CertDeploymentLog, error)
	AppendLine(ctx context.Context, line *model.DeployLogLine) error
	// ListLines 返回 seq 大于 afterSeq 的日志行，按 seq 升序
	ListLines(ctx context.Context, operationID string, afterSeq int) ([]model.DeployLogLine, error)
	// Finish 只允许 running -> completed/failed，否则返回 Conflict
	Finish(ctx context.Context, operationID string, status model.DeployStatus, errMsg string, at time.Time) error
	// List certificateID 为 0 时列出全部，按开始时间倒序
	List(ctx context.Context, certificateID int64, limit int) ([]*model.CertDeploymentLog, error)
}

const DefaultListLimit = 100

func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}
