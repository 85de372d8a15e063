package dao

import (
	"time"

	"github.com/xsxdot/aio-pki/system/pki/internal/model"
)

// CertificatePatch 托管证书的可变字段，nil 表示不修改
type CertificatePatch struct {
	Status               *model.CertificateStatus
	RevokedAt            *time.Time
	RevocationReason     *model.RevocationReason
	ReplacedByID         *int64
	AutoRenew            *bool
	RenewBeforeDays      *int
	LastDeployTarget     *string
	LastDeployedAt       *time.Time
	LastRenewalAttemptAt *time.Time
	LastRenewalOutcome   *string
}

// Columns 转为 gorm 列更新，零值也会写入
func (p CertificatePatch) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.RevokedAt != nil {
		cols["revoked_at"] = *p.RevokedAt
	}
	if p.RevocationReason != nil {
		cols["revocation_reason"] = *p.RevocationReason
	}
	if p.ReplacedByID != nil {
		cols["replaced_by_id"] = *p.ReplacedByID
	}
	if p.AutoRenew != nil {
		cols["auto_renew"] = *p.AutoRenew
	}
	if p.RenewBeforeDays != nil {
		cols["renew_before_days"] = *p.RenewBeforeDays
	}
	if p.LastDeployTarget != nil {
		cols["last_deploy_target"] = *p.LastDeployTarget
	}
	if p.LastDeployedAt != nil {
		cols["last_deployed_at"] = *p.LastDeployedAt
	}
	if p.LastRenewalAttemptAt != nil {
		cols["last_renewal_attempt_at"] = *p.LastRenewalAttemptAt
	}
	if p.LastRenewalOutcome != nil {
		cols["last_renewal_outcome"] = *p.LastRenewalOutcome
	}
	return cols
}

// Apply 把修改写到内存中的记录
func (p CertificatePatch) Apply(c *model.ManagedCertificate) {
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.RevokedAt != nil {
		t := *p.RevokedAt
		c.RevokedAt = &t
	}
	if p.RevocationReason != nil {
		r := *p.RevocationReason
		c.RevocationReason = &r
	}
	if p.ReplacedByID != nil {
		id := *p.ReplacedByID
		c.ReplacedByID = &id
	}
	if p.AutoRenew != nil {
		c.AutoRenew = *p.AutoRenew
	}
	if p.RenewBeforeDays != nil {
		c.RenewBeforeDays = *p.RenewBeforeDays
	}
	if p.LastDeployTarget != nil {
		c.LastDeployTarget = *p.LastDeployTarget
	}
	if p.LastDeployedAt != nil {
		t := *p.LastDeployedAt
		c.LastDeployedAt = &t
	}
	if p.LastRenewalAttemptAt != nil {
		t := *p.LastRenewalAttemptAt
		c.LastRenewalAttemptAt = &t
	}
	if p.LastRenewalOutcome != nil {
		c.LastRenewalOutcome = *p.LastRenewalOutcome
	}
}
