package model

import (
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/model/common"
)

// CertificateAuditEvent 审计事件，只追加不修改
type CertificateAuditEvent struct {
	ID            int64          `gorm:"primaryKey" json:"id"`
	CertificateID *int64         `gorm:"index" json:"certificateId" comment:"相关证书"`
	AuthorityID   *int64         `gorm:"index" json:"authorityId" comment:"相关 CA"`
	EventType     AuditEventType `gorm:"not null;index" json:"eventType" comment:"事件类型"`
	Description   string         `gorm:"size:1000" json:"description" comment:"描述"`
	Actor         string         `gorm:"size:100;not null" json:"actor" comment:"操作人"`
	SourceIP      string         `gorm:"size:64" json:"sourceIp" comment:"来源地址"`
	Metadata      common.JSON    `gorm:"type:json" json:"metadata" comment:"附加信息"`
	Success       bool           `gorm:"not null" json:"success" comment:"是否成功"`
	ErrorMessage  string         `gorm:"type:text" json:"errorMessage" comment:"错误信息"`
	Timestamp     time.Time      `gorm:"not null;index" json:"timestamp" comment:"发生时间"`
}

func (CertificateAuditEvent) TableName() string {
	return "pki_audit_events"
}

func (e *CertificateAuditEvent) EventName() string {
	return e.EventType.String()
}
