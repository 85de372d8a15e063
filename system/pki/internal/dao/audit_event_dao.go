package dao

import (
	"context"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	"gorm.io/gorm"
)

// AuditEventDao 审计事件只提供追加和查询
type AuditEventDao struct {
	db  *gorm.DB
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewAuditEventDao(db *gorm.DB, log *logger.Log) *AuditEventDao {
	return &AuditEventDao{
		db:  db,
		log: log.WithEntryName("AuditEventDao"),
		err: errorc.NewErrorBuilder("AuditEventDao"),
	}
}

func (d *AuditEventDao) Append(ctx context.Context, event *model.CertificateAuditEvent) error {
	if err := d.db.WithContext(ctx).Create(event).Error; err != nil {
		return d.err.New("写入审计事件失败", err).DB()
	}
	return nil
}

func (d *AuditEventDao) List(ctx context.Context, query AuditQuery) ([]*model.CertificateAuditEvent, error) {
	var events []*model.CertificateAuditEvent

	db := d.db.WithContext(ctx).Model(&model.CertificateAuditEvent{})
	if query.CertificateID != nil {
		db = db.Where("certificate_id = ?", *query.CertificateID)
	}
	if query.AuthorityID != nil {
		db = db.Where("authority_id = ?", *query.AuthorityID)
	}
	if query.EventType != nil {
		db = db.Where("event_type = ?", *query.EventType)
	}

	err := db.Order("timestamp DESC").Order("id DESC").Limit(NormalizeLimit(query.Limit)).Find(&events).Error
	if err != nil {
		return nil, d.err.New("查询审计事件失败", err).DB()
	}
	return events, nil
}
