package dao

import (
	"context"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/mvc"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	"gorm.io/gorm"
)

// CrlDao CRL 数据访问层
type CrlDao struct {
	mvc.IBaseDao[model.CertificateRevocationList]
	db  *gorm.DB
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewCrlDao(db *gorm.DB, log *logger.Log) *CrlDao {
	return &CrlDao{
		IBaseDao: mvc.NewGormDao[model.CertificateRevocationList](db),
		db:       db,
		log:      log.WithEntryName("CrlDao"),
		err:      errorc.NewErrorBuilder("CrlDao"),
	}
}

func (d *CrlDao) FindLatest(ctx context.Context, authorityID int64) (*model.CertificateRevocationList, error) {
	var crl model.CertificateRevocationList
	err := d.db.WithContext(ctx).
		Where("authority_id = ?", authorityID).
		Order("crl_number DESC").
		First(&crl).Error
	if err != nil {
		return nil, d.err.New("查询最新 CRL 失败", err).DB()
	}
	return &crl, nil
}

func (d *CrlDao) ListByAuthority(ctx context.Context, authorityID int64, limit int) ([]*model.CertificateRevocationList, error) {
	var crls []*model.CertificateRevocationList
	err := d.db.WithContext(ctx).
		Where("authority_id = ?", authorityID).
		Order("crl_number DESC").
		Limit(NormalizeLimit(limit)).
		Find(&crls).Error
	if err != nil {
		return nil, d.err.New("查询 CRL 列表失败", err).DB()
	}
	return crls, nil
}
