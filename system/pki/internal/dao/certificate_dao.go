package dao

import (
	"context"
	"time"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/mvc"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	"gorm.io/gorm"
)

// CertificateDao 托管证书数据访问层
type CertificateDao struct {
	mvc.IBaseDao[model.ManagedCertificate]
	db  *gorm.DB
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewCertificateDao(db *gorm.DB, log *logger.Log) *CertificateDao {
	return &CertificateDao{
		IBaseDao: mvc.NewGormDao[model.ManagedCertificate](db),
		db:       db,
		log:      log.WithEntryName("CertificateDao"),
		err:      errorc.NewErrorBuilder("CertificateDao"),
	}
}

func (d *CertificateDao) FindById(ctx context.Context, id int64) (*model.ManagedCertificate, error) {
	cert, err := d.IBaseDao.FindById(ctx, id)
	if err != nil {
		return nil, d.err.New("查询证书失败", err)
	}
	return cert, nil
}

func (d *CertificateDao) FindBySerial(ctx context.Context, authorityID, serial int64) (*model.ManagedCertificate, error) {
	cert, err := d.FindOneByMap(ctx, map[string]interface{}{
		"authority_id":  authorityID,
		"serial_number": serial,
	})
	if err != nil {
		return nil, d.err.New("按序列号查询证书失败", err)
	}
	return cert, nil
}

func (d *CertificateDao) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	return d.ExistsByMap(ctx, map[string]interface{}{"fingerprint": fingerprint})
}

func (d *CertificateDao) TransitionStatus(ctx context.Context, id int64, from model.CertificateStatus, patch CertificatePatch) error {
	result := d.db.WithContext(ctx).Model(&model.ManagedCertificate{}).
		Where("id = ? AND status = ?", id, from).
		Updates(patch.Columns())
	if result.Error != nil {
		d.log.WithErr(result.Error).WithField("id", id).Error("更新证书状态失败")
		return d.err.New("更新证书状态失败", result.Error).DB()
	}
	if result.RowsAffected == 0 {
		current, err := d.FindById(ctx, id)
		if err != nil {
			return err
		}
		return d.err.Conflict("证书当前状态为 " + string(current.Status) + "，不允许该操作")
	}
	return nil
}

func (d *CertificateDao) Update(ctx context.Context, id int64, patch CertificatePatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	if _, err := d.UpdateColumnsById(ctx, id, cols); err != nil {
		return d.err.New("更新证书失败", err)
	}
	return nil
}

func (d *CertificateDao) ListByAuthority(ctx context.Context, authorityID int64, status model.CertificateStatus) ([]*model.ManagedCertificate, error) {
	return d.FindByMap(ctx, map[string]interface{}{
		"authority_id": authorityID,
		"status":       status,
	})
}

func (d *CertificateDao) ListByStatus(ctx context.Context, status model.CertificateStatus) ([]*model.ManagedCertificate, error) {
	return d.FindByMap(ctx, map[string]interface{}{"status": status})
}

func (d *CertificateDao) FindPage(ctx context.Context, query CertificateQuery, page *mvc.Page) ([]*model.ManagedCertificate, int64, error) {
	var (
		certs []*model.ManagedCertificate
		total int64
	)

	db := d.db.WithContext(ctx).Model(&model.ManagedCertificate{})
	if query.AuthorityID > 0 {
		db = db.Where("authority_id = ?", query.AuthorityID)
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.Purpose != "" {
		db = db.Where("purpose = ?", query.Purpose)
	}
	if query.Keyword != "" {
		db = db.Where("common_name LIKE ?", "%"+query.Keyword+"%")
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, d.err.New("分页查询证书失败", err).DB()
	}
	if err := db.Scopes(mvc.Paginate(page)).Order("id DESC").Find(&certs).Error; err != nil {
		return nil, 0, d.err.New("分页查询证书失败", err).DB()
	}
	return certs, total, nil
}

func (d *CertificateDao) CountByStatus(ctx context.Context) (map[model.CertificateStatus]int64, error) {
	var rows []struct {
		Status model.CertificateStatus
		Total  int64
	}
	err := d.db.WithContext(ctx).Model(&model.ManagedCertificate{}).
		Select("status, count(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, d.err.New("统计证书失败", err).DB()
	}

	out := make(map[model.CertificateStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (d *CertificateDao) CountActiveExpiringBefore(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := d.db.WithContext(ctx).Model(&model.ManagedCertificate{}).
		Where("status = ? AND not_after <= ?", model.CertificateStatusActive, before).
		Count(&total).Error
	if err != nil {
		return 0, d.err.New("统计即将过期证书失败", err).DB()
	}
	return total, nil
}
