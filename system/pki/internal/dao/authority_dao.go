package dao

import (
	"context"
	"time"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/mvc"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuthorityDao CA 数据访问层
type AuthorityDao struct {
	mvc.IBaseDao[model.CertificateAuthority]
	db  *gorm.DB
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewAuthorityDao(db *gorm.DB, log *logger.Log) *AuthorityDao {
	return &AuthorityDao{
		IBaseDao: mvc.NewGormDao[model.CertificateAuthority](db),
		db:       db,
		log:      log.WithEntryName("AuthorityDao"),
		err:      errorc.NewErrorBuilder("AuthorityDao"),
	}
}

func (d *AuthorityDao) FindById(ctx context.Context, id int64) (*model.CertificateAuthority, error) {
	authority, err := d.IBaseDao.FindById(ctx, id)
	if err != nil {
		return nil, d.err.New("查询 CA 失败", err)
	}
	return authority, nil
}

func (d *AuthorityDao) FindByName(ctx context.Context, name string) (*model.CertificateAuthority, error) {
	authority, err := d.FindOneByMap(ctx, map[string]interface{}{"name": name})
	if err != nil {
		return nil, d.err.New("按名称查询 CA 失败", err)
	}
	return authority, nil
}

func (d *AuthorityDao) ExistsByName(ctx context.Context, name string) (bool, error) {
	return d.ExistsByMap(ctx, map[string]interface{}{"name": name})
}

func (d *AuthorityDao) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	return d.ExistsByMap(ctx, map[string]interface{}{"fingerprint": fingerprint})
}

func (d *AuthorityDao) List(ctx context.Context) ([]*model.CertificateAuthority, error) {
	return d.FindByMap(ctx, map[string]interface{}{})
}

func (d *AuthorityDao) ListChildren(ctx context.Context, parentID int64) ([]*model.CertificateAuthority, error) {
	return d.FindByMap(ctx, map[string]interface{}{"parent_id": parentID})
}

func (d *AuthorityDao) MarkRevoked(ctx context.Context, id int64, reason model.RevocationReason, at time.Time) error {
	result := d.db.WithContext(ctx).Model(&model.CertificateAuthority{}).
		Where("id = ? AND status = ?", id, model.AuthorityStatusActive).
		Updates(map[string]interface{}{
			"status":            model.AuthorityStatusRevoked,
			"revoked_at":        at,
			"revocation_reason": reason,
		})
	if result.Error != nil {
		d.log.WithErr(result.Error).WithField("id", id).Error("吊销 CA 失败")
		return d.err.New("吊销 CA 失败", result.Error).DB()
	}
	if result.RowsAffected == 0 {
		if _, err := d.FindById(ctx, id); err != nil {
			return err
		}
		return d.err.Conflict("CA 已被吊销")
	}
	return nil
}

func (d *AuthorityDao) IncrementSerial(ctx context.Context, id int64) (int64, error) {
	return d.increment(ctx, id, "next_serial_number")
}

func (d *AuthorityDao) IncrementCrlNumber(ctx context.Context, id int64) (int64, error) {
	return d.increment(ctx, id, "next_crl_number")
}

// increment 在行锁内读取计数器并加一，同一个 CA 的并发调用在数据库层串行
func (d *AuthorityDao) increment(ctx context.Context, id int64, column string) (int64, error) {
	var counter struct {
		Value int64
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.CertificateAuthority{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select(column+" AS value").
			Where("id = ?", id).
			Take(&counter).Error; err != nil {
			return err
		}
		return tx.Model(&model.CertificateAuthority{}).
			Where("id = ?", id).
			UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
	})
	if err != nil {
		if errorc.IsNotFound(err) {
			return 0, d.err.New("CA 不存在", err)
		}
		d.log.WithErr(err).WithField("id", id).WithField("column", column).Error("计数器递增失败")
		return 0, d.err.New("计数器递增失败", err).DB()
	}
	return counter.Value, nil
}

func (d *AuthorityDao) CountByStatus(ctx context.Context) (map[model.AuthorityStatus]int64, error) {
	var rows []struct {
		Status model.AuthorityStatus
		Total  int64
	}
	err := d.db.WithContext(ctx).Model(&model.CertificateAuthority{}).
		Select("status, count(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, d.err.New("统计 CA 失败", err).DB()
	}

	out := make(map[model.AuthorityStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
