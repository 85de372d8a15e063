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

// DeployLogDao 部署日志数据访问层
type DeployLogDao struct {
	mvc.IBaseDao[model.CertDeploymentLog]
	db  *gorm.DB
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewDeployLogDao(db *gorm.DB, log *logger.Log) *DeployLogDao {
	return &DeployLogDao{
		IBaseDao: mvc.NewGormDao[model.CertDeploymentLog](db),
		db:       db,
		log:      log.WithEntryName("DeployLogDao"),
		err:      errorc.NewErrorBuilder("DeployLogDao"),
	}
}

func (d *DeployLogDao) FindByOperationId(ctx context.Context, operationID string) (*model.CertDeploymentLog, error) {
	deployLog, err := d.FindOneByMap(ctx, map[string]interface{}{"operation_id": operationID})
	if err != nil {
		return nil, d.err.New("查询部署日志失败", err)
	}
	return deployLog, nil
}

func (d *DeployLogDao) AppendLine(ctx context.Context, line *model.DeployLogLine) error {
	if err := d.db.WithContext(ctx).Create(line).Error; err != nil {
		return d.err.New("写入部署日志行失败", err).DB()
	}
	return nil
}

func (d *DeployLogDao) ListLines(ctx context.Context, operationID string, afterSeq int) ([]model.DeployLogLine, error) {
	var lines []model.DeployLogLine
	err := d.db.WithContext(ctx).
		Where("operation_id = ? AND seq > ?", operationID, afterSeq).
		Order("seq").
		Find(&lines).Error
	if err != nil {
		return nil, d.err.New("查询部署日志行失败", err).DB()
	}
	return lines, nil
}

func (d *DeployLogDao) Finish(ctx context.Context, operationID string, status model.DeployStatus, errMsg string, at time.Time) error {
	result := d.db.WithContext(ctx).Model(&model.CertDeploymentLog{}).
		Where("operation_id = ? AND status = ?", operationID, model.DeployStatusRunning).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"completed_at":  at,
		})
	if result.Error != nil {
		return d.err.New("结束部署日志失败", result.Error).DB()
	}
	if result.RowsAffected == 0 {
		if _, err := d.FindByOperationId(ctx, operationID); err != nil {
			return err
		}
		return d.err.Conflict("部署已结束")
	}
	return nil
}

func (d *DeployLogDao) List(ctx context.Context, certificateID int64, limit int) ([]*model.CertDeploymentLog, error) {
	var logs []*model.CertDeploymentLog
	db := d.db.WithContext(ctx).Model(&model.CertDeploymentLog{})
	if certificateID > 0 {
		db = db.Where("certificate_id = ?", certificateID)
	}
	err := db.Order("started_at DESC").Order("id DESC").Limit(NormalizeLimit(limit)).Find(&logs).Error
	if err != nil {
		return nil, d.err.New("查询部署日志列表失败", err).DB()
	}
	return logs, nil
}
