package pki

import (
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"

	"gorm.io/gorm"
)

// AutoMigrate 执行证书中心组件的数据库迁移
func AutoMigrate(db *gorm.DB, log *logger.Log) error {
	log.Info("开始执行证书中心组件数据库迁移...")

	if err := db.AutoMigrate(
		&model.CertificateAuthority{},
		&model.ManagedCertificate{},
		&model.CertificateRevocationList{},
		&model.CertificateAuditEvent{},
		&model.CertDeploymentLog{},
		&model.DeployLogLine{},
	); err != nil {
		log.WithErr(err).Error("证书中心组件数据库迁移失败")
		return err
	}

	log.Info("证书中心组件数据库迁移完成")
	return nil
}
