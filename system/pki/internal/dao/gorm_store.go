package dao

import (
	"context"

	"github.com/xsxdot/aio-pki/pkg/core/logger"

	"gorm.io/gorm"
)

// GormStore 基于 gorm 的 Store，事务内的仓库共享同一个 *gorm.DB
type GormStore struct {
	db           *gorm.DB
	log          *logger.Log
	authorities  *AuthorityDao
	certificates *CertificateDao
	crls         *CrlDao
	auditEvents  *AuditEventDao
	deployLogs   *DeployLogDao
}

func NewGormStore(db *gorm.DB, log *logger.Log) *GormStore {
	return &GormStore{
		db:           db,
		log:          log,
		authorities:  NewAuthorityDao(db, log),
		certificates: NewCertificateDao(db, log),
		crls:         NewCrlDao(db, log),
		auditEvents:  NewAuditEventDao(db, log),
		deployLogs:   NewDeployLogDao(db, log),
	}
}

func (s *GormStore) Authorities() AuthorityRepository    { return s.authorities }
func (s *GormStore) Certificates() CertificateRepository { return s.certificates }
func (s *GormStore) Crls() CrlRepository                 { return s.crls }
func (s *GormStore) AuditEvents() AuditEventRepository   { return s.auditEvents }
func (s *GormStore) DeployLogs() DeployLogRepository     { return s.deployLogs }

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx, s.log))
	})
}
