package service

import (
	"context"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
)

// AllocatorService 分配序列号和 CRL 编号
// 互斥由仓库实现保证：gorm 使用行锁，内存实现使用全局锁
type AllocatorService struct {
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewAllocatorService(log *logger.Log) *AllocatorService {
	return &AllocatorService{
		log: log.WithEntryName("AllocatorService"),
		err: errorc.NewErrorBuilder("AllocatorService"),
	}
}

// NextSerial 返回 CA 的下一个序列号，传入事务内的仓库时随事务回滚
func (s *AllocatorService) NextSerial(ctx context.Context, repo dao.AuthorityRepository, authorityID int64) (int64, error) {
	serial, err := repo.IncrementSerial(ctx, authorityID)
	if err != nil {
		return 0, s.wrap(ctx, "分配序列号失败", authorityID, err)
	}
	return serial, nil
}

func (s *AllocatorService) NextCrlNumber(ctx context.Context, repo dao.AuthorityRepository, authorityID int64) (int64, error) {
	number, err := repo.IncrementCrlNumber(ctx, authorityID)
	if err != nil {
		return 0, s.wrap(ctx, "分配 CRL 编号失败", authorityID, err)
	}
	return number, nil
}

func (s *AllocatorService) wrap(ctx context.Context, msg string, authorityID int64, err error) error {
	if errorc.IsNotFound(err) {
		return s.err.New("CA 不存在", err).NotFound()
	}
	s.log.WithTrace(ctx).WithErr(err).WithField("authority_id", authorityID).Error(msg)
	return s.err.New(msg, err).AllocationFailure()
}
