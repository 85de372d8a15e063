package app

import (
	"context"
	"time"

	"github.com/xsxdot/aio-pki/pkg/scheduler"
)

// RegisterTasks 注册自动续期、过期扫描和 CRL 刷新三个分布式定时任务
// cron 表达式为空的任务不注册
func (a *App) RegisterTasks(s *scheduler.Scheduler) error {
	tasks := []struct {
		name    string
		expr    string
		timeout time.Duration
		fn      scheduler.TaskFunc
	}{
		{"证书自动续期", a.cfg.RenewCron, 30 * time.Minute, a.renewTask},
		{"证书过期扫描", a.cfg.ExpiryCron, 10 * time.Minute, a.expiryTask},
		{"CRL 定时刷新", a.cfg.CrlCron, 10 * time.Minute, a.crlTask},
	}
	for _, t := range tasks {
		if err := s.AddCronTask(t.name, t.expr, t.timeout, t.fn); err != nil {
			return a.err.New("注册定时任务失败: "+t.name, err)
		}
	}
	return nil
}

func (a *App) renewTask(ctx context.Context) error {
	a.log.Info("开始执行证书自动续期任务")
	result, err := a.AutoRenewSweep(ctx)
	if err != nil {
		a.log.WithErr(err).Error("证书自动续期任务执行失败")
		return err
	}
	a.log.WithField("renewed", len(result.Renewed)).WithField("failed", len(result.Failures)).Info("证书自动续期任务执行完成")
	return nil
}

func (a *App) expiryTask(ctx context.Context) error {
	_, err := a.ExpirySweep(ctx)
	return err
}

func (a *App) crlTask(ctx context.Context) error {
	count, err := a.RefreshDueCrls(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		a.log.WithField("count", count).Info("CRL 定时刷新完成")
	}
	return nil
}
