package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/model/common"
	"github.com/xsxdot/aio-pki/pkg/lock"
	"github.com/xsxdot/aio-pki/pkg/notifier"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"

	"github.com/google/uuid"
)

const streamPollInterval = 5 * time.Second

// DeployRequest 部署请求，TargetName 引用配置中的命名目标，否则使用 Target 描述
type DeployRequest struct {
	CertificateID int64
	TargetName    string
	Target        *config.DeployTargetConfig
}

// deployRun 一次已登记的部署
type deployRun struct {
	record *model.CertDeploymentLog
	cert   *model.ManagedCertificate
	target *service.DeployTarget
	bundle *service.DeployBundle
	lock   lock.DistributedLock
}

func newOperationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func deployLockKey(certificateID int64, target *service.DeployTarget) string {
	name := target.Name
	if name == "" {
		name = target.Descriptor()
	}
	return fmt.Sprintf("pki:deploy-lock:%d:%s", certificateID, name)
}

func (a *App) resolveTarget(req *DeployRequest) (*service.DeployTarget, error) {
	var target *service.DeployTarget
	switch {
	case req.TargetName != "":
		spec, ok := a.cfg.DeployTargets[req.TargetName]
		if !ok {
			return nil, a.err.NotFound(fmt.Sprintf("部署目标 %s 不存在", req.TargetName))
		}
		target = &service.DeployTarget{Name: req.TargetName, Spec: spec}
	case req.Target != nil:
		// 临时目标不允许携带命令和属主，本机部署只能使用配置中的命名目标
		if model.TargetKind(req.Target.Kind) == model.TargetKindLocal {
			return nil, a.err.BadRequest("本机部署只能引用配置中的命名目标")
		}
		if req.Target.ReloadCommand != "" || req.Target.VerifyCommand != "" || req.Target.FileOwner != "" {
			return nil, a.err.BadRequest("临时目标不支持 reload-command、verify-command 和 file-owner")
		}
		target = &service.DeployTarget{Spec: *req.Target}
	default:
		return nil, a.err.BadRequest("未指定部署目标")
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return target, nil
}

// prepareDeploy 校验证书和目标、获取 (证书, 目标) 互斥锁并登记 running 记录
func (a *App) prepareDeploy(ctx context.Context, req *DeployRequest) (run *deployRun, err error) {
	defer func() {
		if err == nil {
			return
		}
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			CertificateID: service.Int64Ptr(req.CertificateID),
			EventType:     model.EventCertDeployFailed,
			Description:   "部署证书失败",
			Metadata:      common.JSON{"target": req.TargetName},
			Err:           err,
		})
	}()

	if a.Transports == nil {
		return nil, a.err.New("未配置部署传输通道", nil).Unavailable()
	}
	cert, err := a.GetCertificate(ctx, req.CertificateID)
	if err != nil {
		return nil, err
	}
	if !cert.IsActive() {
		return nil, a.err.New(fmt.Sprintf("证书状态为 %s，不能部署", cert.Status), nil).Conflict()
	}
	target, err := a.resolveTarget(req)
	if err != nil {
		return nil, err
	}
	bundle, err := a.deployBundle(ctx, cert)
	if err != nil {
		return nil, err
	}

	lk := a.locks.NewLock(deployLockKey(cert.ID, target), &lock.LockOptions{
		TTL:       a.cfg.DeployTimeoutDuration() + time.Minute,
		AutoRenew: true,
	})
	ok, err := lk.TryLock(ctx)
	if err != nil {
		return nil, a.err.New("获取部署锁失败", err).Unavailable()
	}
	if !ok {
		return nil, a.err.New("该证书正在部署到此目标", nil).Conflict()
	}

	record := &model.CertDeploymentLog{
		CertificateID:    cert.ID,
		OperationID:      newOperationID(),
		TargetName:       target.Name,
		TargetKind:       target.Kind(),
		TargetDescriptor: target.Descriptor(),
		Status:           model.DeployStatusRunning,
		StartedAt:        a.now(),
	}
	if err := a.store.DeployLogs().Create(ctx, record); err != nil {
		_ = lk.Unlock(context.WithoutCancel(ctx))
		return nil, a.err.New("登记部署记录失败", err)
	}

	return &deployRun{record: record, cert: cert, target: target, bundle: bundle, lock: lk}, nil
}

func (a *App) deployBundle(ctx context.Context, cert *model.ManagedCertificate) (*service.DeployBundle, error) {
	authority, err := a.GetAuthority(ctx, cert.AuthorityID)
	if err != nil {
		return nil, err
	}
	keyPem, err := a.KeySeal.Open(cert.PrivateKeyPem)
	if err != nil {
		return nil, err
	}
	return &service.DeployBundle{
		CommonName:  cert.CommonName,
		SANs:        cert.SANs(),
		CertPem:     cert.CertificatePem,
		KeyPem:      keyPem,
		ChainPem:    authority.ChainPem,
		Fingerprint: cert.Fingerprint,
	}, nil
}

// StartDeploy 异步部署，立即返回 running 记录，进度通过实时通道和日志查询获取
func (a *App) StartDeploy(ctx context.Context, req *DeployRequest) (*model.CertDeploymentLog, error) {
	run, err := a.prepareDeploy(ctx, req)
	if err != nil {
		return nil, err
	}

	a.deploys.Add(1)
	go func() {
		defer a.deploys.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.DeployTimeoutDuration())
		defer cancel()
		_ = a.executeDeploy(runCtx, run)
	}()
	return run.record, nil
}

// DeployAndWait 同步部署，返回带日志行的最终记录
func (a *App) DeployAndWait(ctx context.Context, req *DeployRequest) (*model.CertDeploymentLog, error) {
	run, err := a.prepareDeploy(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.DeployTimeoutDuration())
	defer cancel()
	deployErr := a.executeDeploy(runCtx, run)

	record, err := a.GetDeployLog(context.WithoutCancel(ctx), run.record.OperationID)
	if err != nil {
		record = run.record
	}
	return record, deployErr
}

// executeDeploy 依次执行连接、传输、重载、校验；每一行日志先落库再推送
// 失败时不回滚已传输的文件
func (a *App) executeDeploy(ctx context.Context, run *deployRun) error {
	opID := run.record.OperationID
	// 收尾写入不受部署超时影响
	bg := context.WithoutCancel(ctx)
	log := a.log.WithTrace(ctx).WithFields(map[string]interface{}{
		"operation_id":   opID,
		"certificate_id": run.cert.ID,
		"target":         run.record.TargetDescriptor,
	})
	defer func() {
		if err := run.lock.Unlock(bg); err != nil {
			log.WithErr(err).Warn("释放部署锁失败")
		}
	}()

	seq := 0
	emit := func(level model.LogLevel, msg string) {
		seq++
		line := &model.DeployLogLine{
			OperationID: opID,
			Seq:         seq,
			Timestamp:   a.now(),
			Level:       level,
			Message:     msg,
		}
		if err := a.store.DeployLogs().AppendLine(bg, line); err != nil {
			log.WithErr(err).Warn("写入部署日志失败")
		}
		if err := a.Live.Publish(bg, opID, &service.LiveMessage{Line: line}); err != nil {
			log.WithErr(err).Debug("推送部署日志失败")
		}
	}

	err := a.runTransport(ctx, run, emit)
	at := a.now()
	if err != nil {
		brief := errorc.ParseError(err).Brief()
		emit(model.LogLevelError, "部署失败: "+brief)
		a.finishDeploy(bg, opID, model.DeployStatusFailed, brief, at)
		a.Audit.Record(bg, a.store.AuditEvents(), service.AuditEntry{
			CertificateID: service.Int64Ptr(run.cert.ID),
			AuthorityID:   service.Int64Ptr(run.cert.AuthorityID),
			EventType:     model.EventCertDeployFailed,
			Description:   fmt.Sprintf("部署证书 %s 到 %s 失败", run.cert.CommonName, run.record.TargetDescriptor),
			Metadata:      common.JSON{"operationId": opID, "targetKind": string(run.record.TargetKind)},
			Err:           err,
		})
		if nerr := a.notifier.Send(bg, &notifier.Notification{
			Title:     "证书部署失败",
			Content:   fmt.Sprintf("证书 %s（#%d）部署到 %s 失败：%s", run.cert.CommonName, run.cert.ID, run.record.TargetDescriptor, brief),
			Level:     notifier.NotificationLevelError,
			Labels:    map[string]string{"operation": opID},
			CreatedAt: at,
		}); nerr != nil {
			log.WithErr(nerr).Warn("发送部署失败通知失败")
		}
		log.WithErr(err).Error("证书部署失败")
		return err
	}

	targetName := run.target.Name
	if targetName == "" {
		targetName = run.record.TargetDescriptor
	}
	if err := a.store.Certificates().Update(bg, run.cert.ID, dao.CertificatePatch{
		LastDeployTarget: &targetName,
		LastDeployedAt:   &at,
	}); err != nil {
		log.WithErr(err).Warn("更新证书部署信息失败")
	}
	emit(model.LogLevelInfo, "部署完成")
	a.finishDeploy(bg, opID, model.DeployStatusCompleted, "", at)
	a.Audit.Record(bg, a.store.AuditEvents(), service.AuditEntry{
		CertificateID: service.Int64Ptr(run.cert.ID),
		AuthorityID:   service.Int64Ptr(run.cert.AuthorityID),
		EventType:     model.EventCertDeployed,
		Description:   fmt.Sprintf("部署证书 %s 到 %s", run.cert.CommonName, run.record.TargetDescriptor),
		Metadata: common.JSON{
			"operationId": opID,
			"targetKind":  string(run.record.TargetKind),
			"targetName":  run.target.Name,
		},
	})
	log.Info("证书部署成功")
	return nil
}

func (a *App) runTransport(ctx context.Context, run *deployRun, emit service.LineWriter) error {
	emit(model.LogLevelInfo, fmt.Sprintf("连接目标 %s", run.record.TargetDescriptor))
	transport, err := a.Transports.Open(run.target)
	if err != nil {
		return a.err.New("打开传输通道失败", err).DeploymentFailure()
	}
	defer func() {
		if err := transport.Close(); err != nil {
			a.log.WithErr(err).WithField("operation_id", run.record.OperationID).Warn("关闭传输通道失败")
		}
	}()
	if err := transport.Connect(ctx, emit); err != nil {
		return a.err.New("连接目标失败", err).DeploymentFailure()
	}

	emit(model.LogLevelInfo, "传输证书、私钥和 CA 链")
	if err := transport.Push(ctx, run.bundle, emit); err != nil {
		return a.err.New("传输证书文件失败", err).DeploymentFailure()
	}

	emit(model.LogLevelInfo, "重载服务")
	if err := transport.Reload(ctx, run.bundle, emit); err != nil {
		return a.err.New("重载服务失败", err).DeploymentFailure()
	}

	emit(model.LogLevelInfo, "校验部署结果")
	if err := transport.Verify(ctx, run.bundle, emit); err != nil {
		return a.err.New("校验部署结果失败", err).DeploymentFailure()
	}
	return nil
}

func (a *App) finishDeploy(ctx context.Context, opID string, status model.DeployStatus, errMsg string, at time.Time) {
	if err := a.store.DeployLogs().Finish(ctx, opID, status, errMsg, at); err != nil {
		a.log.WithErr(err).WithField("operation_id", opID).Error("更新部署状态失败")
	}
	if err := a.Live.Publish(ctx, opID, &service.LiveMessage{Status: status, Error: errMsg}); err != nil {
		a.log.WithErr(err).WithField("operation_id", opID).Debug("推送部署状态失败")
	}
}

// StreamDeployLog 先回放已落库的日志，再跟随实时通道直到部署结束
// 先订阅再回放，按 seq 去重，实时消息丢失时由定时轮询补齐
func (a *App) StreamDeployLog(ctx context.Context, operationID string, send func(msg *service.LiveMessage) error) error {
	if _, err := a.store.DeployLogs().FindByOperationId(ctx, operationID); err != nil {
		return a.err.New("部署记录不存在", err)
	}

	sub, err := a.Live.Subscribe(ctx, operationID)
	if err != nil {
		return a.err.New("订阅部署日志失败", err)
	}
	defer sub.Close()

	lastSeq := 0
	catchUp := func() error {
		lines, err := a.store.DeployLogs().ListLines(ctx, operationID, lastSeq)
		if err != nil {
			return a.err.New("查询部署日志失败", err)
		}
		for i := range lines {
			if err := send(&service.LiveMessage{Line: &lines[i]}); err != nil {
				return err
			}
			lastSeq = lines[i].Seq
		}
		return nil
	}
	finished := func() (bool, error) {
		record, err := a.store.DeployLogs().FindByOperationId(ctx, operationID)
		if err != nil {
			return false, a.err.New("查询部署记录失败", err)
		}
		if !record.IsTerminal() {
			return false, nil
		}
		if err := catchUp(); err != nil {
			return true, err
		}
		return true, send(&service.LiveMessage{Status: record.Status, Error: record.ErrorMessage})
	}

	if err := catchUp(); err != nil {
		return err
	}
	if done, err := finished(); done || err != nil {
		return err
	}

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				sub = noopSubscription{}
				continue
			}
			if msg.Terminal() {
				_, err := finished()
				return err
			}
			if msg.Line == nil || msg.Line.Seq <= lastSeq {
				continue
			}
			if msg.Line.Seq > lastSeq+1 {
				if err := catchUp(); err != nil {
					return err
				}
				continue
			}
			if err := send(msg); err != nil {
				return err
			}
			lastSeq = msg.Line.Seq
		case <-ticker.C:
			if err := catchUp(); err != nil {
				return err
			}
			if done, err := finished(); done || err != nil {
				return err
			}
		}
	}
}

// noopSubscription 实时通道断开后只依赖轮询
type noopSubscription struct{}

func (noopSubscription) C() <-chan *service.LiveMessage { return nil }
func (noopSubscription) Close() error                   { return nil }

// GetDeployLog 部署记录及全部日志行
func (a *App) GetDeployLog(ctx context.Context, operationID string) (*model.CertDeploymentLog, error) {
	record, err := a.store.DeployLogs().FindByOperationId(ctx, operationID)
	if err != nil {
		return nil, a.err.New("部署记录不存在", err)
	}
	lines, err := a.store.DeployLogs().ListLines(ctx, operationID, 0)
	if err != nil {
		return nil, a.err.New("查询部署日志失败", err)
	}
	record.Lines = lines
	return record, nil
}

func (a *App) ListDeployLogs(ctx context.Context, certificateID int64, limit int) ([]*model.CertDeploymentLog, error) {
	list, err := a.store.DeployLogs().List(ctx, certificateID, limit)
	if err != nil {
		return nil, a.err.New("查询部署记录失败", err)
	}
	return list, nil
}

func (a *App) ListAuditEvents(ctx context.Context, query dao.AuditQuery) ([]*model.CertificateAuditEvent, error) {
	list, err := a.store.AuditEvents().List(ctx, query)
	if err != nil {
		return nil, a.err.New("查询审计事件失败", err)
	}
	return list, nil
}

// DeployTargets 配置中的命名目标，敏感字段不返回
func (a *App) DeployTargets() map[string]config.DeployTargetConfig {
	out := make(map[string]config.DeployTargetConfig, len(a.cfg.DeployTargets))
	for name, spec := range a.cfg.DeployTargets {
		spec.Password = ""
		spec.PrivateKey = ""
		spec.AccessKeySecret = ""
		out[name] = spec
	}
	return out
}
