package app

import (
	"context"
	"crypto/x509"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/model/common"
	"github.com/xsxdot/aio-pki/pkg/core/mvc"
	"github.com/xsxdot/aio-pki/pkg/notifier"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"

	"golang.org/x/sync/errgroup"
)

const (
	defaultLeafKeySize      = 2048
	defaultLeafValidityDays = 365
	defaultRenewBeforeDays  = 30

	renewOutcomeRenewed = "renewed"
)

// IssueCertificateRequest 证书签发请求
type IssueCertificateRequest struct {
	AuthorityID        int64
	CommonName         string
	Organization       string
	OrganizationalUnit string
	SANs               []string
	CertType           model.CertType
	Purpose            string
	ValidityDays       int
	KeyAlgorithm       model.KeyAlgorithm
	KeySize            int
	RenewBeforeDays    int
	AutoRenew          *bool // nil 时默认开启
}

func (r *IssueCertificateRequest) normalize() {
	r.CommonName = strings.TrimSpace(r.CommonName)
	if r.CertType == "" {
		r.CertType = model.CertTypeServer
	}
	if r.KeyAlgorithm == "" {
		r.KeyAlgorithm = model.KeyAlgorithmRSA
	}
	if r.KeySize <= 0 {
		if r.KeyAlgorithm == model.KeyAlgorithmECDSA {
			r.KeySize = 256
		} else {
			r.KeySize = defaultLeafKeySize
		}
	}
	if r.ValidityDays <= 0 {
		r.ValidityDays = defaultLeafValidityDays
	}
	if r.RenewBeforeDays <= 0 {
		r.RenewBeforeDays = defaultRenewBeforeDays
	}
	// 兼容逗号分隔的输入
	var sans []string
	for _, s := range r.SANs {
		sans = append(sans, model.SplitSANs(s)...)
	}
	r.SANs = sans
}

// IssueCertificate 签发证书
// 流程：校验 CA -> 生成密钥 -> 事务内分配序列号、签名、落库 -> 审计
func (a *App) IssueCertificate(ctx context.Context, req *IssueCertificateRequest) (cert *model.ManagedCertificate, err error) {
	req.normalize()
	log := a.log.WithTrace(ctx).WithFields(map[string]interface{}{
		"authority_id": req.AuthorityID,
		"common_name":  req.CommonName,
	})
	log.Info("开始签发证书")

	defer func() {
		if err == nil {
			return
		}
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			AuthorityID: service.Int64Ptr(req.AuthorityID),
			EventType:   model.EventCertIssued,
			Description: fmt.Sprintf("签发证书 %s 失败", req.CommonName),
			Err:         err,
		})
	}()

	switch req.CertType {
	case model.CertTypeServer, model.CertTypeClient, model.CertTypeBoth:
	default:
		return nil, a.err.BadRequest(fmt.Sprintf("不支持的证书类型 %s", req.CertType))
	}

	authority, err := a.store.Authorities().FindById(ctx, req.AuthorityID)
	if err != nil {
		return nil, a.err.New("签发 CA 不存在", err)
	}
	if !authority.IsActive() {
		return nil, a.err.New("签发 CA 已被吊销", nil).Conflict()
	}

	now := a.now()
	notAfter := now.AddDate(0, 0, req.ValidityDays)
	if notAfter.After(authority.NotAfter) {
		return nil, a.err.New(fmt.Sprintf("有效期超出签发 CA（%s 过期）", authority.NotAfter.Format(time.RFC3339)), nil).ValidityViolation()
	}

	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}
	template := &model.ManagedCertificate{
		AuthorityID:             authority.ID,
		CommonName:              req.CommonName,
		SubjectAlternativeNames: strings.Join(req.SANs, ","),
		CertType:                req.CertType,
		Purpose:                 req.Purpose,
		RenewBeforeDays:         req.RenewBeforeDays,
		AutoRenew:               autoRenew,
	}
	subject := service.Subject{
		CommonName:         req.CommonName,
		Organization:       req.Organization,
		OrganizationalUnit: req.OrganizationalUnit,
	}

	cert, err = a.signAndStore(ctx, authority, template, subject, req.KeyAlgorithm, req.KeySize, now, notAfter, nil)
	if err != nil {
		return nil, err
	}

	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		CertificateID: service.Int64Ptr(cert.ID),
		AuthorityID:   service.Int64Ptr(authority.ID),
		EventType:     model.EventCertIssued,
		Description:   fmt.Sprintf("签发证书 %s", cert.CommonName),
		Metadata: common.JSON{
			"serialNumber": cert.SerialHex,
			"fingerprint":  cert.Fingerprint,
			"notAfter":     cert.NotAfter,
			"purpose":      cert.Purpose,
		},
	})
	log.WithField("certificate_id", cert.ID).WithField("serial", cert.SerialHex).Info("证书签发成功")
	return cert, nil
}

// signAndStore 生成密钥后在一个事务内完成序列号分配、签名和保存
// inTx 非空时在同一事务中继续执行，用于续期时更新旧证书
func (a *App) signAndStore(ctx context.Context, authority *model.CertificateAuthority, template *model.ManagedCertificate,
	subject service.Subject, algorithm model.KeyAlgorithm, keySize int, notBefore, notAfter time.Time,
	inTx func(tx dao.Store, cert *model.ManagedCertificate) error) (*model.ManagedCertificate, error) {

	issuer, err := a.loadIssuer(authority)
	if err != nil {
		return nil, err
	}
	key, err := a.Crypto.GenerateKey(algorithm, keySize)
	if err != nil {
		return nil, err
	}
	sealed, err := a.KeySeal.Seal(key.PrivateKeyPem)
	if err != nil {
		return nil, err
	}

	var cert *model.ManagedCertificate
	err = a.store.Transaction(ctx, func(tx dao.Store) error {
		serial, err := a.Allocator.NextSerial(ctx, tx.Authorities(), authority.ID)
		if err != nil {
			return err
		}
		signed, err := a.Crypto.SignCertificate(issuer, &service.SignRequest{
			Subject:   subject,
			PublicKey: key.Signer.Public(),
			Serial:    serial,
			NotBefore: notBefore,
			NotAfter:  notAfter,
			CertType:  template.CertType,
			SANs:      model.SplitSANs(template.SubjectAlternativeNames),
		})
		if err != nil {
			return err
		}

		c := *template
		c.SerialNumber = serial
		c.SerialHex = service.SerialHex(serial)
		c.KeyAlgorithm = key.Algorithm
		c.KeySize = key.Size
		c.CertificatePem = signed.Pem
		c.PrivateKeyPem = sealed
		c.Fingerprint = signed.Fingerprint
		c.NotBefore = signed.Cert.NotBefore
		c.NotAfter = signed.Cert.NotAfter
		c.Status = model.CertificateStatusActive
		if err := tx.Certificates().Create(ctx, &c); err != nil {
			return a.err.New("保存证书失败", err)
		}
		if inTx != nil {
			if err := inTx(tx, &c); err != nil {
				return err
			}
		}
		cert = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// RenewCertificate 续期证书：同一 CA 下签发主题、备用名称和用途相同的新证书，
// 新旧证书互相关联，旧证书置为 superseded，三者在同一事务内完成
func (a *App) RenewCertificate(ctx context.Context, id int64) (*model.ManagedCertificate, error) {
	return a.renew(ctx, id, renewOutcomeRenewed)
}

func (a *App) renew(ctx context.Context, id int64, outcome string) (renewed *model.ManagedCertificate, err error) {
	log := a.log.WithTrace(ctx).WithField("certificate_id", id)

	var old *model.ManagedCertificate
	defer func() {
		if err == nil {
			return
		}
		entry := service.AuditEntry{
			CertificateID: service.Int64Ptr(id),
			EventType:     model.EventCertRenewed,
			Description:   "续期证书失败",
			Err:           err,
		}
		if old != nil {
			entry.AuthorityID = service.Int64Ptr(old.AuthorityID)
			entry.Description = fmt.Sprintf("续期证书 %s 失败", old.CommonName)
		}
		a.Audit.Record(ctx, a.store.AuditEvents(), entry)
	}()

	old, err = a.store.Certificates().FindById(ctx, id)
	if err != nil {
		return nil, a.err.New("证书不存在", err)
	}
	if !old.IsActive() {
		return nil, a.err.New(fmt.Sprintf("证书状态为 %s，不能续期", old.Status), nil).Conflict()
	}

	authority, err := a.store.Authorities().FindById(ctx, old.AuthorityID)
	if err != nil {
		return nil, a.err.New("签发 CA 不存在", err)
	}
	if !authority.IsActive() {
		return nil, a.err.New("签发 CA 已被吊销", nil).Conflict()
	}

	now := a.now()
	notAfter := now.Add(old.NotAfter.Sub(old.NotBefore))
	if notAfter.After(authority.NotAfter) {
		return nil, a.err.New(fmt.Sprintf("续期后的有效期超出签发 CA（%s 过期）", authority.NotAfter.Format(time.RFC3339)), nil).ValidityViolation()
	}

	subject, err := subjectOf(old)
	if err != nil {
		return nil, err
	}
	template := &model.ManagedCertificate{
		AuthorityID:             old.AuthorityID,
		CommonName:              old.CommonName,
		SubjectAlternativeNames: old.SubjectAlternativeNames,
		CertType:                old.CertType,
		Purpose:                 old.Purpose,
		RenewBeforeDays:         old.RenewBeforeDays,
		AutoRenew:               old.AutoRenew,
		ReplacesID:              service.Int64Ptr(old.ID),
		LastDeployTarget:        old.LastDeployTarget,
	}

	renewed, err = a.signAndStore(ctx, authority, template, subject, old.KeyAlgorithm, old.KeySize, now, notAfter,
		func(tx dao.Store, cert *model.ManagedCertificate) error {
			status := model.CertificateStatusSuperseded
			patch := dao.CertificatePatch{
				Status:               &status,
				ReplacedByID:         service.Int64Ptr(cert.ID),
				LastRenewalAttemptAt: &now,
				LastRenewalOutcome:   &outcome,
			}
			if err := tx.Certificates().TransitionStatus(ctx, old.ID, model.CertificateStatusActive, patch); err != nil {
				return a.err.New("更新旧证书状态失败", err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		CertificateID: service.Int64Ptr(renewed.ID),
		AuthorityID:   service.Int64Ptr(renewed.AuthorityID),
		EventType:     model.EventCertRenewed,
		Description:   fmt.Sprintf("续期证书 %s", renewed.CommonName),
		Metadata: common.JSON{
			"replacesId":   old.ID,
			"serialNumber": renewed.SerialHex,
			"notAfter":     renewed.NotAfter,
		},
	})
	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		CertificateID: service.Int64Ptr(old.ID),
		AuthorityID:   service.Int64Ptr(old.AuthorityID),
		EventType:     model.EventCertSuperseded,
		Description:   fmt.Sprintf("证书 %s 被新证书替代", old.SerialHex),
		Metadata:      common.JSON{"replacedById": renewed.ID},
	})
	log.WithField("new_certificate_id", renewed.ID).Info("证书续期成功")
	return renewed, nil
}

// RevokeCertificate 吊销证书，仅允许从 active 吊销；不会重新生成 CRL
func (a *App) RevokeCertificate(ctx context.Context, id int64, reason model.RevocationReason) (err error) {
	log := a.log.WithTrace(ctx).WithField("certificate_id", id)

	var cert *model.ManagedCertificate
	defer func() {
		entry := service.AuditEntry{
			CertificateID: service.Int64Ptr(id),
			EventType:     model.EventCertRevoked,
			Err:           err,
		}
		if cert != nil {
			entry.AuthorityID = service.Int64Ptr(cert.AuthorityID)
		}
		if err != nil {
			entry.Description = "吊销证书失败"
		} else {
			entry.Description = fmt.Sprintf("吊销证书 %s", cert.CommonName)
			entry.Metadata = common.JSON{"reason": reason.String(), "serialNumber": cert.SerialHex}
		}
		a.Audit.Record(ctx, a.store.AuditEvents(), entry)
	}()

	if !reason.Valid() {
		return a.err.BadRequest(fmt.Sprintf("无效的吊销原因 %d", int(reason)))
	}

	cert, err = a.store.Certificates().FindById(ctx, id)
	if err != nil {
		return a.err.New("证书不存在", err)
	}
	if cert.Status == model.CertificateStatusRevoked {
		return a.err.New("证书已被吊销", nil).Conflict()
	}

	status := model.CertificateStatusRevoked
	revokedAt := maxTime(a.now(), cert.NotBefore)
	patch := dao.CertificatePatch{Status: &status, RevokedAt: &revokedAt, RevocationReason: &reason}
	if err = a.store.Certificates().TransitionStatus(ctx, id, model.CertificateStatusActive, patch); err != nil {
		return a.err.New("吊销证书失败", err)
	}

	log.WithField("reason", reason.String()).Info("证书已吊销")
	return nil
}

// RenewedPair 一次成功的自动续期
type RenewedPair struct {
	OldID int64 `json:"oldId"`
	NewID int64 `json:"newId"`
}

// SweepFailure 单张证书的续期失败
type SweepFailure struct {
	CertificateID int64  `json:"certificateId"`
	CommonName    string `json:"commonName"`
	Error         string `json:"error"`
}

// SweepResult 自动续期结果，部分失败作为数据返回
type SweepResult struct {
	Candidates int            `json:"candidates"`
	Renewed    []RenewedPair  `json:"renewed"`
	Failures   []SweepFailure `json:"failures"`
}

// AutoRenewSweep 续期所有开启自动续期且进入续期窗口的有效证书
// 每个候选都会尝试，只有查询候选失败才整体失败
func (a *App) AutoRenewSweep(ctx context.Context) (*SweepResult, error) {
	log := a.log.WithTrace(ctx)

	active, err := a.store.Certificates().ListByStatus(ctx, model.CertificateStatusActive)
	if err != nil {
		err = a.err.New("查询待续期证书失败", err)
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			EventType:   model.EventAutoRenewTriggered,
			Description: "自动续期查询失败",
			Err:         err,
		})
		return nil, err
	}

	now := a.now()
	var candidates []*model.ManagedCertificate
	for _, c := range active {
		if c.AutoRenew && c.DueForRenewal(now) {
			candidates = append(candidates, c)
		}
	}

	result := &SweepResult{Candidates: len(candidates), Renewed: []RenewedPair{}, Failures: []SweepFailure{}}
	if len(candidates) == 0 {
		log.Debug("没有需要自动续期的证书")
	}

	var (
		mu      sync.Mutex
		renewed []*model.ManagedCertificate
		g       errgroup.Group
	)
	g.SetLimit(a.cfg.Workers())
	for _, c := range candidates {
		g.Go(func() error {
			next, err := a.renew(ctx, c.ID, "auto-renewed")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, a.recordRenewFailure(ctx, c, err))
				return nil
			}
			result.Renewed = append(result.Renewed, RenewedPair{OldID: c.ID, NewID: next.ID})
			renewed = append(renewed, next)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Renewed, func(i, j int) bool { return result.Renewed[i].OldID < result.Renewed[j].OldID })
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].CertificateID < result.Failures[j].CertificateID })

	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		EventType:   model.EventAutoRenewTriggered,
		Description: fmt.Sprintf("自动续期：候选 %d，成功 %d，失败 %d", result.Candidates, len(result.Renewed), len(result.Failures)),
		Metadata: common.JSON{
			"candidates": result.Candidates,
			"renewed":    len(result.Renewed),
			"failed":     len(result.Failures),
		},
	})

	if len(result.Failures) > 0 {
		a.notifySweepFailures(ctx, result)
	}
	if a.cfg.RedeployOnRenew {
		a.redeployRenewed(ctx, renewed)
	}

	log.WithFields(map[string]interface{}{
		"candidates": result.Candidates,
		"renewed":    len(result.Renewed),
		"failed":     len(result.Failures),
	}).Info("自动续期完成")
	return result, nil
}

func (a *App) recordRenewFailure(ctx context.Context, cert *model.ManagedCertificate, cause error) SweepFailure {
	msg := errorc.ParseError(cause).Brief()
	at := a.now()
	outcome := "failed: " + msg
	if len(outcome) > 500 {
		outcome = outcome[:500]
	}
	if err := a.store.Certificates().Update(ctx, cert.ID, dao.CertificatePatch{
		LastRenewalAttemptAt: &at,
		LastRenewalOutcome:   &outcome,
	}); err != nil {
		a.log.WithTrace(ctx).WithErr(err).WithField("certificate_id", cert.ID).Warn("记录续期结果失败")
	}
	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		CertificateID: service.Int64Ptr(cert.ID),
		AuthorityID:   service.Int64Ptr(cert.AuthorityID),
		EventType:     model.EventAutoRenewFailed,
		Description:   fmt.Sprintf("自动续期证书 %s 失败", cert.CommonName),
		Err:           cause,
	})
	return SweepFailure{CertificateID: cert.ID, CommonName: cert.CommonName, Error: msg}
}

func (a *App) notifySweepFailures(ctx context.Context, result *SweepResult) {
	var sb strings.Builder
	for _, f := range result.Failures {
		sb.WriteString(fmt.Sprintf("- #%d %s: %s\n", f.CertificateID, f.CommonName, f.Error))
	}
	err := a.notifier.Send(ctx, &notifier.Notification{
		Title:     fmt.Sprintf("证书自动续期失败 %d 张", len(result.Failures)),
		Content:   sb.String(),
		Level:     notifier.NotificationLevelError,
		Labels:    map[string]string{"task": "auto-renew"},
		CreatedAt: a.now(),
	})
	if err != nil {
		a.log.WithTrace(ctx).WithErr(err).Warn("发送续期失败通知失败")
	}
}

// redeployRenewed 续期后把新证书部署到上次使用的命名目标
func (a *App) redeployRenewed(ctx context.Context, renewed []*model.ManagedCertificate) {
	for _, cert := range renewed {
		if cert.LastDeployTarget == "" {
			continue
		}
		if _, ok := a.cfg.DeployTargets[cert.LastDeployTarget]; !ok {
			continue
		}
		if _, err := a.StartDeploy(ctx, &DeployRequest{CertificateID: cert.ID, TargetName: cert.LastDeployTarget}); err != nil {
			a.log.WithTrace(ctx).WithErr(err).WithFields(map[string]interface{}{
				"certificate_id": cert.ID,
				"target":         cert.LastDeployTarget,
			}).Warn("续期后重新部署失败")
		}
	}
}

// ExpirySweep 把已过期的有效证书置为 expired，返回处理数量
func (a *App) ExpirySweep(ctx context.Context) (int, error) {
	active, err := a.store.Certificates().ListByStatus(ctx, model.CertificateStatusActive)
	if err != nil {
		return 0, a.err.New("查询有效证书失败", err)
	}

	now := a.now()
	status := model.CertificateStatusExpired
	expired := 0
	for _, c := range active {
		if !now.After(c.NotAfter) {
			continue
		}
		err := a.store.Certificates().TransitionStatus(ctx, c.ID, model.CertificateStatusActive, dao.CertificatePatch{Status: &status})
		if err != nil {
			if errorc.IsConflict(err) {
				continue
			}
			a.log.WithTrace(ctx).WithErr(err).WithField("certificate_id", c.ID).Error("标记证书过期失败")
			continue
		}
		expired++
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			CertificateID: service.Int64Ptr(c.ID),
			AuthorityID:   service.Int64Ptr(c.AuthorityID),
			EventType:     model.EventCertExpired,
			Description:   fmt.Sprintf("证书 %s 已过期", c.CommonName),
			Metadata:      common.JSON{"notAfter": c.NotAfter},
		})
	}
	if expired > 0 {
		a.log.WithTrace(ctx).WithField("count", expired).Info("过期扫描完成")
	}
	return expired, nil
}

// SetAutoRenew 修改自动续期开关和提前续期天数，只对有效证书生效
func (a *App) SetAutoRenew(ctx context.Context, id int64, autoRenew bool, renewBeforeDays int) (*model.ManagedCertificate, error) {
	patch := dao.CertificatePatch{AutoRenew: &autoRenew}
	if renewBeforeDays > 0 {
		patch.RenewBeforeDays = &renewBeforeDays
	}
	if err := a.store.Certificates().TransitionStatus(ctx, id, model.CertificateStatusActive, patch); err != nil {
		return nil, a.err.New("修改自动续期设置失败", err)
	}
	a.log.WithTrace(ctx).WithFields(map[string]interface{}{
		"certificate_id": id,
		"auto_renew":     autoRenew,
	}).Info("已修改自动续期设置")
	return a.GetCertificate(ctx, id)
}

// CertificateBundle 证书导出包
type CertificateBundle struct {
	CertificateID  int64  `json:"certificateId"`
	CommonName     string `json:"commonName"`
	Purpose        string `json:"purpose"`
	SerialHex      string `json:"serialHex"`
	Fingerprint    string `json:"fingerprint"`
	CertificatePem string `json:"certificatePem"`
	PrivateKeyPem  string `json:"privateKeyPem"`
	ChainPem       string `json:"chainPem"`
}

// GetBundle 导出证书、私钥和完整链（证书 + CA 链）
func (a *App) GetBundle(ctx context.Context, id int64) (*CertificateBundle, error) {
	cert, err := a.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	authority, err := a.GetAuthority(ctx, cert.AuthorityID)
	if err != nil {
		return nil, err
	}
	keyPem, err := a.KeySeal.Open(cert.PrivateKeyPem)
	if err != nil {
		return nil, err
	}
	return &CertificateBundle{
		CertificateID:  cert.ID,
		CommonName:     cert.CommonName,
		Purpose:        cert.Purpose,
		SerialHex:      cert.SerialHex,
		Fingerprint:    cert.Fingerprint,
		CertificatePem: cert.CertificatePem,
		PrivateKeyPem:  keyPem,
		ChainPem:       cert.CertificatePem + authority.ChainPem,
	}, nil
}

func (a *App) GetCertificate(ctx context.Context, id int64) (*model.ManagedCertificate, error) {
	cert, err := a.store.Certificates().FindById(ctx, id)
	if err != nil {
		return nil, a.err.New("证书不存在", err)
	}
	return cert, nil
}

func (a *App) ListCertificates(ctx context.Context, query dao.CertificateQuery, page *mvc.Page) ([]*model.ManagedCertificate, int64, error) {
	list, total, err := a.store.Certificates().FindPage(ctx, query, page)
	if err != nil {
		return nil, 0, a.err.New("查询证书列表失败", err)
	}
	return list, total, nil
}

// Dashboard 概览数据
type Dashboard struct {
	Authorities   map[model.AuthorityStatus]int64   `json:"authorities"`
	Certificates  map[model.CertificateStatus]int64 `json:"certificates"`
	ExpiringSoon  int64                             `json:"expiringSoon"`
	RecentDeploys []*model.CertDeploymentLog        `json:"recentDeploys"`
}

func (a *App) Dashboard(ctx context.Context) (*Dashboard, error) {
	authorities, err := a.store.Authorities().CountByStatus(ctx)
	if err != nil {
		return nil, a.err.New("统计 CA 失败", err)
	}
	certificates, err := a.store.Certificates().CountByStatus(ctx)
	if err != nil {
		return nil, a.err.New("统计证书失败", err)
	}
	expiring, err := a.store.Certificates().CountActiveExpiringBefore(ctx, a.now().AddDate(0, 0, 30))
	if err != nil {
		return nil, a.err.New("统计即将过期证书失败", err)
	}
	deploys, err := a.store.DeployLogs().List(ctx, 0, 10)
	if err != nil {
		return nil, a.err.New("查询最近部署失败", err)
	}
	return &Dashboard{
		Authorities:   authorities,
		Certificates:  certificates,
		ExpiringSoon:  expiring,
		RecentDeploys: deploys,
	}, nil
}

// RotateResult 轮换结果
type RotateResult struct {
	Certificate *model.ManagedCertificate `json:"certificate"`
	Deploy      *model.CertDeploymentLog  `json:"deploy"`
}

// RotateCertificate 续期后立即把新证书部署到目标，等待部署结束
func (a *App) RotateCertificate(ctx context.Context, id int64, target DeployRequest) (result *RotateResult, err error) {
	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		CertificateID: service.Int64Ptr(id),
		EventType:     model.EventCertRotationStarted,
		Description:   "开始轮换证书",
		Metadata:      common.JSON{"target": target.TargetName},
	})
	defer func() {
		entry := service.AuditEntry{
			CertificateID: service.Int64Ptr(id),
			EventType:     model.EventCertRotationCompleted,
			Description:   "证书轮换完成",
			Err:           err,
		}
		if result != nil && result.Certificate != nil {
			entry.Metadata = common.JSON{"newCertificateId": result.Certificate.ID}
		}
		if err != nil {
			entry.Description = "证书轮换失败"
		}
		a.Audit.Record(ctx, a.store.AuditEvents(), entry)
	}()

	renewed, err := a.RenewCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	result = &RotateResult{Certificate: renewed}

	target.CertificateID = renewed.ID
	deploy, err := a.DeployAndWait(ctx, &target)
	result.Deploy = deploy
	if err != nil {
		return result, err
	}
	result.Certificate, err = a.GetCertificate(ctx, renewed.ID)
	return result, err
}

// subjectOf 从已签发的证书还原主题，续期时保持一致
func subjectOf(cert *model.ManagedCertificate) (service.Subject, error) {
	parsed, err := service.ParseCertificatePem(cert.CertificatePem)
	if err != nil {
		return service.Subject{}, errorc.New("解析原证书失败", err).CryptoFailure()
	}
	return subjectFromName(parsed), nil
}

func subjectFromName(cert *x509.Certificate) service.Subject {
	first := func(v []string) string {
		if len(v) == 0 {
			return ""
		}
		return v[0]
	}
	name := cert.Subject
	return service.Subject{
		CommonName:         name.CommonName,
		Organization:       first(name.Organization),
		OrganizationalUnit: first(name.OrganizationalUnit),
		Country:            first(name.Country),
		State:              first(name.Province),
		Locality:           first(name.Locality),
	}
}
