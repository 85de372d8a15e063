package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/model/common"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"

	"golang.org/x/crypto/ocsp"
)

const (
	crlCacheTTL      = 5 * time.Minute
	ocspValidity     = 24 * time.Hour
	crlRefreshWindow = 24 * time.Hour
)

// CertStatus 证书状态查询结果
type CertStatus string

const (
	CertStatusGood    CertStatus = "good"
	CertStatusRevoked CertStatus = "revoked"
	CertStatusUnknown CertStatus = "unknown"
)

// StatusResult 吊销状态，Revoked 时带原因和时间
type StatusResult struct {
	AuthorityID int64                   `json:"authorityId"`
	Serial      int64                   `json:"serial"`
	SerialHex   string                  `json:"serialHex"`
	Status      CertStatus              `json:"status"`
	RevokedAt   *time.Time              `json:"revokedAt,omitempty"`
	Reason      *model.RevocationReason `json:"reason,omitempty"`
}

func crlCacheKey(authorityID int64) string {
	return fmt.Sprintf("pki:crl:%d", authorityID)
}

// GenerateCrl 生成 CA 的完整吊销快照，包含被吊销的证书和下级 CA
func (a *App) GenerateCrl(ctx context.Context, authorityID int64) (crl *model.CertificateRevocationList, err error) {
	log := a.log.WithTrace(ctx).WithField("authority_id", authorityID)

	defer func() {
		if err == nil {
			return
		}
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			AuthorityID: service.Int64Ptr(authorityID),
			EventType:   model.EventCrlGenerated,
			Description: "生成 CRL 失败",
			Err:         err,
		})
	}()

	authority, err := a.store.Authorities().FindById(ctx, authorityID)
	if err != nil {
		return nil, a.err.New("CA 不存在", err)
	}
	issuer, err := a.loadIssuer(authority)
	if err != nil {
		return nil, err
	}

	err = a.store.Transaction(ctx, func(tx dao.Store) error {
		number, err := a.Allocator.NextCrlNumber(ctx, tx.Authorities(), authorityID)
		if err != nil {
			return err
		}
		entries, err := a.revokedEntries(ctx, tx, authorityID)
		if err != nil {
			return err
		}

		thisUpdate := a.now()
		signed, err := a.Crypto.SignCRL(issuer, entries, number, thisUpdate, thisUpdate.Add(a.cfg.CrlValidity()))
		if err != nil {
			return err
		}
		crl = &model.CertificateRevocationList{
			AuthorityID:  authorityID,
			CrlNumber:    number,
			ThisUpdate:   thisUpdate,
			NextUpdate:   thisUpdate.Add(a.cfg.CrlValidity()),
			CrlPem:       signed.Pem,
			CrlDer:       signed.Der,
			RevokedCount: len(entries),
			Fingerprint:  signed.Fingerprint,
		}
		if err := tx.Crls().Create(ctx, crl); err != nil {
			return a.err.New("保存 CRL 失败", err)
		}
		return nil
	})
	if err != nil {
		crl = nil
		return nil, err
	}

	a.evict(ctx, crlCacheKey(authorityID))
	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		AuthorityID: service.Int64Ptr(authorityID),
		EventType:   model.EventCrlGenerated,
		Description: fmt.Sprintf("生成 CRL #%d，吊销条目 %d", crl.CrlNumber, crl.RevokedCount),
		Metadata: common.JSON{
			"crlNumber":    crl.CrlNumber,
			"revokedCount": crl.RevokedCount,
			"nextUpdate":   crl.NextUpdate,
			"fingerprint":  crl.Fingerprint,
		},
	})
	log.WithField("crl_number", crl.CrlNumber).WithField("revoked", crl.RevokedCount).Info("CRL 生成成功")
	return crl, nil
}

func (a *App) revokedEntries(ctx context.Context, tx dao.Store, authorityID int64) ([]service.RevokedEntry, error) {
	certs, err := tx.Certificates().ListByAuthority(ctx, authorityID, model.CertificateStatusRevoked)
	if err != nil {
		return nil, a.err.New("查询已吊销证书失败", err)
	}
	entries := make([]service.RevokedEntry, 0, len(certs))
	for _, c := range certs {
		entries = append(entries, service.RevokedEntry{
			Serial:    big.NewInt(c.SerialNumber),
			RevokedAt: derefTime(c.RevokedAt, c.UpdatedAt),
			Reason:    derefReason(c.RevocationReason),
		})
	}

	children, err := tx.Authorities().ListChildren(ctx, authorityID)
	if err != nil {
		return nil, a.err.New("查询下级 CA 失败", err)
	}
	for _, child := range children {
		if child.IsActive() {
			continue
		}
		serial, ok := new(big.Int).SetString(child.SerialNumber, 16)
		if !ok {
			a.log.WithTrace(ctx).WithField("authority_id", child.ID).Warn("下级 CA 序列号格式错误，跳过")
			continue
		}
		entries = append(entries, service.RevokedEntry{
			Serial:    serial,
			RevokedAt: derefTime(child.RevokedAt, child.UpdatedAt),
			Reason:    derefReason(child.RevocationReason),
		})
	}
	return entries, nil
}

// CheckStatus 查询 CA 下某个序列号的状态
// 未签发过的序列号为 unknown，过期或被替代但未吊销的证书为 good
func (a *App) CheckStatus(ctx context.Context, authorityID, serial int64) (*StatusResult, error) {
	if _, err := a.store.Authorities().FindById(ctx, authorityID); err != nil {
		return nil, a.err.New("CA 不存在", err)
	}

	result := &StatusResult{
		AuthorityID: authorityID,
		Serial:      serial,
		SerialHex:   service.SerialHex(serial),
		Status:      CertStatusUnknown,
	}

	var certificateID *int64
	cert, err := a.store.Certificates().FindBySerial(ctx, authorityID, serial)
	switch {
	case err == nil:
		certificateID = service.Int64Ptr(cert.ID)
		result.Status = CertStatusGood
		if cert.Status == model.CertificateStatusRevoked {
			result.Status = CertStatusRevoked
			result.RevokedAt = cert.RevokedAt
			result.Reason = cert.RevocationReason
		}
	case errorc.IsNotFound(err):
		if err := a.matchChildAuthority(ctx, authorityID, serial, result); err != nil {
			return nil, err
		}
	default:
		return nil, a.err.New("查询证书失败", err)
	}

	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		CertificateID: certificateID,
		AuthorityID:   service.Int64Ptr(authorityID),
		EventType:     model.EventOcspQuery,
		Description:   fmt.Sprintf("查询序列号 %s 的状态：%s", result.SerialHex, result.Status),
		Metadata:      common.JSON{"serial": serial, "status": string(result.Status)},
	})
	return result, nil
}

func (a *App) matchChildAuthority(ctx context.Context, authorityID, serial int64, result *StatusResult) error {
	children, err := a.store.Authorities().ListChildren(ctx, authorityID)
	if err != nil {
		return a.err.New("查询下级 CA 失败", err)
	}
	target := big.NewInt(serial)
	for _, child := range children {
		s, ok := new(big.Int).SetString(child.SerialNumber, 16)
		if !ok || s.Cmp(target) != 0 {
			continue
		}
		result.Status = CertStatusGood
		if !child.IsActive() {
			result.Status = CertStatusRevoked
			result.RevokedAt = child.RevokedAt
			result.Reason = child.RevocationReason
		}
		return nil
	}
	return nil
}

// OCSP 解析 DER 请求并返回 CA 签名的应答
func (a *App) OCSP(ctx context.Context, authorityID int64, requestDer []byte) ([]byte, error) {
	req, err := ocsp.ParseRequest(requestDer)
	if err != nil {
		return nil, a.err.New("解析 OCSP 请求失败", err).ValidWithCtx()
	}

	authority, err := a.store.Authorities().FindById(ctx, authorityID)
	if err != nil {
		return nil, a.err.New("CA 不存在", err)
	}
	issuer, err := a.loadIssuer(authority)
	if err != nil {
		return nil, err
	}

	status := service.OCSPStatus{Serial: req.SerialNumber, Status: ocsp.Unknown}
	if req.SerialNumber.IsInt64() {
		result, err := a.CheckStatus(ctx, authorityID, req.SerialNumber.Int64())
		if err != nil {
			return nil, err
		}
		switch result.Status {
		case CertStatusGood:
			status.Status = ocsp.Good
		case CertStatusRevoked:
			status.Status = ocsp.Revoked
			status.RevokedAt = derefTime(result.RevokedAt, a.now())
			status.Reason = derefReason(result.Reason)
		}
	}

	now := a.now()
	return a.Crypto.SignOCSPResponse(issuer, status, now, now.Add(ocspValidity))
}

// LatestCrl 最新一份 CRL
func (a *App) LatestCrl(ctx context.Context, authorityID int64) (*model.CertificateRevocationList, error) {
	crl, err := a.store.Crls().FindLatest(ctx, authorityID)
	if err != nil {
		return nil, a.err.New("CRL 不存在", err)
	}
	return crl, nil
}

// LatestCrlDer 公开下载使用，结果缓存到新 CRL 生成为止
func (a *App) LatestCrlDer(ctx context.Context, authorityID int64) ([]byte, error) {
	var der []byte
	err := a.cached(ctx, crlCacheKey(authorityID), crlCacheTTL, &der, func() (interface{}, error) {
		crl, err := a.LatestCrl(ctx, authorityID)
		if err != nil {
			return nil, err
		}
		return crl.CrlDer, nil
	})
	if err != nil {
		return nil, err
	}
	return der, nil
}

func (a *App) ListCrls(ctx context.Context, authorityID int64, limit int) ([]*model.CertificateRevocationList, error) {
	list, err := a.store.Crls().ListByAuthority(ctx, authorityID, dao.NormalizeLimit(limit))
	if err != nil {
		return nil, a.err.New("查询 CRL 列表失败", err)
	}
	return list, nil
}

// RefreshDueCrls 为没有 CRL 或 CRL 即将到期的有效 CA 重新生成
func (a *App) RefreshDueCrls(ctx context.Context) (int, error) {
	authorities, err := a.ListAuthorities(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	deadline := a.now().Add(crlRefreshWindow)
	for _, authority := range authorities {
		if !authority.IsActive() {
			continue
		}
		latest, err := a.store.Crls().FindLatest(ctx, authority.ID)
		if err != nil && !errorc.IsNotFound(err) {
			a.log.WithTrace(ctx).WithErr(err).WithField("authority_id", authority.ID).Error("查询最新 CRL 失败")
			continue
		}
		if latest != nil && latest.NextUpdate.After(deadline) {
			continue
		}
		if _, err := a.GenerateCrl(ctx, authority.ID); err != nil {
			a.log.WithTrace(ctx).WithErr(err).WithField("authority_id", authority.ID).Error("刷新 CRL 失败")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func derefTime(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

func derefReason(r *model.RevocationReason) model.RevocationReason {
	if r == nil {
		return model.ReasonUnspecified
	}
	return *r
}
