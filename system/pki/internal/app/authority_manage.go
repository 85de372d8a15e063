package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/model/common"
	"github.com/xsxdot/aio-pki/system/pki/internal/dao"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"
)

const (
	defaultRootKeySize      = 4096
	defaultRootValidityDays = 3650
	chainCacheTTL           = 10 * time.Minute
)

// CreateAuthorityRequest 创建根 CA 或中间 CA
type CreateAuthorityRequest struct {
	Name         string
	Subject      service.Subject
	KeyAlgorithm model.KeyAlgorithm
	KeySize      int
	ValidityDays int
	// PathLen 仅对中间 CA 生效，nil 时为 0
	PathLen     *int
	Description string
}

func (r *CreateAuthorityRequest) normalize(defaultDays int) {
	if r.Name == "" {
		r.Name = r.Subject.CommonName
	}
	if r.KeyAlgorithm == "" {
		r.KeyAlgorithm = model.KeyAlgorithmRSA
	}
	if r.KeySize <= 0 {
		if r.KeyAlgorithm == model.KeyAlgorithmECDSA {
			r.KeySize = 384
		} else {
			r.KeySize = defaultRootKeySize
		}
	}
	if r.ValidityDays <= 0 {
		r.ValidityDays = defaultDays
	}
}

func chainCacheKey(authorityID int64) string {
	return fmt.Sprintf("pki:chain:%d", authorityID)
}

// CreateRoot 生成密钥并自签根证书
func (a *App) CreateRoot(ctx context.Context, req *CreateAuthorityRequest) (authority *model.CertificateAuthority, err error) {
	req.normalize(defaultRootValidityDays)
	log := a.log.WithTrace(ctx).WithFields(map[string]interface{}{
		"name":        req.Name,
		"common_name": req.Subject.CommonName,
	})
	log.Info("开始创建根 CA")

	defer func() {
		if err == nil {
			return
		}
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			EventType:   model.EventCaCreated,
			Description: fmt.Sprintf("创建根 CA %s 失败", req.Name),
			Err:         err,
		})
	}()

	if err = a.ensureAuthorityName(ctx, req.Name); err != nil {
		return nil, err
	}

	key, err := a.Crypto.GenerateKey(req.KeyAlgorithm, req.KeySize)
	if err != nil {
		return nil, err
	}
	now := a.now()
	signed, err := a.Crypto.SelfSignRoot(req.Subject, key, now, now.AddDate(0, 0, req.ValidityDays), -1)
	if err != nil {
		return nil, err
	}
	sealed, err := a.KeySeal.Seal(key.PrivateKeyPem)
	if err != nil {
		return nil, err
	}

	authority = &model.CertificateAuthority{
		Name:             req.Name,
		KeyAlgorithm:     key.Algorithm,
		KeySize:          key.Size,
		SerialNumber:     strings.ToUpper(signed.Cert.SerialNumber.Text(16)),
		CertificatePem:   signed.Pem,
		PrivateKeyPem:    sealed,
		Fingerprint:      signed.Fingerprint,
		NotBefore:        signed.Cert.NotBefore,
		NotAfter:         signed.Cert.NotAfter,
		NextSerialNumber: 1,
		NextCrlNumber:    1,
		PathLen:          -1,
		ChainPem:         signed.Pem,
		Status:           model.AuthorityStatusActive,
		Description:      req.Description,
	}
	applySubject(authority, req.Subject)

	if err = a.store.Authorities().Create(ctx, authority); err != nil {
		return nil, a.err.New("保存根 CA 失败", err)
	}

	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		AuthorityID: service.Int64Ptr(authority.ID),
		EventType:   model.EventCaCreated,
		Description: fmt.Sprintf("创建根 CA %s", authority.Name),
		Metadata: common.JSON{
			"fingerprint":  authority.Fingerprint,
			"keyAlgorithm": string(authority.KeyAlgorithm),
			"keySize":      authority.KeySize,
			"notAfter":     authority.NotAfter,
		},
	})
	log.WithField("authority_id", authority.ID).Info("根 CA 创建成功")
	return authority, nil
}

// CreateIntermediate 由上级 CA 签发中间 CA
// 有效期超出上级 CA 时在分配序列号之前拒绝，不落任何数据
func (a *App) CreateIntermediate(ctx context.Context, parentID int64, req *CreateAuthorityRequest) (authority *model.CertificateAuthority, err error) {
	req.normalize(defaultRootValidityDays / 2)
	log := a.log.WithTrace(ctx).WithFields(map[string]interface{}{
		"parent_id": parentID,
		"name":      req.Name,
	})
	log.Info("开始创建中间 CA")

	defer func() {
		if err == nil {
			return
		}
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			AuthorityID: service.Int64Ptr(parentID),
			EventType:   model.EventIntermediateCaCreated,
			Description: fmt.Sprintf("创建中间 CA %s 失败", req.Name),
			Err:         err,
		})
	}()

	parent, err := a.store.Authorities().FindById(ctx, parentID)
	if err != nil {
		return nil, a.err.New("上级 CA 不存在", err)
	}
	if !parent.IsActive() {
		return nil, a.err.New("上级 CA 已被吊销", nil).Conflict()
	}
	if parent.PathLen == 0 {
		return nil, a.err.New("上级 CA 路径长度为 0，不能再签发中间 CA", nil).Conflict()
	}

	pathLen := 0
	if req.PathLen != nil {
		pathLen = *req.PathLen
	}
	if pathLen < 0 || (parent.PathLen > 0 && pathLen > parent.PathLen-1) {
		return nil, a.err.New(fmt.Sprintf("路径长度 %d 超出上级 CA 的限制", pathLen), nil).ValidWithCtx()
	}

	now := a.now()
	notAfter := now.AddDate(0, 0, req.ValidityDays)
	if notAfter.After(parent.NotAfter) {
		return nil, a.err.New(fmt.Sprintf("有效期超出上级 CA（%s 过期）", parent.NotAfter.Format(time.RFC3339)), nil).ValidityViolation()
	}
	if err = a.ensureAuthorityName(ctx, req.Name); err != nil {
		return nil, err
	}

	issuer, err := a.loadIssuer(parent)
	if err != nil {
		return nil, err
	}
	key, err := a.Crypto.GenerateKey(req.KeyAlgorithm, req.KeySize)
	if err != nil {
		return nil, err
	}
	sealed, err := a.KeySeal.Seal(key.PrivateKeyPem)
	if err != nil {
		return nil, err
	}

	err = a.store.Transaction(ctx, func(tx dao.Store) error {
		serial, err := a.Allocator.NextSerial(ctx, tx.Authorities(), parent.ID)
		if err != nil {
			return err
		}
		signed, err := a.Crypto.SignCertificate(issuer, &service.SignRequest{
			Subject:   req.Subject,
			PublicKey: key.Signer.Public(),
			Serial:    serial,
			NotBefore: now,
			NotAfter:  notAfter,
			IsCA:      true,
			PathLen:   pathLen,
		})
		if err != nil {
			return err
		}

		authority = &model.CertificateAuthority{
			Name:             req.Name,
			KeyAlgorithm:     key.Algorithm,
			KeySize:          key.Size,
			SerialNumber:     service.SerialHex(serial),
			CertificatePem:   signed.Pem,
			PrivateKeyPem:    sealed,
			Fingerprint:      signed.Fingerprint,
			NotBefore:        signed.Cert.NotBefore,
			NotAfter:         signed.Cert.NotAfter,
			NextSerialNumber: 1,
			NextCrlNumber:    1,
			ParentID:         service.Int64Ptr(parent.ID),
			PathLen:          pathLen,
			ChainPem:         signed.Pem + parent.ChainPem,
			Status:           model.AuthorityStatusActive,
			Description:      req.Description,
		}
		applySubject(authority, req.Subject)

		if err := tx.Authorities().Create(ctx, authority); err != nil {
			return a.err.New("保存中间 CA 失败", err)
		}
		return nil
	})
	if err != nil {
		authority = nil
		return nil, err
	}

	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		AuthorityID: service.Int64Ptr(authority.ID),
		EventType:   model.EventIntermediateCaCreated,
		Description: fmt.Sprintf("由 %s 签发中间 CA %s", parent.Name, authority.Name),
		Metadata: common.JSON{
			"parentId":     parent.ID,
			"serialNumber": authority.SerialNumber,
			"fingerprint":  authority.Fingerprint,
			"pathLen":      pathLen,
		},
	})
	log.WithField("authority_id", authority.ID).Info("中间 CA 创建成功")
	return authority, nil
}

// RevokeAuthority 吊销 CA；开启级联时一并吊销其签发的有效证书和下级 CA
func (a *App) RevokeAuthority(ctx context.Context, id int64, reason model.RevocationReason) (err error) {
	log := a.log.WithTrace(ctx).WithField("authority_id", id)

	if !reason.Valid() {
		err = a.err.BadRequest(fmt.Sprintf("无效的吊销原因 %d", int(reason)))
	}

	var (
		authority *model.CertificateAuthority
		cascade   cascadeResult
	)
	if err == nil {
		err = a.store.Transaction(ctx, func(tx dao.Store) error {
			found, err := tx.Authorities().FindById(ctx, id)
			if err != nil {
				return a.err.New("CA 不存在", err)
			}
			authority = found
			at := a.now()
			if err := tx.Authorities().MarkRevoked(ctx, id, reason, at); err != nil {
				return err
			}
			if a.cfg.CascadeRevoke {
				return a.cascadeRevoke(ctx, tx, id, at, &cascade)
			}
			return nil
		})
	}

	if err != nil {
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			AuthorityID: service.Int64Ptr(id),
			EventType:   model.EventCaRevoked,
			Description: "吊销 CA 失败",
			Err:         err,
		})
		return err
	}

	a.evict(ctx, chainCacheKey(id))
	for _, child := range cascade.authorities {
		a.evict(ctx, chainCacheKey(child))
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			AuthorityID: service.Int64Ptr(child),
			EventType:   model.EventCaRevoked,
			Description: fmt.Sprintf("上级 CA %s 被吊销，级联吊销", authority.Name),
			Metadata:    common.JSON{"reason": model.ReasonCACompromise.String()},
		})
	}
	for _, cert := range cascade.certificates {
		a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
			CertificateID: service.Int64Ptr(cert.id),
			AuthorityID:   service.Int64Ptr(cert.authorityID),
			EventType:     model.EventCertRevoked,
			Description:   fmt.Sprintf("签发 CA 被吊销，级联吊销证书 %s", cert.commonName),
			Metadata:      common.JSON{"reason": model.ReasonCACompromise.String()},
		})
	}

	a.Audit.Record(ctx, a.store.AuditEvents(), service.AuditEntry{
		AuthorityID: service.Int64Ptr(id),
		EventType:   model.EventCaRevoked,
		Description: fmt.Sprintf("吊销 CA %s", authority.Name),
		Metadata: common.JSON{
			"reason":              reason.String(),
			"cascadeAuthorities":  len(cascade.authorities),
			"cascadeCertificates": len(cascade.certificates),
		},
	})
	log.WithField("reason", reason.String()).Info("CA 已吊销")
	return nil
}

type cascadeResult struct {
	authorities  []int64
	certificates []cascadeCert
}

type cascadeCert struct {
	id          int64
	authorityID int64
	commonName  string
}

func (a *App) cascadeRevoke(ctx context.Context, tx dao.Store, authorityID int64, at time.Time, out *cascadeResult) error {
	certs, err := tx.Certificates().ListByAuthority(ctx, authorityID, model.CertificateStatusActive)
	if err != nil {
		return a.err.New("查询 CA 签发的证书失败", err)
	}
	status := model.CertificateStatusRevoked
	reason := model.ReasonCACompromise
	for _, cert := range certs {
		revokedAt := maxTime(at, cert.NotBefore)
		patch := dao.CertificatePatch{Status: &status, RevokedAt: &revokedAt, RevocationReason: &reason}
		if err := tx.Certificates().TransitionStatus(ctx, cert.ID, model.CertificateStatusActive, patch); err != nil {
			return a.err.New("级联吊销证书失败", err)
		}
		out.certificates = append(out.certificates, cascadeCert{id: cert.ID, authorityID: authorityID, commonName: cert.CommonName})
	}

	children, err := tx.Authorities().ListChildren(ctx, authorityID)
	if err != nil {
		return a.err.New("查询下级 CA 失败", err)
	}
	for _, child := range children {
		if !child.IsActive() {
			continue
		}
		if err := tx.Authorities().MarkRevoked(ctx, child.ID, reason, at); err != nil {
			return err
		}
		out.authorities = append(out.authorities, child.ID)
		if err := a.cascadeRevoke(ctx, tx, child.ID, at, out); err != nil {
			return err
		}
	}
	return nil
}

// GetChain 返回 CA 证书链（本证书 + 上级链），公开下载接口使用缓存
func (a *App) GetChain(ctx context.Context, id int64) (string, error) {
	var chain string
	err := a.cached(ctx, chainCacheKey(id), chainCacheTTL, &chain, func() (interface{}, error) {
		authority, err := a.store.Authorities().FindById(ctx, id)
		if err != nil {
			return nil, a.err.New("CA 不存在", err)
		}
		return authority.ChainPem, nil
	})
	if err != nil {
		return "", err
	}
	return chain, nil
}

func (a *App) GetAuthority(ctx context.Context, id int64) (*model.CertificateAuthority, error) {
	authority, err := a.store.Authorities().FindById(ctx, id)
	if err != nil {
		return nil, a.err.New("CA 不存在", err)
	}
	return authority, nil
}

func (a *App) ListAuthorities(ctx context.Context) ([]*model.CertificateAuthority, error) {
	list, err := a.store.Authorities().List(ctx)
	if err != nil {
		return nil, a.err.New("查询 CA 列表失败", err)
	}
	return list, nil
}

func (a *App) ensureAuthorityName(ctx context.Context, name string) error {
	exists, err := a.store.Authorities().ExistsByName(ctx, name)
	if err != nil {
		return a.err.New("检查 CA 名称失败", err)
	}
	if exists {
		return a.err.New(fmt.Sprintf("CA 名称 %s 已存在", name), nil).Conflict()
	}
	return nil
}

// loadIssuer 解封私钥并构造签发者，CA 必须在有效期内
func (a *App) loadIssuer(authority *model.CertificateAuthority) (*service.Issuer, error) {
	keyPem, err := a.KeySeal.Open(authority.PrivateKeyPem)
	if err != nil {
		return nil, err
	}
	return a.Crypto.LoadIssuer(authority.ID, authority.CertificatePem, keyPem)
}

func applySubject(authority *model.CertificateAuthority, subject service.Subject) {
	authority.CommonName = subject.CommonName
	authority.Organization = subject.Organization
	authority.OrganizationalUnit = subject.OrganizationalUnit
	authority.Country = subject.Country
	authority.State = subject.State
	authority.Locality = subject.Locality
}

func maxTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
