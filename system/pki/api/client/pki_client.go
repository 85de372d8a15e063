package client

import (
	"context"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/system/pki/api/dto"
	"github.com/xsxdot/aio-pki/system/pki/internal/app"
	"github.com/xsxdot/aio-pki/system/pki/internal/model"
	"github.com/xsxdot/aio-pki/system/pki/internal/service"
)

// PkiClient 证书中心对外客户端
// 供其他组件签发和查询内部证书
type PkiClient struct {
	app *app.App
	err *errorc.ErrorBuilder
}

func NewPkiClient(appInstance *app.App) *PkiClient {
	return &PkiClient{
		app: appInstance,
		err: errorc.NewErrorBuilder("PkiClient"),
	}
}

// IssueCertificate 签发证书
func (c *PkiClient) IssueCertificate(ctx context.Context, req *dto.IssueCertificateReq) (*dto.CertificateDTO, error) {
	cert, err := c.app.IssueCertificate(ctx, IssueRequest(req))
	if err != nil {
		return nil, err
	}
	return ToCertificateDTO(cert, time.Now()), nil
}

func (c *PkiClient) GetCertificate(ctx context.Context, id int64) (*dto.CertificateDTO, error) {
	cert, err := c.app.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToCertificateDTO(cert, time.Now()), nil
}

// RevokeCertificate 按原因名称吊销
func (c *PkiClient) RevokeCertificate(ctx context.Context, id int64, reason string) error {
	r, ok := model.ParseRevocationReason(reason)
	if !ok {
		return c.err.BadRequest("无效的吊销原因: " + reason)
	}
	return c.app.RevokeCertificate(ctx, id, r)
}

// CheckStatus 查询序列号的吊销状态
func (c *PkiClient) CheckStatus(ctx context.Context, authorityID, serial int64) (*dto.StatusDTO, error) {
	result, err := c.app.CheckStatus(ctx, authorityID, serial)
	if err != nil {
		return nil, err
	}
	return ToStatusDTO(result), nil
}

// GetChain CA 证书链 PEM
func (c *PkiClient) GetChain(ctx context.Context, authorityID int64) (string, error) {
	return c.app.GetChain(ctx, authorityID)
}

// IssueRequest 将对外请求转换为内部签发请求
func IssueRequest(req *dto.IssueCertificateReq) *app.IssueCertificateRequest {
	return &app.IssueCertificateRequest{
		AuthorityID:        req.AuthorityID,
		CommonName:         req.CommonName,
		Organization:       req.Organization,
		OrganizationalUnit: req.OrganizationalUnit,
		SANs:               model.SplitSANs(req.SANs),
		CertType:           model.CertType(req.CertType),
		Purpose:            req.Purpose,
		ValidityDays:       req.ValidityDays,
		KeyAlgorithm:       model.KeyAlgorithm(req.KeyAlgorithm),
		KeySize:            req.KeySize,
		RenewBeforeDays:    req.RenewBeforeDays,
		AutoRenew:          req.AutoRenew,
	}
}

func AuthorityRequest(req *dto.CreateAuthorityReq) *app.CreateAuthorityRequest {
	return &app.CreateAuthorityRequest{
		Name: req.Name,
		Subject: service.Subject{
			CommonName:         req.CommonName,
			Organization:       req.Organization,
			OrganizationalUnit: req.OrganizationalUnit,
			Country:            req.Country,
			State:              req.State,
			Locality:           req.Locality,
		},
		KeyAlgorithm: model.KeyAlgorithm(req.KeyAlgorithm),
		KeySize:      req.KeySize,
		ValidityDays: req.ValidityDays,
		PathLen:      req.PathLen,
		Description:  req.Description,
	}
}

func DeployRequest(certificateID int64, req *dto.DeployReq) *app.DeployRequest {
	out := &app.DeployRequest{CertificateID: certificateID, TargetName: req.TargetName}
	if t := req.Target; t != nil {
		out.Target = &config.DeployTargetConfig{
			Kind:       t.Kind,
			Path:       t.Path,
			Container:  t.Container,
			Host:       t.Host,
			Port:       t.Port,
			Username:   t.Username,
			Password:   t.Password,
			PrivateKey: t.PrivateKey,
			HostKey:    t.HostKey,
			CertName:   t.CertName,
			KeyName:    t.KeyName,
			ChainName:  t.ChainName,
			Region:     t.Region,
			Bucket:     t.Bucket,
			Prefix:     t.Prefix,
			Domains:    t.Domains,
		}
	}
	return out
}

func ToAuthorityDTO(a *model.CertificateAuthority) *dto.AuthorityDTO {
	out := &dto.AuthorityDTO{
		ID:             a.ID,
		Name:           a.Name,
		CommonName:     a.CommonName,
		Organization:   a.Organization,
		KeyAlgorithm:   string(a.KeyAlgorithm),
		KeySize:        a.KeySize,
		SerialNumber:   a.SerialNumber,
		Fingerprint:    a.Fingerprint,
		NotBefore:      a.NotBefore,
		NotAfter:       a.NotAfter,
		ParentID:       a.ParentID,
		PathLen:        a.PathLen,
		Status:         string(a.Status),
		RevokedAt:      a.RevokedAt,
		CertificatePem: a.CertificatePem,
	}
	if a.RevocationReason != nil {
		out.RevocationReason = a.RevocationReason.String()
	}
	return out
}

func ToCertificateDTO(c *model.ManagedCertificate, now time.Time) *dto.CertificateDTO {
	out := &dto.CertificateDTO{
		ID:               c.ID,
		AuthorityID:      c.AuthorityID,
		SerialNumber:     c.SerialNumber,
		SerialHex:        c.SerialHex,
		CommonName:       c.CommonName,
		SANs:             c.SANs(),
		CertType:         string(c.CertType),
		Purpose:          c.Purpose,
		KeyAlgorithm:     string(c.KeyAlgorithm),
		Fingerprint:      c.Fingerprint,
		NotBefore:        c.NotBefore,
		NotAfter:         c.NotAfter,
		DaysRemaining:    c.DaysRemaining(now),
		Status:           string(c.Status),
		AutoRenew:        c.AutoRenew,
		RenewBeforeDays:  c.RenewBeforeDays,
		ReplacesID:       c.ReplacesID,
		ReplacedByID:     c.ReplacedByID,
		RevokedAt:        c.RevokedAt,
		LastDeployTarget: c.LastDeployTarget,
		LastDeployedAt:   c.LastDeployedAt,
		CertificatePem:   c.CertificatePem,
	}
	if c.RevocationReason != nil {
		out.RevocationReason = c.RevocationReason.String()
	}
	return out
}

func ToStatusDTO(r *app.StatusResult) *dto.StatusDTO {
	out := &dto.StatusDTO{
		AuthorityID: r.AuthorityID,
		Serial:      r.Serial,
		SerialHex:   r.SerialHex,
		Status:      string(r.Status),
		RevokedAt:   r.RevokedAt,
	}
	if r.Reason != nil {
		out.Reason = r.Reason.String()
	}
	return out
}
