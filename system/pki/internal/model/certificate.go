package model

import (
	"strings"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/model/common"
)

// ManagedCertificate 托管证书
// 续期链：ReplacesID 指向被替代的旧证书，ReplacedByID 指向替代它的新证书；
// 当且仅当 ReplacedByID 非空时状态为 superseded
type ManagedCertificate struct {
	common.Model
	AuthorityID             int64             `gorm:"not null;uniqueIndex:idx_pki_cert_authority_serial,priority:1" json:"authorityId" comment:"签发 CA"`
	SerialNumber            int64             `gorm:"not null;uniqueIndex:idx_pki_cert_authority_serial,priority:2" json:"serialNumber" comment:"序列号"`
	SerialHex               string            `gorm:"size:32;not null" json:"serialHex" comment:"序列号（16 位十六进制）"`
	CommonName              string            `gorm:"size:200;not null;index" json:"commonName" comment:"通用名称"`
	SubjectAlternativeNames string            `gorm:"size:1000" json:"subjectAlternativeNames" comment:"备用名称（逗号分隔）"`
	CertType                CertType          `gorm:"size:20;not null" json:"certType" comment:"证书类型"`
	Purpose                 string            `gorm:"size:100;index" json:"purpose" comment:"用途标签"`
	KeyAlgorithm            KeyAlgorithm      `gorm:"size:20;not null" json:"keyAlgorithm" comment:"密钥算法"`
	KeySize                 int               `gorm:"not null" json:"keySize" comment:"密钥长度"`
	CertificatePem          string            `gorm:"type:text;not null" json:"certificatePem" comment:"证书 PEM"`
	PrivateKeyPem           string            `gorm:"type:text;not null" json:"-" comment:"私钥 PEM（可加密存储）"`
	Fingerprint             string            `gorm:"size:64;not null;uniqueIndex" json:"fingerprint" comment:"SHA-256 指纹"`
	NotBefore               time.Time         `gorm:"not null" json:"notBefore" comment:"生效时间"`
	NotAfter                time.Time         `gorm:"not null;index" json:"notAfter" comment:"过期时间"`
	Status                  CertificateStatus `gorm:"size:20;not null;index;default:'active'" json:"status" comment:"状态"`
	RenewBeforeDays         int               `gorm:"not null;default:30" json:"renewBeforeDays" comment:"提前多少天续期"`
	AutoRenew               bool              `gorm:"not null" json:"autoRenew" comment:"是否自动续期"`
	ReplacesID              *int64            `gorm:"index" json:"replacesId" comment:"替代的旧证书"`
	ReplacedByID            *int64            `gorm:"index" json:"replacedById" comment:"被哪张证书替代"`
	RevokedAt               *time.Time        `json:"revokedAt" comment:"吊销时间"`
	RevocationReason        *RevocationReason `json:"revocationReason" comment:"吊销原因"`
	LastDeployTarget        string            `gorm:"size:100" json:"lastDeployTarget" comment:"最近部署目标"`
	LastDeployedAt          *time.Time        `json:"lastDeployedAt" comment:"最近部署时间"`
	LastRenewalAttemptAt    *time.Time        `json:"lastRenewalAttemptAt" comment:"最近续期尝试时间"`
	LastRenewalOutcome      string            `gorm:"size:500" json:"lastRenewalOutcome" comment:"最近续期结果"`
}

func (ManagedCertificate) TableName() string {
	return "pki_managed_certificates"
}

func (c *ManagedCertificate) IsActive() bool {
	return c.Status == CertificateStatusActive
}

// SANs 拆分逗号分隔的备用名称
func (c *ManagedCertificate) SANs() []string {
	return SplitSANs(c.SubjectAlternativeNames)
}

// DaysRemaining 距离过期的整天数，已过期时为负数
func (c *ManagedCertificate) DaysRemaining(now time.Time) int {
	return int(c.NotAfter.Sub(now).Hours() / 24)
}

// DueForRenewal 剩余有效期不超过提前续期天数
func (c *ManagedCertificate) DueForRenewal(now time.Time) bool {
	return c.NotAfter.Sub(now) <= time.Duration(c.RenewBeforeDays)*24*time.Hour
}

func SplitSANs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
