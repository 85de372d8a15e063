package model

import (
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/model/common"
)

// CertificateAuthority 证书颁发机构，根 CA 的 ParentID 为空
type CertificateAuthority struct {
	common.Model
	Name               string            `gorm:"size:100;not null;uniqueIndex" json:"name" comment:"CA 名称"`
	CommonName         string            `gorm:"size:200;not null" json:"commonName" comment:"通用名称"`
	Organization       string            `gorm:"size:200" json:"organization" comment:"组织"`
	OrganizationalUnit string            `gorm:"size:200" json:"organizationalUnit" comment:"部门"`
	Country            string            `gorm:"size:10" json:"country" comment:"国家"`
	State              string            `gorm:"size:100" json:"state" comment:"省份"`
	Locality           string            `gorm:"size:100" json:"locality" comment:"城市"`
	KeyAlgorithm       KeyAlgorithm      `gorm:"size:20;not null" json:"keyAlgorithm" comment:"密钥算法"`
	KeySize            int               `gorm:"not null" json:"keySize" comment:"密钥长度"`
	SerialNumber       string            `gorm:"size:64;not null" json:"serialNumber" comment:"本证书序列号（十六进制）"`
	CertificatePem     string            `gorm:"type:text;not null" json:"certificatePem" comment:"证书 PEM"`
	PrivateKeyPem      string            `gorm:"type:text;not null" json:"-" comment:"私钥 PEM（可加密存储）"`
	Fingerprint        string            `gorm:"size:64;not null;uniqueIndex" json:"fingerprint" comment:"SHA-256 指纹"`
	NotBefore          time.Time         `gorm:"not null" json:"notBefore" comment:"生效时间"`
	NotAfter           time.Time         `gorm:"not null;index" json:"notAfter" comment:"过期时间"`
	NextSerialNumber   int64             `gorm:"not null;default:1" json:"nextSerialNumber" comment:"下一个签发序列号"`
	NextCrlNumber      int64             `gorm:"not null;default:1" json:"nextCrlNumber" comment:"下一个 CRL 编号"`
	ParentID           *int64            `gorm:"index" json:"parentId" comment:"上级 CA"`
	PathLen            int               `gorm:"not null" json:"pathLen" comment:"路径长度约束，-1 表示不限"`
	ChainPem           string            `gorm:"type:text;not null" json:"chainPem" comment:"证书链 PEM（本证书 + 上级链）"`
	Status             AuthorityStatus   `gorm:"size:20;not null;index;default:'active'" json:"status" comment:"状态"`
	RevokedAt          *time.Time        `json:"revokedAt" comment:"吊销时间"`
	RevocationReason   *RevocationReason `json:"revocationReason" comment:"吊销原因"`
	Description        string            `gorm:"size:500" json:"description" comment:"描述"`
}

func (CertificateAuthority) TableName() string {
	return "pki_certificate_authorities"
}

func (a *CertificateAuthority) IsRoot() bool {
	return a.ParentID == nil
}

func (a *CertificateAuthority) IsActive() bool {
	return a.Status == AuthorityStatusActive
}
