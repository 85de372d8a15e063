package model

import (
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/model/common"
)

// CertificateRevocationList 某个 CA 的完整吊销快照，创建后不再修改
type CertificateRevocationList struct {
	common.Model
	AuthorityID  int64     `gorm:"not null;uniqueIndex:idx_pki_crl_authority_number,priority:1" json:"authorityId" comment:"所属 CA"`
	CrlNumber    int64     `gorm:"not null;uniqueIndex:idx_pki_crl_authority_number,priority:2" json:"crlNumber" comment:"CRL 编号"`
	ThisUpdate   time.Time `gorm:"not null" json:"thisUpdate" comment:"本次更新时间"`
	NextUpdate   time.Time `gorm:"not null;index" json:"nextUpdate" comment:"下次更新时间"`
	CrlPem       string    `gorm:"type:text;not null" json:"crlPem" comment:"CRL PEM"`
	CrlDer       []byte    `gorm:"not null" json:"-" comment:"CRL DER"`
	RevokedCount int       `gorm:"not null" json:"revokedCount" comment:"吊销条目数"`
	Fingerprint  string    `gorm:"size:64;not null" json:"fingerprint" comment:"DER 的 SHA-256 指纹"`
}

func (CertificateRevocationList) TableName() string {
	return "pki_certificate_revocation_lists"
}
