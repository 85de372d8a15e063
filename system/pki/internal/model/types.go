package model

import (
	"fmt"
	"strings"
)

// AuthorityStatus CA 状态
type AuthorityStatus string

const (
	AuthorityStatusActive  AuthorityStatus = "active"
	AuthorityStatusRevoked AuthorityStatus = "revoked"
)

// CertificateStatus 托管证书状态，除 active 外均为终态
type CertificateStatus string

const (
	CertificateStatusActive     CertificateStatus = "active"
	CertificateStatusRevoked    CertificateStatus = "revoked"
	CertificateStatusExpired    CertificateStatus = "expired"
	CertificateStatusSuperseded CertificateStatus = "superseded" // 已被续期后的新证书替代
)

// KeyAlgorithm 密钥算法
type KeyAlgorithm string

const (
	KeyAlgorithmRSA   KeyAlgorithm = "RSA"
	KeyAlgorithmECDSA KeyAlgorithm = "ECDSA"
)

// CertType 证书用途类型
type CertType string

const (
	CertTypeServer CertType = "server" // serverAuth
	CertTypeClient CertType = "client" // clientAuth
	CertTypeBoth   CertType = "both"
)

// DeployStatus 部署状态，只允许 running -> completed / failed
type DeployStatus string

const (
	DeployStatusRunning   DeployStatus = "running"
	DeployStatusCompleted DeployStatus = "completed"
	DeployStatusFailed    DeployStatus = "failed"
)

// TargetKind 部署目标类型
type TargetKind string

const (
	TargetKindLocal     TargetKind = "local"      // 本机目录
	TargetKindContainer TargetKind = "container"  // 本机 docker 容器
	TargetKindSSH       TargetKind = "ssh"        // SSH 远端（可选远端容器）
	TargetKindOSS       TargetKind = "oss"        // 阿里云 OSS
	TargetKindAliyunCAS TargetKind = "aliyun_cas" // 阿里云证书服务，可绑定 CDN/DCDN
)

// LogLevel 部署日志级别
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// RevocationReason RFC 5280 吊销原因码
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonCACompromise         RevocationReason = 2
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
	ReasonCertificateHold      RevocationReason = 6
	ReasonRemoveFromCRL        RevocationReason = 8
	ReasonPrivilegeWithdrawn   RevocationReason = 9
	ReasonAACompromise         RevocationReason = 10
)

var reasonNames = map[RevocationReason]string{
	ReasonUnspecified:          "unspecified",
	ReasonKeyCompromise:        "keyCompromise",
	ReasonCACompromise:         "cACompromise",
	ReasonAffiliationChanged:   "affiliationChanged",
	ReasonSuperseded:           "superseded",
	ReasonCessationOfOperation: "cessationOfOperation",
	ReasonCertificateHold:      "certificateHold",
	ReasonRemoveFromCRL:        "removeFromCRL",
	ReasonPrivilegeWithdrawn:   "privilegeWithdrawn",
	ReasonAACompromise:         "aACompromise",
}

func (r RevocationReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(r))
}

func (r RevocationReason) Valid() bool {
	_, ok := reasonNames[r]
	return ok
}

// ParseRevocationReason 按名称解析，大小写不敏感
func ParseRevocationReason(name string) (RevocationReason, bool) {
	for r, n := range reasonNames {
		if strings.EqualFold(n, name) {
			return r, true
		}
	}
	return 0, false
}

// AuditEventType 审计事件类型，数值与历史数据保持一致
type AuditEventType int

const (
	EventCaCreated             AuditEventType = 0
	EventCaRevoked             AuditEventType = 1
	EventCertIssued            AuditEventType = 10
	EventCertRenewed           AuditEventType = 11
	EventCertRevoked           AuditEventType = 12
	EventCertExpired           AuditEventType = 13
	EventCertSuperseded        AuditEventType = 14
	EventCertDeployed          AuditEventType = 20
	EventCertDeployFailed      AuditEventType = 21
	EventAutoRenewTriggered    AuditEventType = 30
	EventAutoRenewFailed       AuditEventType = 31
	EventCrlGenerated          AuditEventType = 40
	EventOcspQuery             AuditEventType = 50
	EventIntermediateCaCreated AuditEventType = 60
	EventCertRotationStarted   AuditEventType = 70
	EventCertRotationCompleted AuditEventType = 71
)

var eventNames = map[AuditEventType]string{
	EventCaCreated:             "CaCreated",
	EventCaRevoked:             "CaRevoked",
	EventCertIssued:            "CertIssued",
	EventCertRenewed:           "CertRenewed",
	EventCertRevoked:           "CertRevoked",
	EventCertExpired:           "CertExpired",
	EventCertSuperseded:        "CertSuperseded",
	EventCertDeployed:          "CertDeployed",
	EventCertDeployFailed:      "CertDeployFailed",
	EventAutoRenewTriggered:    "AutoRenewTriggered",
	EventAutoRenewFailed:       "AutoRenewFailed",
	EventCrlGenerated:          "CrlGenerated",
	EventOcspQuery:             "OcspQuery",
	EventIntermediateCaCreated: "IntermediateCaCreated",
	EventCertRotationStarted:   "CertRotationStarted",
	EventCertRotationCompleted: "CertRotationCompleted",
}

func (t AuditEventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(t))
}
