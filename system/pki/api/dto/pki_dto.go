package dto

import "time"

// CreateAuthorityReq 创建根 CA 或中间 CA
type CreateAuthorityReq struct {
	Name               string `json:"name" comment:"CA 名称"`
	CommonName         string `json:"commonName" validate:"required,max=200" comment:"通用名称"`
	Organization       string `json:"organization"`
	OrganizationalUnit string `json:"organizationalUnit"`
	Country            string `json:"country" validate:"omitempty,len=2" comment:"国家"`
	State              string `json:"state"`
	Locality           string `json:"locality"`
	KeyAlgorithm       string `json:"keyAlgorithm" validate:"omitempty,oneof=RSA ECDSA" comment:"密钥算法"`
	KeySize            int    `json:"keySize" validate:"gte=0" comment:"密钥长度"`
	ValidityDays       int    `json:"validityDays" validate:"gte=0,lte=36500" comment:"有效期天数"`
	PathLen            *int   `json:"pathLen" validate:"omitempty,gte=0" comment:"路径长度"`
	Description        string `json:"description" validate:"max=500"`
}

// IssueCertificateReq 签发证书请求，SANs 为逗号分隔的域名或 IP
type IssueCertificateReq struct {
	AuthorityID        int64  `json:"authorityId" validate:"required" comment:"签发 CA"`
	CommonName         string `json:"commonName" validate:"required,max=200" comment:"通用名称"`
	Organization       string `json:"organization"`
	OrganizationalUnit string `json:"organizationalUnit"`
	SANs               string `json:"sans" validate:"omitempty,san" comment:"备用名称"`
	CertType           string `json:"certType" validate:"omitempty,oneof=server client both" comment:"证书类型"`
	Purpose            string `json:"purpose" validate:"max=100"`
	ValidityDays       int    `json:"validityDays" validate:"gte=0" comment:"有效期天数"`
	KeyAlgorithm       string `json:"keyAlgorithm" validate:"omitempty,oneof=RSA ECDSA" comment:"密钥算法"`
	KeySize            int    `json:"keySize" validate:"gte=0" comment:"密钥长度"`
	RenewBeforeDays    int    `json:"renewBeforeDays" validate:"gte=0" comment:"提前续期天数"`
	AutoRenew          *bool  `json:"autoRenew"`
}

// RevokeReq 吊销请求，Reason 为 RFC 5280 原因名称，如 keyCompromise
type RevokeReq struct {
	Reason string `json:"reason" validate:"required" comment:"吊销原因"`
}

type SetAutoRenewReq struct {
	AutoRenew       bool `json:"autoRenew"`
	RenewBeforeDays int  `json:"renewBeforeDays" validate:"gte=0,lte=3650" comment:"提前续期天数"`
}

// DeployTargetReq 临时部署目标，不含命令和属主，本机部署需使用命名目标
type DeployTargetReq struct {
	Kind       string   `json:"kind" validate:"required,oneof=container ssh oss aliyun_cas" comment:"目标类型"`
	Path       string   `json:"path"`
	Container  string   `json:"container"`
	Host       string   `json:"host"`
	Port       int      `json:"port" validate:"gte=0,lte=65535" comment:"端口"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	PrivateKey string   `json:"privateKey"`
	HostKey    string   `json:"hostKey"`
	CertName   string   `json:"certName"`
	KeyName    string   `json:"keyName"`
	ChainName  string   `json:"chainName"`
	Region     string   `json:"region"`
	Bucket     string   `json:"bucket"`
	Prefix     string   `json:"prefix"`
	Domains    []string `json:"domains"`
}

// DeployReq 部署请求，TargetName 与 Target 二选一
type DeployReq struct {
	TargetName string           `json:"targetName"`
	Target     *DeployTargetReq `json:"target" validate:"omitempty"`
	Wait       bool             `json:"wait"` // 为 true 时等待部署结束再返回
}

// AuthorityDTO CA 对外视图，不含私钥
type AuthorityDTO struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	CommonName       string     `json:"commonName"`
	Organization     string     `json:"organization"`
	KeyAlgorithm     string     `json:"keyAlgorithm"`
	KeySize          int        `json:"keySize"`
	SerialNumber     string     `json:"serialNumber"`
	Fingerprint      string     `json:"fingerprint"`
	NotBefore        time.Time  `json:"notBefore"`
	NotAfter         time.Time  `json:"notAfter"`
	ParentID         *int64     `json:"parentId"`
	PathLen          int        `json:"pathLen"`
	Status           string     `json:"status"`
	RevokedAt        *time.Time `json:"revokedAt"`
	RevocationReason string     `json:"revocationReason,omitempty"`
	CertificatePem   string     `json:"certificatePem"`
}

// CertificateDTO 证书对外视图，不含私钥
type CertificateDTO struct {
	ID               int64      `json:"id"`
	AuthorityID      int64      `json:"authorityId"`
	SerialNumber     int64      `json:"serialNumber"`
	SerialHex        string     `json:"serialHex"`
	CommonName       string     `json:"commonName"`
	SANs             []string   `json:"sans"`
	CertType         string     `json:"certType"`
	Purpose          string     `json:"purpose"`
	KeyAlgorithm     string     `json:"keyAlgorithm"`
	Fingerprint      string     `json:"fingerprint"`
	NotBefore        time.Time  `json:"notBefore"`
	NotAfter         time.Time  `json:"notAfter"`
	DaysRemaining    int        `json:"daysRemaining"`
	Status           string     `json:"status"`
	AutoRenew        bool       `json:"autoRenew"`
	RenewBeforeDays  int        `json:"renewBeforeDays"`
	ReplacesID       *int64     `json:"replacesId"`
	ReplacedByID     *int64     `json:"replacedById"`
	RevokedAt        *time.Time `json:"revokedAt"`
	RevocationReason string     `json:"revocationReason,omitempty"`
	LastDeployTarget string     `json:"lastDeployTarget"`
	LastDeployedAt   *time.Time `json:"lastDeployedAt"`
	CertificatePem   string     `json:"certificatePem"`
}

// StatusDTO 吊销状态查询结果
type StatusDTO struct {
	AuthorityID int64      `json:"authorityId"`
	Serial      int64      `json:"serial"`
	SerialHex   string     `json:"serialHex"`
	Status      string     `json:"status"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}
