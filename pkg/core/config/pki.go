package config

import "time"

// PkiConfig 证书中心配置
type PkiConfig struct {
	BaseURL           string `yaml:"base-url"`            // 对外访问地址，用于证书中的 CRL 分发点和 OCSP 地址
	CrlValidityHours  int    `yaml:"crl-validity-hours"`  // CRL 有效期（小时），默认 168
	CascadeRevoke     bool   `yaml:"cascade-revoke"`      // 吊销 CA 时是否级联吊销其签发的证书
	SweepWorkers      int    `yaml:"sweep-workers"`       // 自动续期并发数
	DeployTimeout     int    `yaml:"deploy-timeout"`      // 单次部署超时（秒）
	RenewCron         string `yaml:"renew-cron"`          // 自动续期
	ExpiryCron        string `yaml:"expiry-cron"`         // 过期扫描
	CrlCron           string `yaml:"crl-cron"`            // CRL 刷新
	KeyEncryptionSalt string `yaml:"key-encryption-salt"` // 私钥落库加密盐值，为空时明文存储
	RedeployOnRenew   bool   `yaml:"redeploy-on-renew"`   // 自动续期后是否重新部署到上次的命名目标

	DeployTargets map[string]DeployTargetConfig `yaml:"deploy-targets"`
}

// DeployTargetConfig 命名部署目标
type DeployTargetConfig struct {
	Kind          string `yaml:"kind"`           // local/container/ssh/oss/aliyun_cas
	Path          string `yaml:"path"`           // 证书文件目录（本机、容器内或远端）
	Container     string `yaml:"container"`      // 容器名，kind=container 或 ssh 时可选
	Host          string `yaml:"host"`           // SSH 主机
	Port          int    `yaml:"port"`           // SSH 端口
	Username      string `yaml:"username"`       // SSH 用户名
	Password      string `yaml:"password"`       // SSH 密码
	PrivateKey    string `yaml:"private-key"`    // SSH 私钥
	HostKey       string `yaml:"host-key"`       // SSH 主机公钥指纹（SHA256:...），为空时不校验
	CertName      string `yaml:"cert-name"`      // 证书文件名，默认 cert.pem
	KeyName       string `yaml:"key-name"`       // 私钥文件名，默认 key.pem
	ChainName     string `yaml:"chain-name"`     // CA 链文件名，默认 ca-chain.pem
	FileOwner     string `yaml:"file-owner"`     // 文件属主（如 postgres:postgres）
	ReloadCommand string `yaml:"reload-command"` // 重载命令
	VerifyCommand string `yaml:"verify-command"` // 校验命令（可选）

	AccessKeyID     string   `yaml:"access-key"`
	AccessKeySecret string   `yaml:"access-secret"`
	Region          string   `yaml:"region"`
	Bucket          string   `yaml:"bucket"`
	Prefix          string   `yaml:"prefix"`
	Domains         []string `yaml:"domains"` // OSS 自定义域名或 CDN/DCDN 加速域名
}

func (c PkiConfig) CrlValidity() time.Duration {
	if c.CrlValidityHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.CrlValidityHours) * time.Hour
}

func (c PkiConfig) Workers() int {
	if c.SweepWorkers <= 0 {
		return 4
	}
	return c.SweepWorkers
}

func (c PkiConfig) DeployTimeoutDuration() time.Duration {
	if c.DeployTimeout <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.DeployTimeout) * time.Second
}
