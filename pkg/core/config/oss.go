package config

// OssConfig OSS 默认凭证，部署目标未单独配置凭证时使用
type OssConfig struct {
	AccessKeyID     string `yaml:"access-key"`       // 访问密钥ID
	AccessKeySecret string `yaml:"access-secret"`    // 访问密钥Secret
	Bucket          string `yaml:"bucket-name"`      // 存储空间名称
	Region          string `yaml:"region,omitempty"` // 区域
}
