package config

type JwtConfig struct {
	AdminSecret string `yaml:"admin-secret" json:"admin-secret,omitempty"`
	ExpireTime  int    `yaml:"expire-time" json:"expire-time,omitempty"`
}
