package config

// NotifyConfig 运维通知配置
type NotifyConfig struct {
	Webhook string `yaml:"webhook"` // 企业微信/钉钉机器人地址，为空时不发送
	Prefix  string `yaml:"prefix"`  // 消息前缀，如环境名
}
