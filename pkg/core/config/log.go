package config

type LogConfig struct {
	Level string `yaml:"level"`
}
