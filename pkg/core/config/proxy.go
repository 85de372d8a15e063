package config

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig SOCKS代理配置结构体
// 连接数据库、Redis、SSH 部署目标和阿里云接口时共用
type ProxyConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`   // 是否启用代理
	Host     string `yaml:"host" json:"host"`         // 代理服务器地址
	Port     int    `yaml:"port" json:"port"`         // 代理服务器端口
	Username string `yaml:"username" json:"username"` // 代理认证用户名（可选）
	Password string `yaml:"password" json:"password"` // 代理认证密码（可选）
}

func directDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
}

// GetDialer 获取配置好的SOCKS5 dialer
// 如果代理未启用或创建失败，返回默认的net.Dialer
func (p ProxyConfig) GetDialer() proxy.Dialer {
	if !p.Enabled {
		return directDialer()
	}

	var auth *proxy.Auth
	if p.Username != "" && p.Password != "" {
		auth = &proxy.Auth{
			User:     p.Username,
			Password: p.Password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", p.address(), auth, directDialer())
	if err != nil {
		return directDialer()
	}
	return dialer
}

// DialContext 支持 ctx 取消的拨号，SOCKS5 dialer 实现了 proxy.ContextDialer
func (p ProxyConfig) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := p.GetDialer()
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}
	return d.Dial(network, addr)
}

// Socks5URL 供只接受代理地址字符串的 SDK 使用，未启用时返回空
func (p ProxyConfig) Socks5URL() string {
	if !p.Enabled {
		return ""
	}
	u := url.URL{Scheme: "socks5", Host: p.address()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

func (p ProxyConfig) address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
