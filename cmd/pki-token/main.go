package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/xsxdot/aio-pki/pkg/core/security"
	"github.com/xsxdot/aio-pki/pkg/core/start"
)

// 根据服务配置中的 jwt.admin-secret 签发后台管理令牌
func main() {
	configFile := flag.String("config", "./resources/dev.yaml", "配置文件路径")
	account := flag.String("account", "admin", "令牌中的操作人")
	roles := flag.String("roles", security.SuperAdminRole, "逗号分隔的权限，如 admin:pki:read,admin:pki:cert:issue")
	flag.Parse()

	file, err := os.ReadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取配置文件失败: %v\n", err)
		os.Exit(1)
	}
	cfg, err := start.ParseConfig(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析配置失败: %v\n", err)
		os.Exit(1)
	}
	if cfg.Jwt.AdminSecret == "" {
		fmt.Fprintln(os.Stderr, "配置中缺少 jwt.admin-secret")
		os.Exit(1)
	}

	auth := (&start.Configures{Config: cfg}).EnableAdminAuth()
	token, expiresAt, err := auth.CreateAdminToken(&security.AdminClaims{
		Account:   *account,
		AdminType: strings.Split(*roles, ","),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "签发令牌失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Bearer %s\n", token)
	fmt.Fprintf(os.Stderr, "过期时间: %d\n", expiresAt)
}
