package start

import (
	"fmt"
	"net"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/security"

	"github.com/bsm/redislock"
	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type Config struct {
	AppName  string              `yaml:"app-name"`
	Env      string              `yaml:"env"`
	Host     string              `yaml:"host"`
	Port     int                 `yaml:"port"`
	Domain   string              `yaml:"domain"`
	Log      config.LogConfig    `yaml:"log"`
	Jwt      config.JwtConfig    `yaml:"jwt"`
	Redis    config.RedisConfig  `yaml:"redis"`
	Database config.Database     `yaml:"db"`
	Oss      config.OssConfig    `yaml:"oss"`
	Proxy    config.ProxyConfig  `yaml:"proxy"`
	Notify   config.NotifyConfig `yaml:"notify"`
	Pki      config.PkiConfig    `yaml:"pki"`
}

type Configures struct {
	Config    Config
	Logger    *logger.Log
	AdminAuth *security.AdminAuth
}

// ParseConfig 解析 yaml 配置
func ParseConfig(file []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func NewConfigures(file []byte, env string) *Configures {
	cfg, err := ParseConfig(file)
	if err != nil {
		panic(fmt.Sprintf("读取文件信息失败，因为%v", err))
	}

	cfg.Env = env
	cfg.Host, _ = getLocalIP()

	level := cfg.Log.Level
	if level == "" {
		level = "debug"
	}

	c := &Configures{
		Config: cfg,
		Logger: logger.InitLogger(level),
	}
	c.AdminAuth = c.EnableAdminAuth()

	return c
}

// getLocalIP 获取本机IP地址（优先获取内网IP）
func getLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	var fallback string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		if ipnet.IP.IsPrivate() {
			return ipnet.IP.String(), nil
		}
		if fallback == "" {
			fallback = ipnet.IP.String()
		}
	}

	if fallback != "" {
		return fallback, nil
	}
	return "127.0.0.1", nil
}

func (c *Configures) EnableAdminAuth() *security.AdminAuth {
	expireDays := c.Config.Jwt.ExpireTime
	if expireDays <= 0 {
		expireDays = 1
	}
	return security.NewAdminAuth([]byte(c.Config.Jwt.AdminSecret), time.Duration(expireDays)*24*time.Hour)
}

func (c *Configures) EnableRedis() *redis.Client {
	if !c.Config.Redis.Enabled() {
		c.Logger.Warn("未配置 Redis，实时日志与缓存使用本地实现")
		return nil
	}
	return config.InitRDB(c.Config.Redis, c.Config.Proxy)
}

func (c *Configures) EnableCache(rdb *redis.Client) *cache.Cache {
	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(1000, time.Minute),
	}
	if rdb != nil {
		opts.Redis = rdb
	}
	return cache.New(opts)
}

func (c *Configures) EnableLocker(rdb *redis.Client) *redislock.Client {
	if rdb == nil {
		return nil
	}
	return redislock.New(rdb)
}

// EnableDB 按 driver 打开数据库，memory 模式返回 nil
func (c *Configures) EnableDB() *gorm.DB {
	var (
		db  *gorm.DB
		err error
	)
	switch c.Config.Database.Driver {
	case config.DriverMemory:
		c.Logger.Warn("使用内存存储，数据不会持久化")
		return nil
	case config.DriverPostgres:
		db, err = config.InitPg(c.Config.Database)
	default:
		db, err = config.InitMysql(c.Config.Database, c.Config.Proxy)
	}
	if err != nil {
		c.Logger.WithField("database", c.Config.Database.Host).WithField("err", err).Panic("failed connect database")
	}
	c.Logger.Info("connect database success")
	return db
}
