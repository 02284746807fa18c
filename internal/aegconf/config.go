// Package aegconf 负责集中式配置加载
package aegconf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 CONSOLE_SERVER_PORT
const EnvPrefix = "CONSOLE"

// 注册表后端
const (
	BackendSQLite = "sqlite"
	BackendGRPC   = "grpc"
)

type ServerConfig struct {
	Port           int    `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel       string `mapstructure:"log_level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	MetricsAddress string `mapstructure:"metrics_address"`
	PprofAddress   string `mapstructure:"pprof_address"`
}

type FrameworkConfig struct {
	// BootDelegation 形如 "sun.*,com.sun.*"
	BootDelegation    string        `mapstructure:"boot_delegation"`
	SystemPackages    []string      `mapstructure:"system_packages"`
	InitialStartLevel int           `mapstructure:"initial_start_level" validate:"min=1"`
	Version           string        `mapstructure:"version"`
	ManifestCacheSize int           `mapstructure:"manifest_cache_size" validate:"min=1"`
	ManifestCacheTTL  time.Duration `mapstructure:"manifest_cache_ttl"`
}

type RegistryConfig struct {
	Backend         string        `mapstructure:"backend" validate:"oneof=sqlite grpc"`
	SQLitePath      string        `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	DeployDirectory string        `mapstructure:"deploy_directory"`
	GRPCAddress     string        `mapstructure:"grpc_address" validate:"required_if=Backend grpc"`
	GRPCListen      string        `mapstructure:"grpc_listen"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

type AuthConfig struct {
	DBPath        string        `mapstructure:"db_path" validate:"required"`
	JWTKey        string        `mapstructure:"jwt_key"`
	TokenTTL      time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	SetupTokenTTL time.Duration `mapstructure:"setup_token_ttl" validate:"gt=0"`
	MaxFailures   int           `mapstructure:"max_failures" validate:"min=1"`
	Lockout       time.Duration `mapstructure:"lockout"`
}

type LimitsConfig struct {
	// ActionRate 为每个客户端 IP 每秒允许的 bundle 操作数
	ActionRate  float64 `mapstructure:"action_rate" validate:"gt=0"`
	ActionBurst int     `mapstructure:"action_burst" validate:"min=1"`
}

// Config 是控制台进程的完整配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Framework FrameworkConfig `mapstructure:"framework"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Limits    LimitsConfig    `mapstructure:"limits"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 10224)
	v.SetDefault("server.log_level", "INFO")
	v.SetDefault("server.metrics_address", "")
	v.SetDefault("server.pprof_address", "")

	v.SetDefault("framework.boot_delegation", "")
	v.SetDefault("framework.system_packages", []string{})
	v.SetDefault("framework.initial_start_level", 1)
	v.SetDefault("framework.version", "1.0.0")
	v.SetDefault("framework.manifest_cache_size", 1024)
	v.SetDefault("framework.manifest_cache_ttl", 10*time.Minute)

	v.SetDefault("registry.backend", BackendSQLite)
	v.SetDefault("registry.sqlite_path", "instance/registry.db")
	v.SetDefault("registry.deploy_directory", "deploy")
	v.SetDefault("registry.grpc_address", "")
	v.SetDefault("registry.grpc_listen", "")
	v.SetDefault("registry.cache_ttl", 5*time.Second)

	v.SetDefault("auth.db_path", "instance/auth.db")
	v.SetDefault("auth.jwt_key", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.setup_token_ttl", 30*time.Minute)
	v.SetDefault("auth.max_failures", 5)
	v.SetDefault("auth.lockout", 15*time.Minute)

	v.SetDefault("limits.action_rate", 2.0)
	v.SetDefault("limits.action_burst", 5)
}

// Load 读取配置文件(可选)、默认值与 CONSOLE_ 前缀的环境变量，返回校验后的合并结果。
// path 为空或文件不存在时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件 '%s' 失败: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置到结构体失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 按结构体标签校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

// SystemPackagesHeader 把系统包列表拼成 Export-Package 头的格式
func (f FrameworkConfig) SystemPackagesHeader() string {
	return strings.Join(f.SystemPackages, ", ")
}
