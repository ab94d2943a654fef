package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// 环境变量（优先级低于命令行参数）
const (
	EnvTarget = "FOLDHOST_TARGET"
	EnvDomain = "FOLDHOST_DOMAIN"
	EnvEmail  = "FOLDHOST_EMAIL"
	EnvSSHKey = "FOLDHOST_SSH_KEY"
	EnvSource = "FOLDHOST_SOURCE"
)

// 证书签发方式
const (
	AuthorityCertbot = "certbot"
	AuthorityLego    = "lego"
)

// Config 部署配置（deploy.yaml / deploy.toml）
type Config struct {
	Domain       string       `yaml:"domain" toml:"domain"`
	Email        string       `yaml:"email" toml:"email"`
	Source       string       `yaml:"source" toml:"source"`
	Target       Target       `yaml:"target" toml:"target"`
	Paths        Paths        `yaml:"paths" toml:"paths"`
	Certificates Certificates `yaml:"certificates" toml:"certificates"`
	Timeouts     Timeouts     `yaml:"timeouts" toml:"timeouts"`
	Parallelism  int          `yaml:"parallelism" toml:"parallelism"`
	Reserved     []string     `yaml:"reserved" toml:"reserved"`
	WebUser      string       `yaml:"web_user" toml:"web_user"`
	MetricsFile  string       `yaml:"metrics_file" toml:"metrics_file"`
}

// Target 远程主机
type Target struct {
	Host                string `yaml:"host" toml:"host"`
	Port                int    `yaml:"port" toml:"port"`
	User                string `yaml:"user" toml:"user"`
	KeyPath             string `yaml:"key_path" toml:"key_path"`
	KnownHosts          string `yaml:"known_hosts" toml:"known_hosts"`
	InsecureSkipHostKey bool   `yaml:"insecure_skip_host_key" toml:"insecure_skip_host_key"`
	Local               bool   `yaml:"local" toml:"local"`
}

// Paths 远程目录布局
type Paths struct {
	AppsRoot      string `yaml:"apps_root" toml:"apps_root"`
	RootDir       string `yaml:"root_dir" toml:"root_dir"`
	ConfigTarget  string `yaml:"config_target" toml:"config_target"`
	EnableLink    string `yaml:"enable_link" toml:"enable_link"`
	LiveDir       string `yaml:"live_dir" toml:"live_dir"`
	ChallengeRoot string `yaml:"challenge_root" toml:"challenge_root"`
}

// Certificates 证书配置
type Certificates struct {
	Authority       string `yaml:"authority" toml:"authority"` // certbot / lego
	RenewBeforeDays int    `yaml:"renew_before_days" toml:"renew_before_days"`
	ACME            ACME   `yaml:"acme" toml:"acme"`
}

// ACME lego 专用配置（DNS-01）
type ACME struct {
	Directory         string            `yaml:"directory" toml:"directory"`
	DNSProvider       string            `yaml:"dns_provider" toml:"dns_provider"`
	Credentials       map[string]string `yaml:"credentials" toml:"credentials"`
	RetryCount        int               `yaml:"retry_count" toml:"retry_count"`
	RetryDelaySeconds int               `yaml:"retry_delay_seconds" toml:"retry_delay_seconds"`
	AccountDir        string            `yaml:"account_dir" toml:"account_dir"`
}

// Timeouts 远程调用超时
type Timeouts struct {
	Remote time.Duration `yaml:"remote" toml:"remote"`
	Sync   time.Duration `yaml:"sync" toml:"sync"`
	Issue  time.Duration `yaml:"issue" toml:"issue"`
}

// Error 配置错误，在任何远程调用之前返回
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// DefaultReserved 默认保留目录名（工具目录，不作为应用）
var DefaultReserved = []string{"node_modules", "scripts", "vendor"}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Source: ".",
		Target: Target{Port: 22},
		Paths: Paths{
			AppsRoot:      "/var/www/apps",
			RootDir:       "_root",
			ConfigTarget:  "/etc/nginx/sites-available/foldhost.conf",
			EnableLink:    "/etc/nginx/sites-enabled/foldhost.conf",
			LiveDir:       "/etc/letsencrypt/live",
			ChallengeRoot: "/var/www/certbot",
		},
		Certificates: Certificates{
			Authority:       AuthorityCertbot,
			RenewBeforeDays: 30,
			ACME: ACME{
				Directory:         "https://acme-v02.api.letsencrypt.org/directory",
				DNSProvider:       "cloudflare",
				Credentials:       make(map[string]string),
				RetryCount:        3,
				RetryDelaySeconds: 5,
			},
		},
		Timeouts: Timeouts{
			Remote: 2 * time.Minute,
			Sync:   10 * time.Minute,
			Issue:  5 * time.Minute,
		},
		Parallelism: 1,
		WebUser:     "www-data",
	}
}

// Load 读取配置文件；path 为空时只使用默认值
// 根据扩展名选择 YAML 或 TOML
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults 文件中缺省的字段回填默认值
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	if cfg.Target.Port == 0 {
		cfg.Target.Port = def.Target.Port
	}
	if cfg.Paths.AppsRoot == "" {
		cfg.Paths.AppsRoot = def.Paths.AppsRoot
	}
	if cfg.Paths.RootDir == "" {
		cfg.Paths.RootDir = def.Paths.RootDir
	}
	if cfg.Paths.ConfigTarget == "" {
		cfg.Paths.ConfigTarget = def.Paths.ConfigTarget
	}
	if cfg.Paths.EnableLink == "" {
		cfg.Paths.EnableLink = def.Paths.EnableLink
	}
	if cfg.Paths.LiveDir == "" {
		cfg.Paths.LiveDir = def.Paths.LiveDir
	}
	if cfg.Paths.ChallengeRoot == "" {
		cfg.Paths.ChallengeRoot = def.Paths.ChallengeRoot
	}
	if cfg.Certificates.Authority == "" {
		cfg.Certificates.Authority = def.Certificates.Authority
	}
	if cfg.Certificates.RenewBeforeDays == 0 {
		cfg.Certificates.RenewBeforeDays = def.Certificates.RenewBeforeDays
	}
	if cfg.Certificates.ACME.Directory == "" {
		cfg.Certificates.ACME.Directory = def.Certificates.ACME.Directory
	}
	if cfg.Certificates.ACME.DNSProvider == "" {
		cfg.Certificates.ACME.DNSProvider = def.Certificates.ACME.DNSProvider
	}
	if cfg.Certificates.ACME.Credentials == nil {
		cfg.Certificates.ACME.Credentials = make(map[string]string)
	}
	if cfg.Certificates.ACME.RetryCount == 0 {
		cfg.Certificates.ACME.RetryCount = def.Certificates.ACME.RetryCount
	}
	if cfg.Certificates.ACME.RetryDelaySeconds == 0 {
		cfg.Certificates.ACME.RetryDelaySeconds = def.Certificates.ACME.RetryDelaySeconds
	}
	if cfg.Timeouts.Remote == 0 {
		cfg.Timeouts.Remote = def.Timeouts.Remote
	}
	if cfg.Timeouts.Sync == 0 {
		cfg.Timeouts.Sync = def.Timeouts.Sync
	}
	if cfg.Timeouts.Issue == 0 {
		cfg.Timeouts.Issue = def.Timeouts.Issue
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.WebUser == "" {
		cfg.WebUser = def.WebUser
	}
}

// ApplyEnv 使用环境变量覆盖配置
func ApplyEnv(cfg *Config) error {
	if v := getEnv(EnvTarget, ""); v != "" {
		if err := cfg.SetTarget(v); err != nil {
			return err
		}
	}
	if v := getEnv(EnvDomain, ""); v != "" {
		cfg.Domain = v
	}
	if v := getEnv(EnvEmail, ""); v != "" {
		cfg.Email = v
	}
	if v := getEnv(EnvSSHKey, ""); v != "" {
		cfg.Target.KeyPath = v
	}
	if v := getEnv(EnvSource, ""); v != "" {
		cfg.Source = v
	}
	return nil
}

// SetTarget 解析 "user@host[:port]" 或 "local"
func (c *Config) SetTarget(raw string) error {
	t, err := ParseTarget(raw)
	if err != nil {
		return err
	}
	t.KeyPath = c.Target.KeyPath
	t.KnownHosts = c.Target.KnownHosts
	t.InsecureSkipHostKey = c.Target.InsecureSkipHostKey
	if t.Port == 0 {
		t.Port = c.Target.Port
	}
	c.Target = t
	return nil
}

// ParseTarget 解析目标主机字符串
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, &Error{Field: "target", Msg: "is required"}
	}
	if raw == "local" {
		return Target{Local: true}, nil
	}

	var t Target
	hostPart := raw
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		t.User = raw[:at]
		hostPart = raw[at+1:]
	}
	if t.User == "" {
		return Target{}, &Error{Field: "target", Msg: fmt.Sprintf("%q: expected user@host[:port]", raw)}
	}

	if i := strings.LastIndex(hostPart, ":"); i >= 0 && !strings.Contains(hostPart[i+1:], "]") {
		port, err := strconv.Atoi(hostPart[i+1:])
		if err != nil || port <= 0 || port > 65535 {
			return Target{}, &Error{Field: "target", Msg: fmt.Sprintf("%q: invalid port", raw)}
		}
		t.Port = port
		hostPart = hostPart[:i]
	}
	t.Host = strings.TrimSuffix(strings.TrimPrefix(hostPart, "["), "]")
	if t.Host == "" {
		return Target{}, &Error{Field: "target", Msg: fmt.Sprintf("%q: missing host", raw)}
	}
	return t, nil
}

// Validate 校验必填项；失败时不得产生任何远程副作用
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Domain) == "" {
		return &Error{Field: "domain", Msg: "is required"}
	}
	if strings.ContainsAny(c.Domain, " /\t") {
		return &Error{Field: "domain", Msg: fmt.Sprintf("%q is not a valid domain", c.Domain)}
	}
	if !c.Target.Local {
		if strings.TrimSpace(c.Target.Host) == "" {
			return &Error{Field: "target", Msg: "is required"}
		}
		if strings.TrimSpace(c.Target.User) == "" {
			return &Error{Field: "target.user", Msg: "is required"}
		}
	}
	if strings.TrimSpace(c.Source) == "" {
		return &Error{Field: "source", Msg: "is required"}
	}
	if c.Parallelism < 1 {
		return &Error{Field: "parallelism", Msg: "must be >= 1"}
	}
	switch c.Certificates.Authority {
	case AuthorityCertbot:
	case AuthorityLego:
		if c.Certificates.ACME.AccountDir == "" {
			return &Error{Field: "certificates.acme.account_dir", Msg: "is required for lego"}
		}
	default:
		return &Error{Field: "certificates.authority", Msg: fmt.Sprintf("unknown authority %q", c.Certificates.Authority)}
	}
	if !filepath.IsAbs(c.Paths.AppsRoot) {
		return &Error{Field: "paths.apps_root", Msg: "must be absolute"}
	}
	if c.Paths.RootDir == "" || strings.ContainsRune(c.Paths.RootDir, '/') {
		return &Error{Field: "paths.root_dir", Msg: "must be a single directory name"}
	}
	return nil
}

// ReservedNames 保留目录名集合（包含根内容目录）
func (c *Config) ReservedNames() []string {
	names := make([]string, 0, len(DefaultReserved)+len(c.Reserved)+1)
	names = append(names, DefaultReserved...)
	names = append(names, c.Reserved...)
	names = append(names, c.Paths.RootDir)
	return names
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
