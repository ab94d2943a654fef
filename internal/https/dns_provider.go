package https

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/providers/dns/alidns"
	"github.com/go-acme/lego/v4/providers/dns/cloudflare"
	"github.com/go-acme/lego/v4/providers/dns/tencentcloud"
)

type providerFactory func(creds map[string]string) (challenge.Provider, error)

// dnsProviders 支持的 DNS-01 提供商（含别名）
var dnsProviders = map[string]providerFactory{
	"tencentcloud": newTencentCloudProvider,
	"dnspod":       newTencentCloudProvider,
	"tencent":      newTencentCloudProvider,
	"alidns":       newAliDNSProvider,
	"aliyun":       newAliDNSProvider,
	"cloudflare":   newCloudflareProvider,
}

// NewDNSProvider 根据名称创建 DNS 提供商
func NewDNSProvider(name string, creds map[string]string) (challenge.Provider, error) {
	factory, ok := dnsProviders[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported DNS provider %q, supported: %s", name, strings.Join(SupportedDNSProviders(), ", "))
	}
	return factory(creds)
}

// SupportedDNSProviders 返回排序后的提供商名称
func SupportedDNSProviders() []string {
	names := make([]string, 0, len(dnsProviders))
	for n := range dnsProviders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// 腾讯云 API（SecretId + SecretKey），兼容旧的 dnspod 配置名
func newTencentCloudProvider(creds map[string]string) (challenge.Provider, error) {
	secretID := getCredValue(creds, "secret_id", "secretid", "dnspod_id")
	secretKey := getCredValue(creds, "secret_key", "secretkey", "dnspod_token")
	if secretID == "" || secretKey == "" {
		return nil, fmt.Errorf("tencentcloud requires secret_id and secret_key (or dnspod_id and dnspod_token)")
	}

	cfg := tencentcloud.NewDefaultConfig()
	cfg.SecretID = secretID
	cfg.SecretKey = secretKey
	return tencentcloud.NewDNSProviderConfig(cfg)
}

func newAliDNSProvider(creds map[string]string) (challenge.Provider, error) {
	keyID := getCredValue(creds, "access_key_id", "accesskeyid")
	keySecret := getCredValue(creds, "access_key_secret", "accesskeysecret")
	if keyID == "" || keySecret == "" {
		return nil, fmt.Errorf("alidns requires access_key_id and access_key_secret")
	}

	cfg := alidns.NewDefaultConfig()
	cfg.APIKey = keyID
	cfg.SecretKey = keySecret
	return alidns.NewDNSProviderConfig(cfg)
}

func newCloudflareProvider(creds map[string]string) (challenge.Provider, error) {
	token := getCredValue(creds, "api_token", "apitoken")
	if token == "" {
		return nil, fmt.Errorf("cloudflare requires api_token")
	}

	cfg := cloudflare.NewDefaultConfig()
	cfg.AuthToken = token
	return cloudflare.NewDNSProviderConfig(cfg)
}

// getCredValue 按顺序尝试多个 key 名称
func getCredValue(creds map[string]string, keys ...string) string {
	for _, key := range keys {
		if v, ok := creds[key]; ok && v != "" {
			return v
		}
	}
	return ""
}
