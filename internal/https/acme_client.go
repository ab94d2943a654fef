package https

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"foldhost/config"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/rs/zerolog"
)

// ACMEUser 实现 lego 的 User 接口
type ACMEUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	KeyPEM       string                 `json:"key_pem"`
	key          crypto.PrivateKey
}

func (u *ACMEUser) GetEmail() string {
	return u.Email
}

func (u *ACMEUser) GetRegistration() *registration.Resource {
	return u.Registration
}

func (u *ACMEUser) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// Obtainer 申请证书，返回 PEM 格式的证书链和私钥
type Obtainer interface {
	Obtain(ctx context.Context, domains []string, email string) (certPEM, keyPEM []byte, err error)
}

// ACMEClient DNS-01 ACME 客户端，账户保存在本地 accountDir
type ACMEClient struct {
	cfg        config.ACME
	accountDir string
	logger     zerolog.Logger

	// 串行化账户注册与证书申请
	mu sync.Mutex
}

// NewACMEClient 创建 ACME 客户端
func NewACMEClient(cfg config.ACME, logger zerolog.Logger) *ACMEClient {
	return &ACMEClient{
		cfg:        cfg,
		accountDir: cfg.AccountDir,
		logger:     logger,
	}
}

// Obtain 申请证书（带重试）
func (c *ACMEClient) Obtain(ctx context.Context, domains []string, email string) ([]byte, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 加载或创建用户
	user, err := c.loadOrCreateUser(email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load/create user: %w", err)
	}

	caURL := c.cfg.Directory
	if caURL == "" {
		caURL = lego.LEDirectoryProduction
	}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = caURL
	legoCfg.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create lego client: %w", err)
	}

	dnsProvider, err := NewDNSProvider(c.cfg.DNSProvider, c.cfg.Credentials)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create DNS provider: %w", err)
	}
	if err := client.Challenge.SetDNS01Provider(dnsProvider); err != nil {
		return nil, nil, fmt.Errorf("failed to set DNS provider: %w", err)
	}

	// 注册用户（如果未注册）
	if user.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to register: %w", err)
		}
		user.Registration = reg
		if err := c.saveUser(user); err != nil {
			c.logger.Warn().Err(err).Msg("failed to save acme user")
		}
	}

	c.logger.Info().Strs("domains", domains).Str("ca", caURL).Msg("requesting certificate")

	request := certificate.ObtainRequest{
		Domains: domains,
		Bundle:  true,
	}

	retryCount := c.cfg.RetryCount
	if retryCount <= 0 {
		retryCount = 3
	}
	retryDelay := time.Duration(c.cfg.RetryDelaySeconds) * time.Second
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}

	var cert *certificate.Resource
	for i := 0; i < retryCount; i++ {
		cert, err = client.Certificate.Obtain(request)
		if err == nil {
			break
		}
		c.logger.Warn().Err(err).Int("attempt", i+1).Int("of", retryCount).Msg("certificate request failed")
		if i < retryCount-1 {
			if werr := sleepCtx(ctx, retryDelay); werr != nil {
				return nil, nil, werr
			}
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to obtain certificate after %d attempts: %w", retryCount, err)
	}

	return cert.Certificate, cert.PrivateKey, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// loadOrCreateUser 加载或创建用户
func (c *ACMEClient) loadOrCreateUser(email string) (*ACMEUser, error) {
	userFile := filepath.Join(c.accountDir, "acme_user.json")

	if data, err := os.ReadFile(userFile); err == nil {
		var user ACMEUser
		if err := json.Unmarshal(data, &user); err == nil {
			block, _ := pem.Decode([]byte(user.KeyPEM))
			if block != nil {
				key, err := x509.ParseECPrivateKey(block.Bytes)
				if err == nil {
					user.key = key
					return &user, nil
				}
			}
		}
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyBytes,
	})

	return &ACMEUser{
		Email:  email,
		KeyPEM: string(keyPEM),
		key:    privateKey,
	}, nil
}

// saveUser 保存用户
func (c *ACMEClient) saveUser(user *ACMEUser) error {
	if err := os.MkdirAll(c.accountDir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.accountDir, "acme_user.json"), data, 0600)
}
