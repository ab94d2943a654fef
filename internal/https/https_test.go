package https

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"foldhost/config"
	"foldhost/internal/remote"

	"github.com/go-acme/lego/v4/registration"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, names []string, notBefore, notAfter time.Time) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: names[0]},
		DNSNames:     names,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// memTransport keeps files in memory and answers `test -f` scripts.
type memTransport struct {
	mu      sync.Mutex
	files   map[string][]byte
	modes   map[string]os.FileMode
	runs    []string
	runErr  error
	runOut  string
	readErr error
}

func newMemTransport() *memTransport {
	return &memTransport{files: map[string][]byte{}, modes: map[string]os.FileMode{}}
}

func (m *memTransport) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := cmd + " " + strings.Join(args, " ")
	m.runs = append(m.runs, line)
	if cmd == "sh" && len(args) == 2 && strings.HasPrefix(args[1], "test -f") {
		for _, f := range strings.Split(args[1], "&&") {
			p := strings.Trim(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(f), "test -f")), "'")
			if _, ok := m.files[p]; !ok {
				return "", errors.New("exit status 1")
			}
		}
		return "", nil
	}
	return m.runOut, m.runErr
}

func (m *memTransport) WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
	m.modes[path] = mode
	return nil
}

func (m *memTransport) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	data, ok := m.files[path]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return data, nil
}

func (m *memTransport) Describe() string { return "mem" }

type fakeObtainer struct {
	calls int
	err   error
}

func (f *fakeObtainer) Obtain(ctx context.Context, domains []string, email string) ([]byte, []byte, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return []byte("CERT " + domains[0]), []byte("KEY " + domains[0]), nil
}

func TestCheckValidity(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	renew := 30 * 24 * time.Hour

	valid := selfSigned(t, []string{"blog.example.com"}, now.Add(-time.Hour), now.Add(80*24*time.Hour))
	assert.NoError(t, CheckValidity(valid, "blog.example.com", renew, now))
	assert.ErrorIs(t, CheckValidity(valid, "shop.example.com", renew, now), ErrNameMismatch)

	soon := selfSigned(t, []string{"blog.example.com"}, now.Add(-time.Hour), now.Add(10*24*time.Hour))
	assert.ErrorIs(t, CheckValidity(soon, "blog.example.com", renew, now), ErrRenewalDue)

	expired := selfSigned(t, []string{"blog.example.com"}, now.Add(-90*24*time.Hour), now.Add(-time.Hour))
	assert.ErrorIs(t, CheckValidity(expired, "blog.example.com", renew, now), ErrExpired)

	assert.ErrorIs(t, CheckValidity([]byte("garbage"), "blog.example.com", renew, now), ErrNoCertificate)
}

func TestCertMatchesWildcard(t *testing.T) {
	now := time.Now()
	data := selfSigned(t, []string{"*.example.com"}, now.Add(-time.Hour), now.Add(time.Hour))
	cert, err := ParseLeaf(data)
	require.NoError(t, err)

	assert.True(t, CertMatchesDomain(cert, "blog.example.com"))
	assert.True(t, CertMatchesDomain(cert, "BLOG.example.com"))
	assert.False(t, CertMatchesDomain(cert, "example.com"))
	assert.False(t, CertMatchesDomain(cert, "a.b.example.com"))
}

func TestCertbotArgs(t *testing.T) {
	c := NewCertbotAuthority(newMemTransport(), "/var/www/certbot", "/etc/letsencrypt/live")

	assert.Equal(t, []string{
		"certonly", "--webroot", "-w", "/var/www/certbot", "-d", "blog.example.com",
		"--non-interactive", "--agree-tos", "--keep-until-expiring",
		"--cert-name", "blog.example.com", "-m", "ops@example.com",
	}, c.Args("blog.example.com", "ops@example.com"))

	args := c.Args("example.com", "")
	assert.Equal(t, "--register-unsafely-without-email", args[len(args)-1])
}

func TestCertbotIssueStatus(t *testing.T) {
	tr := newMemTransport()
	c := NewCertbotAuthority(tr, "/var/www/certbot", "/etc/letsencrypt/live")

	tr.runOut = "Certificate not yet due for renewal; no action taken."
	status, err := c.Issue(context.Background(), "example.com", "example.com", "")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyValid, status)

	tr.runOut = "Successfully received certificate."
	status, err = c.Issue(context.Background(), "example.com", "example.com", "")
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, status)

	tr.runErr = errors.New("exit status 1")
	status, err = c.Issue(context.Background(), "example.com", "example.com", "")
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestHasMaterial(t *testing.T) {
	tr := newMemTransport()
	c := NewCertbotAuthority(tr, "/var/www/certbot", "/etc/letsencrypt/live")
	assert.False(t, c.HasMaterial(context.Background(), "blog.example.com"))

	tr.files["/etc/letsencrypt/live/blog.example.com/fullchain.pem"] = []byte("x")
	assert.False(t, c.HasMaterial(context.Background(), "blog.example.com"))

	tr.files["/etc/letsencrypt/live/blog.example.com/privkey.pem"] = []byte("x")
	assert.True(t, c.HasMaterial(context.Background(), "blog.example.com"))
}

func TestLegoAuthorityAlreadyValid(t *testing.T) {
	now := time.Now()
	tr := newMemTransport()
	tr.files["/live/example.com/fullchain.pem"] = selfSigned(t, []string{"example.com"}, now.Add(-time.Hour), now.Add(60*24*time.Hour))
	obt := &fakeObtainer{}

	l := NewLegoAuthority(tr, obt, "/live", 30, zerolog.Nop())
	status, err := l.Issue(context.Background(), "example.com", "example.com", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyValid, status)
	assert.Equal(t, 0, obt.calls)
}

func TestLegoAuthorityIssuesAndUploads(t *testing.T) {
	tr := newMemTransport()
	obt := &fakeObtainer{}

	l := NewLegoAuthority(tr, obt, "/live", 30, zerolog.Nop())
	status, err := l.Issue(context.Background(), "blog.example.com", "example.com", "")
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, status)
	assert.Equal(t, 1, obt.calls)

	assert.Equal(t, "CERT blog.example.com", string(tr.files["/live/blog.example.com/fullchain.pem"]))
	assert.Equal(t, os.FileMode(0644), tr.modes["/live/blog.example.com/fullchain.pem"])
	assert.Equal(t, os.FileMode(0600), tr.modes["/live/blog.example.com/privkey.pem"])
}

func TestLegoAuthorityRenewsExpiring(t *testing.T) {
	now := time.Now()
	tr := newMemTransport()
	tr.files["/live/example.com/fullchain.pem"] = selfSigned(t, []string{"example.com"}, now.Add(-time.Hour), now.Add(5*24*time.Hour))
	obt := &fakeObtainer{}

	status, err := NewLegoAuthority(tr, obt, "/live", 30, zerolog.Nop()).Issue(context.Background(), "example.com", "example.com", "")
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, status)
	assert.Equal(t, 1, obt.calls)
}

func TestLegoAuthorityFailures(t *testing.T) {
	tr := newMemTransport()
	obt := &fakeObtainer{err: errors.New("dns propagation timeout")}
	l := NewLegoAuthority(tr, obt, "/live", 30, zerolog.Nop())

	status, err := l.Issue(context.Background(), "example.com", "example.com", "")
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, status)

	tr.readErr = errors.New("connection reset")
	_, err = l.Issue(context.Background(), "example.com", "example.com", "")
	assert.Error(t, err)
	assert.Equal(t, 1, obt.calls)
}

type scriptedAuthority struct {
	mu       sync.Mutex
	results  map[string]IssueStatus
	errs     map[string]error
	material map[string]bool
	issued   []string
}

func (s *scriptedAuthority) Issue(ctx context.Context, subject, rootDomain, email string) (IssueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued = append(s.issued, subject)
	if err := s.errs[subject]; err != nil {
		return StatusFailed, err
	}
	if st, ok := s.results[subject]; ok {
		return st, nil
	}
	return StatusIssued, nil
}

func (s *scriptedAuthority) HasMaterial(ctx context.Context, subject string) bool {
	return s.material[subject]
}

func TestReconcilerContinuesPastFailures(t *testing.T) {
	auth := &scriptedAuthority{
		results:  map[string]IssueStatus{"example.com": StatusAlreadyValid},
		errs:     map[string]error{"blog.example.com": errors.New("rate limited"), "shop.example.com": errors.New("nxdomain")},
		material: map[string]bool{"blog.example.com": true},
	}
	r := &Reconciler{Authority: auth, RootDomain: "example.com", Logger: zerolog.Nop(), Timeout: time.Second}

	subjects := []string{"example.com", "api.example.com", "blog.example.com", "shop.example.com"}
	outcomes := r.Reconcile(context.Background(), subjects)

	require.Len(t, outcomes, 4)
	assert.Equal(t, subjects, auth.issued)

	assert.Equal(t, StatusAlreadyValid, outcomes[0].Status)
	assert.True(t, outcomes[0].Status.Succeeded())
	assert.Equal(t, StatusIssued, outcomes[1].Status)

	assert.Equal(t, StatusFailed, outcomes[2].Status)
	assert.True(t, outcomes[2].MaterialPresent)
	assert.Error(t, outcomes[2].Err)

	assert.Equal(t, StatusFailed, outcomes[3].Status)
	assert.False(t, outcomes[3].MaterialPresent)

	assert.Equal(t, []string{"shop.example.com"}, Unavailable(outcomes))
}

func TestReconcilerParallel(t *testing.T) {
	auth := &scriptedAuthority{}
	r := &Reconciler{Authority: auth, Parallelism: 4, Logger: zerolog.Nop()}

	subjects := []string{"a.x", "b.x", "c.x", "d.x", "e.x"}
	outcomes := r.Reconcile(context.Background(), subjects)
	for i, o := range outcomes {
		assert.Equal(t, subjects[i], o.Subject)
		assert.Equal(t, StatusIssued, o.Status)
	}
	assert.Empty(t, Unavailable(outcomes))
}

func TestIssueStatusText(t *testing.T) {
	text, err := StatusAlreadyValid.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "already_valid", string(text))
	assert.Equal(t, "failed", StatusFailed.String())
}

func TestNewDNSProviderErrors(t *testing.T) {
	_, err := NewDNSProvider("route53", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloudflare")

	_, err = NewDNSProvider("cloudflare", map[string]string{})
	assert.Error(t, err)
	_, err = NewDNSProvider("aliyun", map[string]string{"access_key_id": "id"})
	assert.Error(t, err)
	_, err = NewDNSProvider("dnspod", map[string]string{"dnspod_id": "id"})
	assert.Error(t, err)

	assert.Equal(t, "secret", getCredValue(map[string]string{"secretkey": "secret"}, "secret_key", "secretkey"))
}

// hangingAuthority never answers before its context ends.
type hangingAuthority struct{}

func (hangingAuthority) Issue(ctx context.Context, subject, rootDomain, email string) (IssueStatus, error) {
	<-ctx.Done()
	return StatusFailed, ctx.Err()
}

func (hangingAuthority) HasMaterial(ctx context.Context, subject string) bool {
	<-ctx.Done()
	return false
}

func TestReconcilerTimeoutIsFailure(t *testing.T) {
	r := &Reconciler{
		Authority:   hangingAuthority{},
		RootDomain:  "example.com",
		Parallelism: 2,
		Timeout:     50 * time.Millisecond,
		Logger:      zerolog.Nop(),
	}

	start := time.Now()
	subjects := []string{"example.com", "blog.example.com"}
	outcomes := r.Reconcile(context.Background(), subjects)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, StatusFailed, o.Status, o.Subject)
		assert.ErrorIs(t, o.Err, context.DeadlineExceeded, o.Subject)
		assert.False(t, o.MaterialPresent, o.Subject)
	}
	assert.Equal(t, subjects, Unavailable(outcomes))
}

func TestACMEAccountPersistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "acme", "account")
	c := NewACMEClient(config.ACME{AccountDir: dir}, zerolog.Nop())

	user, err := c.loadOrCreateUser("ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", user.GetEmail())
	require.NotNil(t, user.GetPrivateKey())
	assert.Contains(t, user.KeyPEM, "EC PRIVATE KEY")

	user.Registration = &registration.Resource{URI: "https://acme.example/acct/1"}
	require.NoError(t, c.saveUser(user))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
	fileInfo, err := os.Stat(filepath.Join(dir, "acme_user.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fileInfo.Mode().Perm())

	loaded, err := c.loadOrCreateUser("ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.KeyPEM, loaded.KeyPEM)
	require.NotNil(t, loaded.GetRegistration())
	assert.Equal(t, "https://acme.example/acct/1", loaded.GetRegistration().URI)

	want, ok := user.GetPrivateKey().(*ecdsa.PrivateKey)
	require.True(t, ok)
	assert.True(t, want.Equal(loaded.GetPrivateKey()))
}

func TestACMEAccountCorruptFileCreatesNewKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme_user.json"), []byte("{not json"), 0600))
	c := NewACMEClient(config.ACME{AccountDir: dir}, zerolog.Nop())

	user, err := c.loadOrCreateUser("ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", user.Email)
	assert.Nil(t, user.GetRegistration())
	assert.NotNil(t, user.GetPrivateKey())
}
