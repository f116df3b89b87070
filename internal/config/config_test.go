package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey      = "0123456789abcdef0123456789abcdef"
	testIdentity = "AGE-SECRET-KEY-1TESTTESTTESTTESTTESTTESTTESTTESTTESTTESTTESTTESTTESTTESTTEST"
)

func TestLoadDefaultsWithRequiredEnv(t *testing.T) {
	t.Setenv(PathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("MAILVAULT_TOKEN__SIGNING_KEY", testKey)
	t.Setenv("MAILVAULT_MFA__SEALING_IDENTITY", testIdentity)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "mail-archive", cfg.Token.Issuer)
	assert.Equal(t, "mail-archive-clients", cfg.Token.Audience)
	assert.Equal(t, 30*time.Minute, cfg.Token.TTL)
	assert.Equal(t, 480*time.Minute, cfg.MFA.SessionTTL)
	assert.Equal(t, []string{"system_admin", "compliance_admin", "legal_user"}, cfg.MFA.StepUpRoles)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
}

func TestFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  addr: ":9999"
token:
  ttl: 10m
  signing_key: "` + testKey + `"
mfa:
  sealing_identity: "` + testIdentity + `"
ledger:
  backend: badger
  badger_path: /var/lib/mailvault/ledger
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("MAILVAULT_SERVER__ADDR", ":7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Token.TTL)
	assert.Equal(t, "badger", cfg.Ledger.Backend)
	assert.Equal(t, "/var/lib/mailvault/ledger", cfg.Ledger.BadgerPath)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejects(t *testing.T) {
	valid := func() Config {
		c := Defaults()
		c.Token.SigningKey = testKey
		c.MFA.SealingIdentity = testIdentity
		return c
	}
	base := valid()
	require.NoError(t, base.Validate())
	base.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.7", "2001:db8::/32"}
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"short signing key":   func(c *Config) { c.Token.SigningKey = "short" },
		"bad identity":        func(c *Config) { c.MFA.SealingIdentity = "age1recipient" },
		"unknown backend":     func(c *Config) { c.Ledger.Backend = "sqlite" },
		"badger without path": func(c *Config) { c.Ledger.Backend = "badger" },
		"postgres without dsn": func(c *Config) {
			c.Ledger.Backend = "postgres"
		},
		"zero ttl":          func(c *Config) { c.Token.TTL = 0 },
		"bad trusted proxy": func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "token.signing_key", envKey("MAILVAULT_TOKEN__SIGNING_KEY"))
	assert.Equal(t, "ledger.badger_path", envKey("MAILVAULT_LEDGER__BADGER_PATH"))
}
