package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchange = "0x00000000000000000000000000000000000000be"

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.ExchangeAddress = exchange
	return cfg
}

func TestDefaultsNeedOnlyExchange(t *testing.T) {
	cfg := Defaults()
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Wallet.EncryptedKeyPath = "/keys/house.json"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "trade"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "key_password is required")
}

func TestValidateServerMode(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no rpc", func(c *Config) { c.Chain.RPCURL = "" }, "rpc_url"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
		{"pool sizes", func(c *Config) { c.Postgres.PoolMinConns = 20 }, "pool_min_conns must not exceed"},
		{"no bucket", func(c *Config) { c.S3.Bucket = "" }, "s3: bucket"},
		{"lock ttl", func(c *Config) { c.Matching.LockTTL.Duration = 0 }, "lock_ttl"},
		{"rate window", func(c *Config) { c.Server.RateWindow.Duration = 0 }, "rate_window"},
		{"scanner range", func(c *Config) { c.Scanner.MaxRange = 0 }, "scanner: max_range"},
		{"scanner interval", func(c *Config) { c.Scanner.Interval.Duration = 0 }, "scanner: interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReconstructModeSkipsServices(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "reconstruct"
	cfg.Chain.RPCURL = ""
	cfg.Redis.Addr = ""
	cfg.S3.Bucket = ""
	assert.NoError(t, cfg.Validate())

	cfg.Chain.ExchangeAddress = ""
	assert.NoError(t, cfg.Validate())
	cfg.Chain.ExchangeAddress = "exchange"
	assert.Error(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "betx.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[chain]
exchange_address = "`+exchange+`"
chain_id = 5

[matching]
lock_ttl = "10s"
game_expiry = "2h"
`), 0o600))

	t.Setenv("BETX_SERVER_PORT", "9100")
	t.Setenv("BETX_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("BETX_MATCHING_GAME_EXPIRY", "30m")
	t.Setenv("BETX_REDIS_POOL_SIZE", "not-a-number")
	t.Setenv("BETX_SCANNER_START_BLOCK", "18000000")
	t.Setenv("BETX_SCANNER_CONFIRMATIONS", "-1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cfg.Chain.ChainID)
	assert.Equal(t, 10*time.Second, cfg.Matching.LockTTL.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Matching.GameExpiry.Duration)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 20, cfg.Redis.PoolSize, "unparsable values keep the default")
	assert.Equal(t, uint64(18000000), cfg.Scanner.StartBlock)
	assert.Equal(t, uint64(3), cfg.Scanner.Confirmations)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "betx.toml")
	require.NoError(t, os.WriteFile(path, []byte("[matching]\nlock_ttl = \"soon\"\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "operator"
	cfg.S3.SecretKey = "s3cret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Empty(t, out.Wallet.KeyPassword, "empty secrets stay empty")
	assert.Equal(t, exchange, out.Chain.ExchangeAddress)

	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
}
