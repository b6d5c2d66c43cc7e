package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so the host environment does
// not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LIQ_CONFIG", "LIQ_RPC_WS_URL", "LIQ_RPC_HTTP_URL", "LIQ_PRIVATE_KEY",
		"LIQ_RESTART_POLICY", "LIQ_EVENT_CHANNEL_SIZE", "LIQ_CONFIRMATIONS",
		"LIQ_DISPATCH_TIMEOUT", "LIQ_PRODUCT_IDS", "LIQ_DEPLOYMENT_BLOCK",
		"INFURA_API_KEY", "PRIVATE_KEY",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "liquidator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithInfuraKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("INFURA_API_KEY", "abc123")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "wss://goerli.infura.io/ws/v3/abc123", cfg.RPCWSURL)
	require.Equal(t, "https://goerli.infura.io/v3/abc123", cfg.BackfillURL())
	require.Equal(t, []string{"ETH-USD", "BTC-USD", "DAI-USD"}, cfg.ProductIDs)
	require.Equal(t, 1024, cfg.EventChannelSize)
	require.Equal(t, uint64(3), cfg.Confirmations)
	require.True(t, cfg.DryRun())
}

func TestLoad_MissingInfuraKeyFails(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "INFURA_API_KEY")
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
rpc_ws_url: ws://localhost:8546
rpc_http_url: ""
deployment_block: 7000000
product_ids: [ETH-USD]
restart_policy: backoff
restart_base_delay: 2s
dispatch_timeout: 90s
postgres_dsn: postgres://localhost/liquidator
`)
	t.Setenv("LIQ_CONFIRMATIONS", "5")
	t.Setenv("LIQ_PRODUCT_IDS", "ETH-USD, BTC-USD")
	t.Setenv("PRIVATE_KEY", "0xdeadbeef")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8546", cfg.RPCWSURL)
	require.Equal(t, "ws://localhost:8546", cfg.BackfillURL())
	require.Equal(t, uint64(7_000_000), cfg.DeploymentBlock)
	require.Equal(t, "backoff", cfg.RestartPolicy)
	require.Equal(t, 2*time.Second, cfg.RestartBaseDelay)
	require.Equal(t, 90*time.Second, cfg.DispatchTimeout)
	require.Equal(t, uint64(5), cfg.Confirmations)
	require.Equal(t, []string{"ETH-USD", "BTC-USD"}, cfg.ProductIDs)
	require.Equal(t, "0xdeadbeef", cfg.PrivateKey)
	require.False(t, cfg.DryRun())
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "rpc_ws_url: ws://node:8546\nrpc_http_url: http://node:8545\n")
	t.Setenv("LIQ_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://node:8545", cfg.BackfillURL())
}

func TestLoad_BadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("LIQ_RPC_WS_URL", "ws://node")
	t.Setenv("LIQ_RPC_HTTP_URL", "")
	t.Setenv("LIQ_EVENT_CHANNEL_SIZE", "lots")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "LIQ_EVENT_CHANNEL_SIZE")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Default()
		c.RPCWSURL = "wss://node"
		c.RPCHTTPURL = ""
		return c
	}
	require.NoError(t, func() error { c := base(); return c.Validate() }())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"no rpc", func(c *Config) { c.RPCWSURL = "" }, "rpc_ws_url"},
		{"http rpc", func(c *Config) { c.RPCWSURL = "https://node" }, "websocket"},
		{"zero channel", func(c *Config) { c.EventChannelSize = 0 }, "channel sizes"},
		{"zero intents", func(c *Config) { c.IntentChannelSize = 0 }, "channel sizes"},
		{"zero confirmations", func(c *Config) { c.Confirmations = 0 }, "confirmations"},
		{"unknown policy", func(c *Config) { c.RestartPolicy = "sometimes" }, "restart_policy"},
		{"no products", func(c *Config) { c.ProductIDs = nil }, "product"},
		{"zero chunk", func(c *Config) { c.BackfillChunkSize = 0 }, "backfill_chunk_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			require.ErrorContains(t, c.Validate(), tt.errMsg)
		})
	}
}
