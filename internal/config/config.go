package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "configs/liquidator.yaml"

	infuraPlaceholder = "{INFURA_API_KEY}"
)

// Config is the liquidator process configuration.
type Config struct {
	// Chain
	RPCWSURL          string `yaml:"rpc_ws_url"`
	RPCHTTPURL        string `yaml:"rpc_http_url"` // optional, used for backfill
	TokenListPath     string `yaml:"tokenlist_path"`
	AddressesPath     string `yaml:"addresses_path"`
	DeploymentBlock   uint64 `yaml:"deployment_block"`
	BackfillChunkSize uint64 `yaml:"backfill_chunk_size"`

	// Price feed
	CoinbaseURL string   `yaml:"coinbase_url"`
	ProductIDs  []string `yaml:"product_ids"`

	// Channels
	EventChannelSize  int `yaml:"event_channel_size"`
	IntentChannelSize int `yaml:"intent_channel_size"`

	// Dispatch
	Confirmations   uint64        `yaml:"confirmations"`
	PrivateKey      string        `yaml:"private_key"` // empty runs in dry-run mode
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`

	// Supervision
	RestartPolicy    string        `yaml:"restart_policy"`
	RestartBaseDelay time.Duration `yaml:"restart_base_delay"`
	RestartMaxDelay  time.Duration `yaml:"restart_max_delay"`

	// Servers
	MetricsAddr    string `yaml:"metrics_addr"`
	StatusHTTPAddr string `yaml:"status_http_addr"`
	StatusGRPCAddr string `yaml:"status_grpc_addr"`

	// Audit log and publishing; empty disables
	PostgresDSN        string        `yaml:"postgres_dsn"`
	AuditBatchSize     int           `yaml:"audit_batch_size"`
	AuditFlushInterval time.Duration `yaml:"audit_flush_interval"`
	NATSURL            string        `yaml:"nats_url"`
	NATSStream         string        `yaml:"nats_stream"`
}

func Default() Config {
	return Config{
		RPCWSURL:           "wss://goerli.infura.io/ws/v3/" + infuraPlaceholder,
		RPCHTTPURL:         "https://goerli.infura.io/v3/" + infuraPlaceholder,
		TokenListPath:      "deployed/goerli/deployments/tokenlist.json",
		AddressesPath:      "deployed/goerli/deployments/addresses.json",
		BackfillChunkSize:  5_000,
		CoinbaseURL:        "wss://ws-feed.exchange.coinbase.com",
		ProductIDs:         []string{"ETH-USD", "BTC-USD", "DAI-USD"},
		EventChannelSize:   1024,
		IntentChannelSize:  64,
		Confirmations:      3,
		DispatchTimeout:    10 * time.Minute,
		RestartPolicy:      "failfast",
		RestartBaseDelay:   time.Second,
		RestartMaxDelay:    time.Minute,
		MetricsAddr:        ":9091",
		StatusHTTPAddr:     ":8080",
		StatusGRPCAddr:     ":9090",
		AuditBatchSize:     64,
		AuditFlushInterval: time.Second,
		NATSStream:         "LIQUIDATOR",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (LIQ_CONFIG or DefaultPath when empty; skipped if absent), then .env,
// then LIQ_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = envOrDefault("LIQ_CONFIG", DefaultPath)
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.expandSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LIQ_RPC_WS_URL":       &c.RPCWSURL,
		"LIQ_RPC_HTTP_URL":     &c.RPCHTTPURL,
		"LIQ_TOKENLIST_PATH":   &c.TokenListPath,
		"LIQ_ADDRESSES_PATH":   &c.AddressesPath,
		"LIQ_COINBASE_URL":     &c.CoinbaseURL,
		"LIQ_PRIVATE_KEY":      &c.PrivateKey,
		"LIQ_RESTART_POLICY":   &c.RestartPolicy,
		"LIQ_METRICS_ADDR":     &c.MetricsAddr,
		"LIQ_STATUS_HTTP_ADDR": &c.StatusHTTPAddr,
		"LIQ_STATUS_GRPC_ADDR": &c.StatusGRPCAddr,
		"LIQ_POSTGRES_DSN":     &c.PostgresDSN,
		"LIQ_NATS_URL":         &c.NATSURL,
		"LIQ_NATS_STREAM":      &c.NATSStream,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LIQ_EVENT_CHANNEL_SIZE":  &c.EventChannelSize,
		"LIQ_INTENT_CHANNEL_SIZE": &c.IntentChannelSize,
		"LIQ_AUDIT_BATCH_SIZE":    &c.AuditBatchSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	uints := map[string]*uint64{
		"LIQ_DEPLOYMENT_BLOCK":    &c.DeploymentBlock,
		"LIQ_BACKFILL_CHUNK_SIZE": &c.BackfillChunkSize,
		"LIQ_CONFIRMATIONS":       &c.Confirmations,
	}
	for key, dst := range uints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"LIQ_DISPATCH_TIMEOUT":     &c.DispatchTimeout,
		"LIQ_RESTART_BASE_DELAY":   &c.RestartBaseDelay,
		"LIQ_RESTART_MAX_DELAY":    &c.RestartMaxDelay,
		"LIQ_AUDIT_FLUSH_INTERVAL": &c.AuditFlushInterval,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("LIQ_PRODUCT_IDS"); v != "" {
		c.ProductIDs = splitList(v)
	}
	return nil
}

// expandSecrets applies the deployment's secret conventions: INFURA_API_KEY
// fills the RPC URL placeholder and PRIVATE_KEY is accepted for the
// signing key.
func (c *Config) expandSecrets() {
	if key := os.Getenv("INFURA_API_KEY"); key != "" {
		c.RPCWSURL = strings.ReplaceAll(c.RPCWSURL, infuraPlaceholder, key)
		c.RPCHTTPURL = strings.ReplaceAll(c.RPCHTTPURL, infuraPlaceholder, key)
	}
	if c.PrivateKey == "" {
		c.PrivateKey = os.Getenv("PRIVATE_KEY")
	}
}

// Validate checks the fields the process cannot start without.
func (c *Config) Validate() error {
	if c.RPCWSURL == "" {
		return errors.New("rpc_ws_url is required")
	}
	if !strings.HasPrefix(c.RPCWSURL, "ws://") && !strings.HasPrefix(c.RPCWSURL, "wss://") {
		return fmt.Errorf("rpc_ws_url must be a websocket url: %s", c.RPCWSURL)
	}
	if strings.Contains(c.RPCWSURL, infuraPlaceholder) || strings.Contains(c.RPCHTTPURL, infuraPlaceholder) {
		return errors.New("rpc url references INFURA_API_KEY but it is not set")
	}
	if c.TokenListPath == "" || c.AddressesPath == "" {
		return errors.New("tokenlist_path and addresses_path are required")
	}
	if c.BackfillChunkSize == 0 {
		return errors.New("backfill_chunk_size must be positive")
	}
	if len(c.ProductIDs) == 0 {
		return errors.New("at least one product id is required")
	}
	if c.EventChannelSize <= 0 || c.IntentChannelSize <= 0 {
		return errors.New("channel sizes must be positive")
	}
	if c.Confirmations == 0 {
		return errors.New("confirmations must be positive")
	}
	switch c.RestartPolicy {
	case "failfast", "backoff":
	default:
		return fmt.Errorf("unknown restart_policy %q", c.RestartPolicy)
	}
	return nil
}

// DryRun reports whether intents are logged instead of sent.
func (c *Config) DryRun() bool {
	return c.PrivateKey == ""
}

// BackfillURL returns the endpoint for historical queries.
func (c *Config) BackfillURL() string {
	if c.RPCHTTPURL != "" {
		return c.RPCHTTPURL
	}
	return c.RPCWSURL
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
