package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all swarm bot configuration
type Config struct {
	Wallets  WalletsConfig  `mapstructure:"wallets"`
	RPC      RPCConfig      `mapstructure:"rpc"`
	Swarm    SwarmConfig    `mapstructure:"swarm"`
	Bundle   BundleConfig   `mapstructure:"bundle"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Triggers TriggersConfig `mapstructure:"triggers"`
	API      APIConfig      `mapstructure:"api"`
	Storage  StorageConfig  `mapstructure:"storage"`
	WS       WSConfig       `mapstructure:"websocket"`
}

type WalletsConfig struct {
	PrimaryKeyEnv string `mapstructure:"primary_key_env"`
	ExtraKeyEnv   string `mapstructure:"extra_key_env"` // numbered series: <prefix>_2, <prefix>_3, ...
	MaxWallets    int    `mapstructure:"max_wallets"`
}

type RPCConfig struct {
	URLEnv        string `mapstructure:"url_env"`
	URL           string `mapstructure:"url"`
	FallbackURL   string `mapstructure:"fallback_url"`
	APIKeyEnv     string `mapstructure:"api_key_env"`
	SkipPreflight bool   `mapstructure:"skip_preflight"` // OR-ed with SKIP_PREFLIGHT env at startup
	WSURL         string `mapstructure:"ws_url"`
}

type SwarmConfig struct {
	AmountVariancePct float64 `mapstructure:"amount_variance_pct"`
	MinReserveSol     float64 `mapstructure:"min_reserve_sol"`
	SlippageBps       int     `mapstructure:"slippage_bps"`
	PriorityFee       uint64  `mapstructure:"priority_fee_lamports"`
	StaggerDelayMs    int     `mapstructure:"stagger_delay_ms"`
	RateLimitMs       int     `mapstructure:"rate_limit_ms"`
	ConfirmTimeoutMs  int     `mapstructure:"confirm_timeout_ms"`
	SettleDelayMs     int     `mapstructure:"settle_delay_ms"`
}

type BundleConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	URL          string `mapstructure:"url"` // overridden by JITO_BUNDLE_URL env
	MaxPerBundle int    `mapstructure:"max_per_bundle"`
	TipLamports  uint64 `mapstructure:"tip_lamports"`
}

type VenueConfig struct {
	PumpAPIURL   string `mapstructure:"pump_api_url"`
	SwapAPIURL   string `mapstructure:"swap_api_url"`
	AuthTokenEnv string `mapstructure:"auth_token_env"`
	TimeoutSec   int    `mapstructure:"timeout_seconds"`
}

type MirrorConfig struct {
	MaxTargets        int     `mapstructure:"max_targets"`
	DefaultMultiplier float64 `mapstructure:"default_multiplier"`
	SeenTTLMinutes    int     `mapstructure:"seen_ttl_minutes"`
}

type TriggersConfig struct {
	PriceIntervalSec    int `mapstructure:"price_interval_seconds"`
	StopLossSlippageBps int `mapstructure:"stop_loss_slippage_bps"`
}

type APIConfig struct {
	ListenHost string `mapstructure:"listen_host"`
	ListenPort int    `mapstructure:"listen_port"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type WSConfig struct {
	ReconnectDelayMs int `mapstructure:"reconnect_delay_ms"`
	PingIntervalMs   int `mapstructure:"ping_interval_ms"`
}

// Manager handles config loading and hot-reload
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)

	// Snapshotted at startup so the submit hot path never re-reads the environment.
	skipPreflight bool
}

// NewManager creates a new config manager
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("wallets.primary_key_env", "WALLET_PRIVATE_KEY")
	v.SetDefault("wallets.extra_key_env", "WALLET_PRIVATE_KEY")
	v.SetDefault("wallets.max_wallets", 20)
	v.SetDefault("rpc.url_env", "RPC_URL")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("swarm.amount_variance_pct", 0)
	v.SetDefault("swarm.min_reserve_sol", 0.01)
	v.SetDefault("swarm.slippage_bps", 500)
	v.SetDefault("swarm.stagger_delay_ms", 500)
	v.SetDefault("swarm.rate_limit_ms", 1000)
	v.SetDefault("swarm.confirm_timeout_ms", 30000)
	v.SetDefault("swarm.settle_delay_ms", 2000)
	v.SetDefault("bundle.enabled", true)
	v.SetDefault("bundle.url", "https://mainnet.block-engine.jito.wtf/api/v1/bundles")
	v.SetDefault("bundle.max_per_bundle", 5)
	v.SetDefault("bundle.tip_lamports", 10000)
	v.SetDefault("venue.pump_api_url", "https://frontend-api.pump.fun")
	v.SetDefault("venue.swap_api_url", "https://quote-api.jup.ag/v6")
	v.SetDefault("venue.auth_token_env", "PUMP_AUTH_TOKEN")
	v.SetDefault("venue.timeout_seconds", 10)
	v.SetDefault("mirror.max_targets", 10)
	v.SetDefault("mirror.default_multiplier", 1.0)
	v.SetDefault("mirror.seen_ttl_minutes", 5)
	v.SetDefault("triggers.price_interval_seconds", 5)
	v.SetDefault("triggers.stop_loss_slippage_bps", 1000)
	v.SetDefault("api.listen_host", "127.0.0.1")
	v.SetDefault("api.listen_port", 8787)
	v.SetDefault("storage.sqlite_path", "./data/swarm.db")
	v.SetDefault("websocket.reconnect_delay_ms", 2000)
	v.SetDefault("websocket.ping_interval_ms", 15000)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	m := &Manager{
		config:        &cfg,
		viper:         v,
		skipPreflight: cfg.RPC.SkipPreflight || os.Getenv("SKIP_PREFLIGHT") == "1",
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

// Get returns the current config (thread-safe)
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetSwarm returns swarm config (most frequently accessed)
func (m *Manager) GetSwarm() SwarmConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Swarm
}

// SetOnChange registers a callback for config changes
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// SkipPreflight reports the preflight-skip flag snapshotted at startup
func (m *Manager) SkipPreflight() bool {
	return m.skipPreflight
}

// PrimaryKey loads the primary wallet key from environment
func (m *Manager) PrimaryKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallets.PrimaryKeyEnv)
}

// ExtraKeys loads the numbered wallet key series from environment.
// Keys are read from <extra_key_env>_2 .. <extra_key_env>_<max_wallets>;
// the series stops at the first missing entry.
func (m *Manager) ExtraKeys() []string {
	m.mu.RLock()
	prefix := m.config.Wallets.ExtraKeyEnv
	max := m.config.Wallets.MaxWallets
	m.mu.RUnlock()

	var keys []string
	for i := 2; i <= max; i++ {
		key := os.Getenv(fmt.Sprintf("%s_%d", prefix, i))
		if key == "" {
			break
		}
		keys = append(keys, key)
	}
	return keys
}

// RPCURL returns the RPC endpoint, preferring the env var over the config value
func (m *Manager) RPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if url := os.Getenv(m.config.RPC.URLEnv); url != "" {
		return url
	}
	return m.config.RPC.URL
}

// WSURL derives the websocket endpoint from the RPC endpoint when not set explicitly
func (m *Manager) WSURL() string {
	m.mu.RLock()
	explicit := m.config.RPC.WSURL
	m.mu.RUnlock()

	if explicit != "" {
		return explicit
	}
	url := m.RPCURL()
	url = strings.Replace(url, "https://", "wss://", 1)
	return strings.Replace(url, "http://", "ws://", 1)
}

// BundleURL returns the bundle service endpoint, honoring the env override
func (m *Manager) BundleURL() string {
	if url := os.Getenv("JITO_BUNDLE_URL"); url != "" {
		return url
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Bundle.URL
}

// VenueAuthToken loads the optional venue auth token from environment
func (m *Manager) VenueAuthToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Venue.AuthTokenEnv)
}

// ConfirmTimeout returns the sequential-mode confirmation budget as a duration
func (m *Manager) ConfirmTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Swarm.ConfirmTimeoutMs) * time.Millisecond
}

// SettleDelay returns the post-dispatch position refresh delay
func (m *Manager) SettleDelay() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Swarm.SettleDelayMs) * time.Millisecond
}
