package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"crawlmeter/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Behavior   BehaviorConfig   `mapstructure:"behavior"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Revenue    RevenueConfig    `mapstructure:"revenue"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Signatures SignatureConfig  `mapstructure:"signatures"`
	Geo        GeoConfig        `mapstructure:"geo"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DetectionConfig holds per-layer base confidences and fan-out limits.
// The defaults are empirically chosen reference values, not load-bearing
// exact constants; deployments tune them.
type DetectionConfig struct {
	DetectorTimeout        time.Duration `mapstructure:"detector_timeout"`
	ConfidenceCap          float64       `mapstructure:"confidence_cap"`
	CorroborationBoost     float64       `mapstructure:"corroboration_boost"`
	CorroborationMax       float64       `mapstructure:"corroboration_max"`
	SignatureConfidence    float64       `mapstructure:"signature_confidence"`
	GenericConfidence      float64       `mapstructure:"generic_confidence"`
	EmptyUAConfidence      float64       `mapstructure:"empty_ua_confidence"`
	HeaderConfidence       float64       `mapstructure:"header_confidence"`
	IPRangeConfidence      float64       `mapstructure:"ip_range_confidence"`
	CloudConfidence        float64       `mapstructure:"cloud_confidence"`
	OrderSimilarityFloor   float64       `mapstructure:"order_similarity_floor"`
	EdgeVerifiedConfidence float64       `mapstructure:"edge_verified_confidence"`
	EdgeFlagConfidence     float64       `mapstructure:"edge_flag_confidence"`
	EdgeScoreThreshold     float64       `mapstructure:"edge_score_threshold"`
	EdgeThreatThreshold    float64       `mapstructure:"edge_threat_threshold"`
	EdgeThreatConfidence   float64       `mapstructure:"edge_threat_confidence"`
}

// BehaviorConfig tunes the rolling per-IP request window.
type BehaviorConfig struct {
	Window             time.Duration `mapstructure:"window"`
	MaxRequestsPerHour int           `mapstructure:"max_requests_per_hour"`
	SequentialRatio    float64       `mapstructure:"sequential_ratio"`
	NoRefererRatio     float64       `mapstructure:"no_referer_ratio"`
	BaseConfidence     float64       `mapstructure:"base_confidence"`
	PerSignalBoost     float64       `mapstructure:"per_signal_boost"`
	MaxConfidence      float64       `mapstructure:"max_confidence"`
	EvictInterval      time.Duration `mapstructure:"evict_interval"`
}

// PolicyConfig sets the confidence bands for enforcement decisions.
type PolicyConfig struct {
	HighThreshold   float64 `mapstructure:"high_threshold"`
	MediumThreshold float64 `mapstructure:"medium_threshold"`
}

// RevenueConfig governs visit pricing.
type RevenueConfig struct {
	DefaultRate        float64            `mapstructure:"default_rate"`
	Currency           string             `mapstructure:"currency"`
	DedupWindow        time.Duration      `mapstructure:"dedup_window"`
	PeakEnabled        bool               `mapstructure:"peak_enabled"`
	PeakStartHour      int                `mapstructure:"peak_start_hour"`
	PeakEndHour        int                `mapstructure:"peak_end_hour"`
	PeakMultiplier     float64            `mapstructure:"peak_multiplier"`
	GeoEnabled         bool               `mapstructure:"geo_enabled"`
	PremiumCountries   []string           `mapstructure:"premium_countries"`
	GeoMultiplier      float64            `mapstructure:"geo_multiplier"`
	ContentEnabled     bool               `mapstructure:"content_enabled"`
	ContentMultipliers map[string]float64 `mapstructure:"content_multipliers"`
	SiteRates          map[string]float64 `mapstructure:"site_rates"`
	DedupCacheSize     int                `mapstructure:"dedup_cache_size"`
}

// SettlementConfig governs rollup and payout jobs.
type SettlementConfig struct {
	MinimumPayout   float64           `mapstructure:"minimum_payout"`
	PlatformFeePct  float64           `mapstructure:"platform_fee_pct"`
	RollupInterval  time.Duration     `mapstructure:"rollup_interval"`
	AlignToDay      bool              `mapstructure:"align_to_day"`
	StartupDelay    time.Duration     `mapstructure:"startup_delay"`
	AdvisoryLockKey int64             `mapstructure:"advisory_lock_key"`
	WeeklySpec      string            `mapstructure:"weekly_spec"`
	MonthlySpec     string            `mapstructure:"monthly_spec"`
	DefaultCadence  string            `mapstructure:"default_cadence"`
	OwnerCadences   map[string]string `mapstructure:"owner_cadences"`
}

// PaymentConfig covers the external transfer provider.
type PaymentConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// NotifyConfig defines event routing.
type NotifyConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	Channels       []string       `mapstructure:"channels"`
	BurstThreshold int            `mapstructure:"burst_threshold"`
	BurstWindow    time.Duration  `mapstructure:"burst_window"`
	Webhook        WebhookConfig  `mapstructure:"webhook"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig routes events to a generic HTTP endpoint.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig routes events to a Telegram chat.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// SignatureConfig locates the bot signature catalog.
type SignatureConfig struct {
	Path string `mapstructure:"path"`
}

// GeoConfig locates the country database for the geography multiplier.
type GeoConfig struct {
	MMDBPath string `mapstructure:"mmdb_path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crawlmeter")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("detection.detector_timeout", "50ms")
	v.SetDefault("detection.confidence_cap", 0.99)
	v.SetDefault("detection.corroboration_boost", 0.05)
	v.SetDefault("detection.corroboration_max", 0.1)
	v.SetDefault("detection.signature_confidence", 0.95)
	v.SetDefault("detection.generic_confidence", 0.6)
	v.SetDefault("detection.empty_ua_confidence", 0.7)
	v.SetDefault("detection.header_confidence", 0.65)
	v.SetDefault("detection.ip_range_confidence", 0.9)
	v.SetDefault("detection.cloud_confidence", 0.3)
	v.SetDefault("detection.order_similarity_floor", 0.6)
	v.SetDefault("detection.edge_verified_confidence", 0.95)
	v.SetDefault("detection.edge_flag_confidence", 0.85)
	v.SetDefault("detection.edge_score_threshold", 66)
	v.SetDefault("detection.edge_threat_threshold", 50)
	v.SetDefault("detection.edge_threat_confidence", 0.6)

	v.SetDefault("behavior.window", "1h")
	v.SetDefault("behavior.max_requests_per_hour", 50)
	v.SetDefault("behavior.sequential_ratio", 0.6)
	v.SetDefault("behavior.no_referer_ratio", 0.8)
	v.SetDefault("behavior.base_confidence", 0.4)
	v.SetDefault("behavior.per_signal_boost", 0.2)
	v.SetDefault("behavior.max_confidence", 0.9)
	v.SetDefault("behavior.evict_interval", "5m")

	v.SetDefault("policy.high_threshold", 0.9)
	v.SetDefault("policy.medium_threshold", 0.7)

	v.SetDefault("revenue.default_rate", 0.001)
	v.SetDefault("revenue.currency", "USD")
	v.SetDefault("revenue.dedup_window", "60s")
	v.SetDefault("revenue.peak_enabled", false)
	v.SetDefault("revenue.peak_start_hour", 14)
	v.SetDefault("revenue.peak_end_hour", 22)
	v.SetDefault("revenue.peak_multiplier", 1.2)
	v.SetDefault("revenue.geo_enabled", false)
	v.SetDefault("revenue.geo_multiplier", 1.3)
	v.SetDefault("revenue.content_enabled", false)
	v.SetDefault("revenue.content_multipliers", map[string]float64{
		"premium":  1.5,
		"longform": 2.0,
	})
	v.SetDefault("revenue.dedup_cache_size", 65536)

	v.SetDefault("settlement.minimum_payout", 25.0)
	v.SetDefault("settlement.platform_fee_pct", 0.20)
	v.SetDefault("settlement.rollup_interval", "24h")
	v.SetDefault("settlement.align_to_day", true)
	v.SetDefault("settlement.startup_delay", "0s")
	v.SetDefault("settlement.advisory_lock_key", int64(0x63726d74))
	v.SetDefault("settlement.weekly_spec", "0 6 * * 1")
	v.SetDefault("settlement.monthly_spec", "0 6 1 * *")
	v.SetDefault("settlement.default_cadence", "weekly")

	v.SetDefault("payment.enabled", false)
	v.SetDefault("payment.base_url", "https://api.stripe.com/v1")
	v.SetDefault("payment.request_timeout", "15s")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.channels", []string{"webhook"})
	v.SetDefault("notify.burst_threshold", 100)
	v.SetDefault("notify.burst_window", "5m")
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Detection.DetectorTimeout <= 0 {
		return fmt.Errorf("detection.detector_timeout must be greater than zero")
	}
	if c.Detection.ConfidenceCap <= 0 || c.Detection.ConfidenceCap > 1 {
		return fmt.Errorf("detection.confidence_cap must be in (0,1]")
	}
	if c.Behavior.Window <= 0 {
		return fmt.Errorf("behavior.window must be greater than zero")
	}
	if c.Policy.MediumThreshold <= 0 || c.Policy.HighThreshold <= c.Policy.MediumThreshold {
		return fmt.Errorf("policy thresholds must satisfy 0 < medium < high")
	}
	if c.Revenue.DefaultRate < 0 {
		return fmt.Errorf("revenue.default_rate cannot be negative")
	}
	if c.Revenue.DedupWindow <= 0 {
		return fmt.Errorf("revenue.dedup_window must be greater than zero")
	}
	if c.Settlement.PlatformFeePct < 0 || c.Settlement.PlatformFeePct > 1 {
		return fmt.Errorf("settlement.platform_fee_pct must be within [0,1]")
	}
	if c.Settlement.MinimumPayout < 0 {
		return fmt.Errorf("settlement.minimum_payout cannot be negative")
	}
	if c.Settlement.RollupInterval <= 0 {
		return fmt.Errorf("settlement.rollup_interval must be greater than zero")
	}
	switch c.Settlement.DefaultCadence {
	case "weekly", "monthly":
	default:
		return fmt.Errorf("settlement.default_cadence must be weekly or monthly")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Payment.Enabled && c.Payment.APIKey == "" {
		return fmt.Errorf("payment.api_key is required when payment.enabled")
	}
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
