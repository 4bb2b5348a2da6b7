package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Concurrency bounds for provider polling. The provider rate-limits per API
// key, so no entry point may exceed MaxConcurrency in-flight status calls.
const (
	MinConcurrency = 1
	MaxConcurrency = 6

	// Interactive batch status runs alongside user traffic.
	DefaultBatchConcurrency = 3
	// The scheduled sweep has the pod to itself.
	DefaultSweepConcurrency = 4
	// Admin repair runs rarely and is expected to finish fast.
	DefaultRepairConcurrency = MaxConcurrency
)

// Sweep and batch size bounds. One sweep must fit inside a serverless
// invocation window, which caps the number of tasks touched per call.
const (
	MinBatchLimit     = 1
	MaxBatchLimit     = 60
	DefaultSweepLimit = 30
)

// Timing defaults.
const (
	DefaultCharacterPollInterval = 30 * time.Second
	DefaultCharacterMaxPolls     = 12
	DefaultStepTimeout           = 45 * time.Second
	DefaultLivenessTTL           = 15 * time.Second
	DefaultSweepInterval         = time.Minute
)

type Config struct {
	// Sora provider
	SoraAPIKey              string
	SoraAPIBaseURL          string
	SoraModel               string
	SoraCharacterTimestamps string
	SoraWebhookToken        string

	// Supabase
	SupabaseURL            string
	SupabasePublishableKey string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string
	SupabaseStorageBucket  string

	// Database
	DatabaseURL string

	// Access control
	CronSecret       string
	AdminUserIDs     []string
	WhitelistEnabled bool
	WhitelistUserIDs []string

	// Server
	Port        string
	Environment string
	BaseURL     string
	LogLevel    string

	Tuning Tuning
}

// Tuning holds the knobs that may be overridden from a YAML file pointed to
// by TUNING_FILE.
type Tuning struct {
	BatchConcurrency      int           `yaml:"batch_concurrency"`
	SweepConcurrency      int           `yaml:"sweep_concurrency"`
	RepairConcurrency     int           `yaml:"repair_concurrency"`
	SweepLimit            int           `yaml:"sweep_limit"`
	SweepInterval         time.Duration `yaml:"sweep_interval"`
	StepTimeout           time.Duration `yaml:"step_timeout"`
	LivenessTTL           time.Duration `yaml:"liveness_ttl"`
	CharacterPollInterval time.Duration `yaml:"character_poll_interval"`
	CharacterMaxPolls     int           `yaml:"character_max_polls"`
}

// DefaultTuning returns the tuning used when nothing is overridden.
func DefaultTuning() Tuning {
	return Tuning{
		BatchConcurrency:      DefaultBatchConcurrency,
		SweepConcurrency:      DefaultSweepConcurrency,
		RepairConcurrency:     DefaultRepairConcurrency,
		SweepLimit:            DefaultSweepLimit,
		SweepInterval:         DefaultSweepInterval,
		StepTimeout:           DefaultStepTimeout,
		LivenessTTL:           DefaultLivenessTTL,
		CharacterPollInterval: DefaultCharacterPollInterval,
		CharacterMaxPolls:     DefaultCharacterMaxPolls,
	}
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		SoraAPIKey:              getEnv("SORA_API_KEY", ""),
		SoraAPIBaseURL:          getEnv("SORA_API_BASE_URL", "https://api.kaponai.com"),
		SoraModel:               getEnv("SORA_MODEL", "sora-2"),
		SoraCharacterTimestamps: getEnv("SORA_CHARACTER_TIMESTAMPS", "1,3"),
		SoraWebhookToken:        getEnv("SORA_WEBHOOK_TOKEN", ""),

		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabasePublishableKey: getEnv("SUPABASE_PUBLISHABLE_KEY", ""),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "storyboard-media"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		CronSecret:       getEnv("CRON_SECRET", ""),
		AdminUserIDs:     splitList(getEnv("ADMIN_USER_IDS", "")),
		WhitelistEnabled: getEnvBool("WHITELIST_ENABLED", false),
		WhitelistUserIDs: splitList(getEnv("WHITELIST_USER_IDS", "")),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		Tuning: DefaultTuning(),
	}

	cfg.Tuning.BatchConcurrency = getEnvInt("SORA_BATCH_CONCURRENCY", cfg.Tuning.BatchConcurrency)
	cfg.Tuning.SweepConcurrency = getEnvInt("SORA_SWEEP_CONCURRENCY", cfg.Tuning.SweepConcurrency)
	cfg.Tuning.SweepLimit = getEnvInt("SORA_SWEEP_LIMIT", cfg.Tuning.SweepLimit)
	cfg.Tuning.SweepInterval = getEnvDuration("SORA_SWEEP_INTERVAL", cfg.Tuning.SweepInterval)

	if path := getEnv("TUNING_FILE", ""); path != "" {
		if err := cfg.Tuning.LoadFile(path); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	cfg.Tuning.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SoraAPIKey == "" {
		return fmt.Errorf("SORA_API_KEY is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabasePublishableKey == "" {
		return fmt.Errorf("SUPABASE_PUBLISHABLE_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	return nil
}

// StorageKey returns the key used for storage writes, preferring the
// service role key when it is configured.
func (c *Config) StorageKey() string {
	if c.SupabaseServiceRoleKey != "" {
		return c.SupabaseServiceRoleKey
	}
	return c.SupabasePublishableKey
}

// LoadFile overlays values from a YAML file. Zero values in the file leave
// the current setting untouched.
func (t *Tuning) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read tuning file: %w", err)
	}

	var overlay Tuning
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse tuning file: %w", err)
	}

	if overlay.BatchConcurrency != 0 {
		t.BatchConcurrency = overlay.BatchConcurrency
	}
	if overlay.SweepConcurrency != 0 {
		t.SweepConcurrency = overlay.SweepConcurrency
	}
	if overlay.RepairConcurrency != 0 {
		t.RepairConcurrency = overlay.RepairConcurrency
	}
	if overlay.SweepLimit != 0 {
		t.SweepLimit = overlay.SweepLimit
	}
	if overlay.SweepInterval != 0 {
		t.SweepInterval = overlay.SweepInterval
	}
	if overlay.StepTimeout != 0 {
		t.StepTimeout = overlay.StepTimeout
	}
	if overlay.LivenessTTL != 0 {
		t.LivenessTTL = overlay.LivenessTTL
	}
	if overlay.CharacterPollInterval != 0 {
		t.CharacterPollInterval = overlay.CharacterPollInterval
	}
	if overlay.CharacterMaxPolls != 0 {
		t.CharacterMaxPolls = overlay.CharacterMaxPolls
	}
	return nil
}

// Normalize clamps every value into its allowed range.
func (t *Tuning) Normalize() {
	t.BatchConcurrency = ClampConcurrency(t.BatchConcurrency)
	t.SweepConcurrency = ClampConcurrency(t.SweepConcurrency)
	t.RepairConcurrency = ClampConcurrency(t.RepairConcurrency)
	t.SweepLimit = ClampBatchLimit(t.SweepLimit)
	if t.SweepInterval < 0 {
		t.SweepInterval = 0
	}
	if t.StepTimeout <= 0 {
		t.StepTimeout = DefaultStepTimeout
	}
	if t.LivenessTTL < 0 {
		t.LivenessTTL = 0
	}
	if t.CharacterPollInterval <= 0 {
		t.CharacterPollInterval = DefaultCharacterPollInterval
	}
	if t.CharacterMaxPolls <= 0 {
		t.CharacterMaxPolls = DefaultCharacterMaxPolls
	}
}

// ClampConcurrency forces n into [MinConcurrency, MaxConcurrency].
func ClampConcurrency(n int) int {
	return clamp(n, MinConcurrency, MaxConcurrency)
}

// ClampBatchLimit forces n into [MinBatchLimit, MaxBatchLimit].
func ClampBatchLimit(n int) int {
	return clamp(n, MinBatchLimit, MaxBatchLimit)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
