// Package config loads ipprism configuration from YAML files, applies
// environment overrides and validates the result.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/errors"
	"github.com/anstrom/ipprism/internal/logging"
)

const (
	// EnvPrefix is the prefix of every IPPRISM_<SECTION>_<KEY> override.
	EnvPrefix = "IPPRISM"

	DefaultCacheTTLHours      = 24
	DefaultMaliciousThreshold = 85
	DefaultMaxConcurrency     = 10
	DefaultLookupTimeout      = 20 * time.Second
	DefaultBootstrapTimeout   = 5 * time.Second

	DefaultPrimaryBaseURL   = "https://www.ipqualityscore.com"
	DefaultSecondaryBaseURL = "https://otx.alienvault.com"

	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete ipprism configuration
type Config struct {
	Database   db.Config        `yaml:"database" json:"database"`
	Reputation ReputationConfig `yaml:"reputation" json:"reputation"`
	Resolver   ResolverConfig   `yaml:"resolver" json:"resolver"`
	Analysis   AnalysisConfig   `yaml:"analysis" json:"analysis"`
	API        APIConfig        `yaml:"api" json:"api"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// ServiceConfig holds the settings of one reputation service.
type ServiceConfig struct {
	APIKey  string        `yaml:"api_key" json:"-"`
	BaseURL string        `yaml:"base_url" json:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

// ReputationConfig holds both reputation services.
type ReputationConfig struct {
	Primary   ServiceConfig `yaml:"primary" json:"primary"`
	Secondary ServiceConfig `yaml:"secondary" json:"secondary"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

// ResolverConfig holds the host override table and bootstrap settings.
type ResolverConfig struct {
	// Overrides maps hostnames to fallback literal addresses.
	Overrides        map[string]string `yaml:"overrides" json:"overrides" validate:"dive,keys,hostname_rfc1123,endkeys,ip"`
	Nameservers      []string          `yaml:"nameservers" json:"nameservers" validate:"dive,hostname_port"`
	BootstrapTimeout time.Duration     `yaml:"bootstrap_timeout" json:"bootstrap_timeout" validate:"gte=0"`
}

// AnalysisConfig holds engine settings.
type AnalysisConfig struct {
	CacheTTLHours      int     `yaml:"cache_ttl_hours" json:"cache_ttl_hours" validate:"gte=0"`
	MaliciousThreshold int     `yaml:"malicious_threshold" json:"malicious_threshold" validate:"gte=0,lte=100"`
	MaxConcurrency     int     `yaml:"max_concurrency" json:"max_concurrency" validate:"gte=1"`
	RequestsPerSecond  float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
}

// APIConfig holds API server settings
type APIConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	ListenAddr   string        `yaml:"listen_addr" json:"listen_addr"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins" json:"cors_origins"`
	// RetainedRuns caps how many finished background analyses are kept.
	RetainedRuns int `yaml:"retained_runs" json:"retained_runs" validate:"gte=0"`
}

// SchedulerConfig holds the stale-record refresh job settings.
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	RefreshCron  string `yaml:"refresh_cron" json:"refresh_cron"`
	RefreshLimit int    `yaml:"refresh_limit" json:"refresh_limit" validate:"gte=1"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json pretty"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig holds the standalone metrics listener settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	database := db.DefaultConfig()
	database.Database = "ipprism"
	database.Username = "ipprism"

	return &Config{
		Database: database,
		Reputation: ReputationConfig{
			Primary: ServiceConfig{
				BaseURL: DefaultPrimaryBaseURL,
				Timeout: DefaultLookupTimeout,
			},
			Secondary: ServiceConfig{
				BaseURL: DefaultSecondaryBaseURL,
				Timeout: DefaultLookupTimeout,
			},
			UserAgent: "ipprism",
		},
		Resolver: ResolverConfig{
			Overrides: map[string]string{
				"www.ipqualityscore.com": "104.18.12.18",
				"otx.alienvault.com":     "34.239.115.143",
			},
			Nameservers:      []string{"1.1.1.1:53"},
			BootstrapTimeout: DefaultBootstrapTimeout,
		},
		Analysis: AnalysisConfig{
			CacheTTLHours:      DefaultCacheTTLHours,
			MaliciousThreshold: DefaultMaliciousThreshold,
			MaxConcurrency:     DefaultMaxConcurrency,
		},
		API: APIConfig{
			Enabled:      true,
			ListenAddr:   "127.0.0.1",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			CORSOrigins:  []string{"*"},
			RetainedRuns: 100,
		},
		Scheduler: SchedulerConfig{
			RefreshCron:  "@daily",
			RefreshLimit: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9090",
		},
	}
}

// Load reads configuration from path on top of the defaults, applies
// environment overrides and validates the result. A missing file yields the
// defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			// YAML is a superset of JSON, so both extensions decode the same way.
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envAliases lists extra environment variables for some keys, in priority
// order after the generated IPPRISM_<SECTION>_<KEY> name. Legacy names come
// last.
var envAliases = map[string][]string{
	"reputation.primary.api_key":   {"IPPRISM_PRIMARY_API_KEY", "IPQS_API_KEY"},
	"reputation.secondary.api_key": {"IPPRISM_SECONDARY_API_KEY", "OTX_API_KEY"},
	"analysis.cache_ttl_hours":     {"IPPRISM_CACHE_TTL_HOURS", "CACHE_DURATION_HOURS"},
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	envReplacer  = strings.NewReplacer(".", "_")
)

// envName returns the generated environment variable for a dotted key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(envReplacer.Replace(key))
}

// envNames returns every environment variable that can set key.
func envNames(key string) []string {
	return append([]string{envName(key)}, envAliases[key]...)
}

// settableFields collects the leaf fields of v by their dotted yaml key.
// Maps are skipped; they can only be set from a file.
func settableFields(prefix string, v reflect.Value, out map[string]reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		field := v.Field(i)
		switch field.Kind() {
		case reflect.Struct:
			settableFields(key, field, out)
		case reflect.Map:
		default:
			out[key] = field
		}
	}
}

// setField parses raw into field. Lists are comma-separated.
func setField(key, raw string, field reflect.Value) error {
	raw = strings.TrimSpace(raw)
	invalid := errors.ErrConfigInvalid(key, raw)

	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return invalid
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return invalid
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return invalid
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return invalid
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return invalid
		}
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return invalid
	}
	return nil
}

// ApplyEnv overrides fields from the process environment. Every scalar or
// list setting has an IPPRISM_<SECTION>_<KEY> variable, for example
// IPPRISM_API_PORT or IPPRISM_ANALYSIS_REQUESTS_PER_SECOND.
func (c *Config) ApplyEnv() error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	fields := make(map[string]reflect.Value)
	settableFields("", reflect.ValueOf(c).Elem(), fields)

	for key := range fields {
		args := append([]string{key}, envNames(key)...)
		if err := v.BindEnv(args...); err != nil {
			return errors.WrapConfigError(errors.CodeConfiguration, "failed to bind environment", err)
		}
	}

	for key, field := range fields {
		if !v.IsSet(key) {
			continue
		}
		if err := setField(key, v.GetString(key), field); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the configuration as YAML. API keys are included.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.ErrConfigInvalid(fieldPath(fe.Namespace()), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "configuration validation failed", err)
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("API port must be between 1 and 65535")
	}
	if c.Scheduler.Enabled && c.Scheduler.RefreshCron == "" {
		return errors.ErrConfigMissing("scheduler.refresh_cron")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return errors.ErrConfigMissing("metrics.listen_addr")
	}

	return nil
}

// fieldPath turns a validator namespace like "Config.Analysis.CacheTTLHours"
// into a dotted path without the root type name.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// CacheTTL returns the freshness window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Analysis.CacheTTLHours) * time.Hour
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}

// LoggerConfig converts the logging section for the logging package.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:     logging.LogLevel(c.Logging.Level),
		Format:    logging.LogFormat(c.Logging.Format),
		Output:    c.Logging.Output,
		AddSource: c.Logging.Level == "debug",
	}
}
