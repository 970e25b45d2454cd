package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "BLOCKER_"

// ConfigFileEnv names the variable holding an optional YAML config file path.
const ConfigFileEnv = EnvPrefix + "CONFIG_FILE"

// AppConfig holds the daemon configuration. Precedence: defaults, then the optional
// YAML file, then BLOCKER_* environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// DataDir holds the persisted lists and the fetch metadata database.
	DataDir string `koanf:"data_dir" validate:"required"`

	// SettingsFile is the protection settings YAML. Empty means <data_dir>/settings.yaml.
	SettingsFile string `koanf:"settings_file"`

	TrackerDirectoryURL string `koanf:"tracker_directory_url" validate:"required,http_url"`
	GeneralListURL      string `koanf:"general_list_url" validate:"required,http_url"`
	PrivacyListURL      string `koanf:"privacy_list_url" validate:"required,http_url"`

	// FetchTimeout bounds a single list download.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"gte=1s"`

	// MaxListBytes rejects downloads larger than this.
	MaxListBytes int64 `koanf:"max_list_bytes" validate:"gte=1024"`

	// RefreshInterval is the spacing of scheduled refreshes in serve mode.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=1m"`

	// TriggerInterval is the minimum spacing of manual refresh triggers.
	TriggerInterval time.Duration `koanf:"trigger_interval" validate:"gte=0"`

	// DecisionCacheSize bounds the per-page decision cache; 0 disables it.
	DecisionCacheSize int `koanf:"decision_cache_size" validate:"gte=0"`

	// FalsePositiveRate is the target rate of the filter list membership filters.
	FalsePositiveRate float64 `koanf:"false_positive_rate" validate:"gt=0,lt=1"`

	// BannedCategories limits tracker directory hits to these categories. Empty bans all.
	BannedCategories []string `koanf:"banned_categories"`

	// Timing emits timer marks to the debug log.
	Timing bool `koanf:"timing"`
}

// DEFAULT_APP_CONFIG defines the default configuration of the blocker daemon.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                 "prod",
	LogLevel:            "info",
	DataDir:             "/var/lib/trackerblock/",
	TrackerDirectoryURL: "https://duckduckgo.com/contentblocking.js?l=disconnect",
	GeneralListURL:      "https://duckduckgo.com/contentblocking.js?l=easylist",
	PrivacyListURL:      "https://duckduckgo.com/contentblocking.js?l=easyprivacy",
	FetchTimeout:        30 * time.Second,
	MaxListBytes:        32 << 20,
	RefreshInterval:     24 * time.Hour,
	TriggerInterval:     time.Minute,
	DecisionCacheSize:   1000,
	FalsePositiveRate:   0.01,
	BannedCategories:    []string{"Advertising", "Analytics", "Social"},
	Timing:              false,
}

// SettingsPath returns the protection settings file path.
func (c *AppConfig) SettingsPath() string {
	if c.SettingsFile != "" {
		return c.SettingsFile
	}
	return filepath.Join(c.DataDir, "settings.yaml")
}

// FetchMetaPath returns the fetch metadata database path.
func (c *AppConfig) FetchMetaPath() string {
	return filepath.Join(c.DataDir, "fetchmeta.db")
}

// validHTTPURL accepts absolute http and https URLs with a host.
func validHTTPURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads the YAML file named by BLOCKER_CONFIG_FILE, if any. A named file
// that does not exist is an error.
var fileLoader = func(k *koanf.Koanf) error {
	path := strings.TrimSpace(os.Getenv(ConfigFileEnv))
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// envLoader loads BLOCKER_* variables, lowercasing keys. BLOCKER_BANNED_CATEGORIES
// is split on commas.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			value = strings.TrimSpace(value)
			if key == "config_file" {
				return "", nil
			}
			if key == "banned_categories" {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ','
				})
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				return key, parts
			}
			return key, value
		},
	}), nil)
}

// registerValidation registers the custom "http_url" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("http_url", validHTTPURL)
}

// Load returns the validated configuration.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := fileLoader(k); err != nil {
		return nil, fmt.Errorf("error loading config file: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &cfg, nil
}
