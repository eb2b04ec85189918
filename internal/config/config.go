// Package config loads bridge settings from defaults, an optional file,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// #region config
// Policy backends.
const (
	PolicyGRPC  = "grpc"
	PolicyPrior = "prior"
)

// Config holds all bridge configuration.
type Config struct {
	// Listener
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Game
	Players int `mapstructure:"players"`

	// Policy backend
	Policy        string        `mapstructure:"policy"`
	PolicyAddr    string        `mapstructure:"policy_addr"`
	PolicyTimeout time.Duration `mapstructure:"policy_timeout"`

	// Golden reference checks
	ObsVerify  bool   `mapstructure:"obs_verify"`
	GoldenJSON string `mapstructure:"golden_json"`
	ObsBlocks  string `mapstructure:"obs_blocks"` // comma-separated block lengths, e.g. "100,50,200,308"

	// Diagnostics
	VerifyActionMap     bool    `mapstructure:"verify_actionmap"`
	MaskLog             bool    `mapstructure:"mask_log"`
	IntentTopK          int     `mapstructure:"intent_topk"`
	IntentSafeThreshold float64 `mapstructure:"intent_safe_threshold"`
	AuditLegality       bool    `mapstructure:"audit_legality"`

	// Serving
	Concurrent      bool `mapstructure:"concurrent"`
	MaxMessageBytes int  `mapstructure:"max_message_bytes"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the settings of a single-client deployment.
func Default() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                9000,
		Players:             2,
		Policy:              PolicyGRPC,
		PolicyAddr:          "localhost:50051",
		GoldenJSON:          "golden_obs.json",
		IntentTopK:          3,
		IntentSafeThreshold: 0.80,
		MaxMessageBytes:     1 << 20,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in [0,65535], got %d", c.Port)
	}
	if c.Players < 2 || c.Players > 5 {
		return fmt.Errorf("players must be in [2,5], got %d", c.Players)
	}
	switch c.Policy {
	case PolicyGRPC:
		if c.PolicyAddr == "" {
			return fmt.Errorf("policy_addr is required for the %s policy", PolicyGRPC)
		}
	case PolicyPrior:
	default:
		return fmt.Errorf("policy must be %q or %q, got %q", PolicyGRPC, PolicyPrior, c.Policy)
	}
	if c.PolicyTimeout < 0 {
		return fmt.Errorf("policy_timeout must not be negative")
	}
	if c.ObsVerify && c.GoldenJSON == "" {
		return fmt.Errorf("golden_json is required when obs_verify is set")
	}
	if _, err := ParseBlocks(c.ObsBlocks); err != nil {
		return fmt.Errorf("obs_blocks: %w", err)
	}
	if c.IntentTopK <= 0 {
		return fmt.Errorf("intent_topk must be positive")
	}
	if c.IntentSafeThreshold <= 0 || c.IntentSafeThreshold > 1 {
		return fmt.Errorf("intent_safe_threshold must be in (0,1]")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max_message_bytes must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Blocks returns the parsed block layout; nil when unset or invalid.
func (c *Config) Blocks() []int {
	b, err := ParseBlocks(c.ObsBlocks)
	if err != nil {
		return nil
	}
	return b
}

// ParseBlocks parses a comma-separated list of positive block lengths. Empty
// items are skipped; an empty string yields nil.
func ParseBlocks(s string) ([]int, error) {
	var out []int
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		n, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", item, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("block %q: length must be positive", item)
		}
		out = append(out, n)
	}
	return out, nil
}

// #endregion config

// #region viper
// legacyEnv maps keys to the environment names the first deployment used.
var legacyEnv = map[string]string{
	"obs_verify":       "OBS_VERIFY",
	"golden_json":      "GOLDEN_JSON",
	"obs_blocks":       "OBS_BLOCKS",
	"verify_actionmap": "VERIFY_ACTIONMAP",
	"mask_log":         "MASK_LOG",
}

// NewViper returns a viper instance seeded with defaults and environment
// bindings. Every key reads BRIDGE_<KEY>; the keys in legacyEnv also read
// their unprefixed name.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Default()
	defaults := map[string]any{
		"host":                  d.Host,
		"port":                  d.Port,
		"players":               d.Players,
		"policy":                d.Policy,
		"policy_addr":           d.PolicyAddr,
		"policy_timeout":        d.PolicyTimeout,
		"obs_verify":            d.ObsVerify,
		"golden_json":           d.GoldenJSON,
		"obs_blocks":            d.ObsBlocks,
		"verify_actionmap":      d.VerifyActionMap,
		"mask_log":              d.MaskLog,
		"intent_topk":           d.IntentTopK,
		"intent_safe_threshold": d.IntentSafeThreshold,
		"audit_legality":        d.AuditLegality,
		"concurrent":            d.Concurrent,
		"max_message_bytes":     d.MaxMessageBytes,
		"log_level":             d.LogLevel,
		"log_format":            d.LogFormat,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, "BRIDGE_"+strings.ToUpper(key), env)
	}
	return v
}

// BindFlags binds every flag in fs to the key of the same name with dashes
// turned into underscores.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return err
}

// Load reads the optional config file, decodes v and validates the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// #endregion viper
