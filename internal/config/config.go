package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	corechess "github.com/park285/cheese-coach/internal/chess"
	"github.com/park285/cheese-coach/internal/obslog"
)

type AppConfig struct {
	HTTPAddr string
	WSAddr   string

	RedisURL    string
	DatabaseURL string

	SessionTTL   time.Duration
	HistoryLimit int
	RandomSeed   int64

	MaxAnalysisDepth     int
	DefaultAnalysisDepth int
	AnalysisTimeout      time.Duration
	MaxImageBytes        int

	MessagesDir string
	Log         obslog.Options

	// Weights and Tiers come from the YAML file named by CHESS_CONFIG_FILE.
	Weights corechess.Weights
	Tiers   map[corechess.Tier]corechess.DifficultyPreset
}

// fileConfig is the YAML overlay. Tier and weight entries are partial: only
// keys present in the file replace the built-in values.
type fileConfig struct {
	HTTPAddr     string               `yaml:"http_addr"`
	WSAddr       string               `yaml:"ws_addr"`
	HistoryLimit int                  `yaml:"history_limit"`
	Weights      *yaml.Node           `yaml:"weights"`
	Tiers        map[string]yaml.Node `yaml:"tiers"`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:             ":8080",
		SessionTTL:           24 * time.Hour,
		HistoryLimit:         10,
		MaxAnalysisDepth:     4,
		DefaultAnalysisDepth: 3,
		AnalysisTimeout:      3 * time.Second,
		MaxImageBytes:        5 << 20,
		Log:                  obslog.DefaultOptions(),
		Weights:              corechess.DefaultWeights(),
		Tiers:                make(map[corechess.Tier]corechess.DifficultyPreset),
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.WSAddr = strings.TrimSpace(os.Getenv("WS_ADDR"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("CHESS_MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("CHESS_SESSION_TTL")); v != "" {
		d, err := parseDuration(v, time.Second)
		if err != nil {
			return nil, fmt.Errorf("CHESS_SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("CHESS_HISTORY_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESS_RANDOM_SEED")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("CHESS_RANDOM_SEED: %w", err)
		}
		cfg.RandomSeed = n
	}
	if v := strings.TrimSpace(os.Getenv("CHESS_MAX_ANALYSIS_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAnalysisDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESS_DEFAULT_ANALYSIS_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultAnalysisDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESS_ANALYSIS_TIMEOUT_MS")); v != "" {
		d, err := parseDuration(v, time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("CHESS_ANALYSIS_TIMEOUT_MS: %w", err)
		}
		cfg.AnalysisTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("CHESS_MAX_IMAGE_BYTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxImageBytes = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		cfg.Log.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_TO_CONSOLE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Console = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOG_CALLER")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Caller = b
		}
	}
	cfg.Log.File = strings.TrimSpace(os.Getenv("LOG_FILE"))

	if path := strings.TrimSpace(os.Getenv("CHESS_CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.applyYAML(raw); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if cfg.DefaultAnalysisDepth > cfg.MaxAnalysisDepth {
		return nil, fmt.Errorf("default analysis depth %d exceeds max %d", cfg.DefaultAnalysisDepth, cfg.MaxAnalysisDepth)
	}
	if cfg.SessionTTL <= 0 {
		return nil, errors.New("CHESS_SESSION_TTL must be positive")
	}
	return cfg, nil
}

func (c *AppConfig) applyYAML(raw []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return err
	}
	if fc.HTTPAddr != "" {
		c.HTTPAddr = fc.HTTPAddr
	}
	if fc.WSAddr != "" {
		c.WSAddr = fc.WSAddr
	}
	if fc.HistoryLimit > 0 {
		c.HistoryLimit = fc.HistoryLimit
	}
	if fc.Weights != nil {
		w := c.Weights
		if err := fc.Weights.Decode(&w); err != nil {
			return fmt.Errorf("weights: %w", err)
		}
		if err := w.Validate(); err != nil {
			return fmt.Errorf("weights: %w", err)
		}
		c.Weights = w
	}
	for name, node := range fc.Tiers {
		tier, err := corechess.ParseTier(name)
		if err != nil {
			return err
		}
		p, err := corechess.GetPreset(string(tier))
		if err != nil {
			return err
		}
		if err := node.Decode(&p); err != nil {
			return fmt.Errorf("tier %s: %w", tier, err)
		}
		if err := corechess.ValidatePreset(p); err != nil {
			return fmt.Errorf("tier %s: %w", tier, err)
		}
		c.Tiers[tier] = p
	}
	return nil
}

// ApplyTiers installs the configured tier overrides process-wide.
func (c *AppConfig) ApplyTiers() error {
	for tier, p := range c.Tiers {
		if err := corechess.SetPreset(string(tier), p); err != nil {
			return err
		}
	}
	return nil
}

// parseDuration accepts a bare integer in unit or a Go duration string.
func parseDuration(v string, unit time.Duration) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("must be positive: %d", n)
		}
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive: %s", v)
	}
	return d, nil
}
