package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"pyqfetch/lib/configutil"

	"dario.cat/mergo"
)

const DefaultPath = "pyqfetch.json5"

// Exam is one entry of the exam registry: the upstream target id and the
// directory (relative to OutputDir) its files are written to.
type Exam struct {
	ID  string `json:"id" yaml:"id"`
	Dir string `json:"dir" yaml:"dir"`
}

type Retry struct {
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
	BaseDelay  string `json:"base_delay" yaml:"base_delay"`
}

type Config struct {
	// AuthCode is the bearer credential for the paper endpoints. Prefer setting it
	// through PYQ_AUTH_CODE instead of committing it to a file.
	AuthCode       string `json:"auth_code" yaml:"auth_code"`
	ListingBaseUrl string `json:"listing_base_url" yaml:"listing_base_url"`
	PaperBaseUrl   string `json:"paper_base_url" yaml:"paper_base_url"`
	Language       string `json:"language" yaml:"language"`
	ClientTag      string `json:"client_tag" yaml:"client_tag"`
	UserAgent      string `json:"user_agent" yaml:"user_agent"`
	OutputDir      string `json:"output_dir" yaml:"output_dir"`

	StartYear    int `json:"start_year" yaml:"start_year"`
	EndYear      int `json:"end_year" yaml:"end_year"`
	ListingLimit int `json:"listing_limit" yaml:"listing_limit"`

	Retry             Retry   `json:"retry" yaml:"retry"`
	Throttle          string  `json:"throttle" yaml:"throttle"`
	Timeout           string  `json:"timeout" yaml:"timeout"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	CloudflareBypass  bool    `json:"cloudflare_bypass" yaml:"cloudflare_bypass"`

	Exams map[string]Exam `json:"exams" yaml:"exams"`
}

// Defaults mirrors the values the upstream web client uses.
func Defaults() Config {
	return Config{
		ListingBaseUrl: "https://api.testbook.com/api/v1/previous-year-papers/target",
		PaperBaseUrl:   "https://api-new.testbook.com/api/v2/tests",
		Language:       "English",
		ClientTag:      "web,1.2",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		OutputDir:      ".",
		StartYear:      2010,
		EndYear:        2025,
		ListingLimit:   2000,
		Retry: Retry{
			MaxRetries: 5,
			BaseDelay:  "2s",
		},
		Throttle:          "300ms",
		Timeout:           "1m",
		RequestsPerSecond: 2,
	}
}

// Load reads the config file at path (a missing file is fine), fills every unset
// field from Defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	err = mergo.Merge(&cfg, Defaults())
	if err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	cfg.AuthCode = getEnv("PYQ_AUTH_CODE", cfg.AuthCode)
	cfg.OutputDir = getEnv("PYQ_OUTPUT_DIR", cfg.OutputDir)
	cfg.StartYear = getInt("PYQ_START_YEAR", cfg.StartYear)
	cfg.EndYear = getInt("PYQ_END_YEAR", cfg.EndYear)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.StartYear > c.EndYear {
		return fmt.Errorf("start_year %d is after end_year %d", c.StartYear, c.EndYear)
	}
	if c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("retry.max_retries must be positive")
	}
	if c.ListingLimit <= 0 {
		return fmt.Errorf("listing_limit must be positive")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"retry.base_delay", c.Retry.BaseDelay},
		{"throttle", c.Throttle},
		{"timeout", c.Timeout},
	} {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s cannot be negative", d.name)
		}
	}
	for name, exam := range c.Exams {
		if exam.ID == "" {
			return fmt.Errorf("exam %q has no id", name)
		}
	}
	return nil
}

// RequireAuthCode is checked before anything touches the paper endpoints.
func (c *Config) RequireAuthCode() error {
	if c.AuthCode == "" {
		return fmt.Errorf("no auth code configured: set PYQ_AUTH_CODE or auth_code in %s", DefaultPath)
	}
	return nil
}

func (c *Config) BaseDelay() time.Duration {
	return mustDuration(c.Retry.BaseDelay)
}

func (c *Config) ThrottleDuration() time.Duration {
	return mustDuration(c.Throttle)
}

func (c *Config) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout)
}

// mustDuration is only called on values that passed Validate.
func mustDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		panic(fmt.Sprintf("invalid duration %q: %v", raw, err))
	}
	return d
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
