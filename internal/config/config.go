package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models proof.yml plus the process environment.
type Config struct {
	DLPID        int               `yaml:"dlp_id"`
	InputDir     string            `yaml:"input_dir"`
	OutputDir    string            `yaml:"output_dir"`
	FileID       string            `yaml:"file_id"`
	MinerAddress string            `yaml:"miner_address"`
	LogLevel     string            `yaml:"log_level"`
	Validator    ValidatorConfig   `yaml:"validator"`
	Content      ContentConfig     `yaml:"content"`
	Sampling     SamplingConfig    `yaml:"sampling"`
	Scoring      ScoringConfig     `yaml:"scoring"`
	Spool        SpoolConfig       `yaml:"spool"`
	Permissions  PermissionsConfig `yaml:"permissions"`
	Server       ServerConfig      `yaml:"server"`
	Metrics      MetricsConfig     `yaml:"metrics"`
}

type ValidatorConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	UniqueTimeout time.Duration `yaml:"unique_timeout"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	UserTimeout   time.Duration `yaml:"user_timeout"`
}

type ContentConfig struct {
	BaseURL     string        `yaml:"base_url"`
	QueryID     string        `yaml:"query_id"`
	BearerToken string        `yaml:"bearer_token"`
	Cookies     string        `yaml:"cookies"`
	Timeout     time.Duration `yaml:"timeout"`
	BatchSize   int           `yaml:"batch_size"`
}

// SamplingConfig holds the authenticity sampling knobs. The defaults
// (0.65, 0.1) give roughly 65% confidence of catching a file in which 10%
// of tweets are fabricated.
type SamplingConfig struct {
	Confidence     float64 `yaml:"confidence"`
	MaliciousRate  float64 `yaml:"malicious_rate"`
	FullCheckBelow int     `yaml:"full_check_below"`
}

// ScoringConfig: Scale is the weight sum that earns a file score of 1.0.
type ScoringConfig struct {
	Scale       float64 `yaml:"scale"`
	TweetWeight float64 `yaml:"tweet_weight"`
}

type SpoolConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

type PermissionsConfig struct {
	OwnerAddress   string `yaml:"owner_address"`
	OwnerPublicKey string `yaml:"owner_public_key"`
	Validated      string `yaml:"validated"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

// MetricsConfig says where a run exports its counters. Both targets are
// optional.
type MetricsConfig struct {
	Textfile string        `yaml:"textfile"`
	PushURL  string        `yaml:"push_url"`
	Job      string        `yaml:"job"`
	Timeout  time.Duration `yaml:"timeout"`
}

const (
	SpoolBackendFile   = "file"
	SpoolBackendSQLite = "sqlite"
)

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML overlays raw YAML on the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when path is empty or missing.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := FromFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures knobs are in range. Credentials are checked by ValidateRun.
func (c *Config) Validate() error {
	if c.Sampling.Confidence <= 0 || c.Sampling.Confidence >= 1 {
		return fmt.Errorf("sampling.confidence must be in (0,1), got %v", c.Sampling.Confidence)
	}
	if c.Sampling.MaliciousRate <= 0 || c.Sampling.MaliciousRate >= 1 {
		return fmt.Errorf("sampling.malicious_rate must be in (0,1), got %v", c.Sampling.MaliciousRate)
	}
	if c.Sampling.FullCheckBelow < 0 {
		return fmt.Errorf("sampling.full_check_below must not be negative")
	}
	if c.Scoring.Scale <= 0 {
		return fmt.Errorf("scoring.scale must be positive")
	}
	if c.Scoring.TweetWeight < 0 {
		return fmt.Errorf("scoring.tweet_weight must not be negative")
	}
	if c.Content.BatchSize <= 0 {
		return fmt.Errorf("content.batch_size must be positive")
	}
	for name, d := range map[string]time.Duration{
		"validator.unique_timeout": c.Validator.UniqueTimeout,
		"validator.submit_timeout": c.Validator.SubmitTimeout,
		"validator.user_timeout":   c.Validator.UserTimeout,
		"content.timeout":          c.Content.Timeout,
		"metrics.timeout":          c.Metrics.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	for name, raw := range map[string]string{
		"validator.base_url": c.Validator.BaseURL,
		"content.base_url":   c.Content.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute url, got %q", name, raw)
		}
	}
	if c.Metrics.PushURL != "" {
		u, err := url.Parse(c.Metrics.PushURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("metrics.push_url must be an absolute url, got %q", c.Metrics.PushURL)
		}
		if c.Metrics.Job == "" {
			return fmt.Errorf("metrics.job is required with metrics.push_url")
		}
	}
	switch c.Spool.Backend {
	case SpoolBackendFile, SpoolBackendSQLite:
	default:
		return fmt.Errorf("spool.backend must be %q or %q", SpoolBackendFile, SpoolBackendSQLite)
	}
	if strings.TrimSpace(c.Spool.Dir) == "" {
		return fmt.Errorf("spool.dir is required")
	}
	return nil
}

// ValidateRun adds the requirements of a verification run.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.FileID == "" {
		return fmt.Errorf("file id is required (FILE_ID)")
	}
	if c.MinerAddress == "" {
		return fmt.Errorf("miner address is required (MINER_ADDRESS)")
	}
	if c.Validator.APIKey == "" {
		return fmt.Errorf("validator api key is required (VOLARA_API_KEY)")
	}
	if c.Content.Cookies != "" {
		if _, err := c.Content.CookieMap(); err != nil {
			return err
		}
	}
	return nil
}

// Redacted returns a copy safe to print: credentials are masked.
func (c *Config) Redacted() *Config {
	out := *c
	for _, s := range []*string{
		&out.Validator.APIKey,
		&out.Content.Cookies,
		&out.Server.JWTSecret,
	} {
		if *s != "" {
			*s = "***"
		}
	}
	return &out
}

// CookieMap decodes the content-source cookies JSON object.
func (c ContentConfig) CookieMap() (map[string]string, error) {
	if strings.TrimSpace(c.Cookies) == "" {
		return map[string]string{}, nil
	}
	var cookies map[string]string
	if err := json.Unmarshal([]byte(c.Cookies), &cookies); err != nil {
		return nil, fmt.Errorf("content.cookies must be a JSON object: %w", err)
	}
	return cookies, nil
}

const defaultTemplate = `dlp_id: 6
input_dir: /input
output_dir: /output
log_level: info

validator:
  base_url: https://api.volara.xyz
  unique_timeout: 10s
  submit_timeout: 30s
  user_timeout: 10s

content:
  base_url: https://x.com
  query_id: Xl5pEoTnU2Slf3ZCyPgjHA
  bearer_token: AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA
  timeout: 20s
  batch_size: 100

sampling:
  confidence: 0.65
  malicious_rate: 0.1
  full_check_below: 100

scoring:
  scale: 100000
  tweet_weight: 10

spool:
  backend: file
  dir: .critical_reward_failures

permissions:
  owner_address: ""
  owner_public_key: ""

server:
  addr: 127.0.0.1:8087

metrics:
  textfile: ""
  push_url: ""
  job: tweetproof_proof
  timeout: 10s
`
