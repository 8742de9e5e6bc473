package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/marcin-skalski/prwatch/internal/github"
)

const (
	EnvGitHubToken   = "GITHUB_TOKEN"
	EnvWebhookSecret = "PRWATCH_WEBHOOK_SECRET"
	EnvDatabaseURL   = "DATABASE_URL"
)

type Config struct {
	Repo            RepoConfig    `yaml:"repo"`
	Listen          string        `yaml:"listen"`
	PollInterval    time.Duration `yaml:"-"`
	RawInterval     string        `yaml:"poll_interval"`
	StaleAfter      time.Duration `yaml:"-"`
	RawStaleAfter   string        `yaml:"stale_after"`
	FetchTimeout    time.Duration `yaml:"-"`
	RawFetchTimeout string        `yaml:"fetch_timeout"`
	GitHub          GitHubConfig  `yaml:"github"`
	Storage         StorageConfig `yaml:"storage"`
	Stream          StreamConfig  `yaml:"stream"`
	LogFile         string        `yaml:"log_file"`
	Log             LogConfig     `yaml:"log"`

	// Secrets only ever come from the environment.
	GitHubToken   string `yaml:"-"`
	WebhookSecret string `yaml:"-"`
}

type RepoConfig struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
}

func (r RepoConfig) Slug() string {
	return r.Owner + "/" + r.Name
}

func (r RepoConfig) URL() string {
	return "https://github.com/" + r.Slug()
}

type GitHubConfig struct {
	GraphQLURL string `yaml:"graphql_url"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type StreamConfig struct {
	WriteTimeout    time.Duration `yaml:"-"`
	RawWriteTimeout string        `yaml:"write_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path, then fills secrets from the environment.
// A .env file in the working directory is honoured if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.GitHubToken = os.Getenv(EnvGitHubToken)
	cfg.WebhookSecret = os.Getenv(EnvWebhookSecret)
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = os.Getenv(EnvDatabaseURL)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func parseDuration(field, raw, def string) (time.Duration, error) {
	if raw == "" {
		raw = def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, raw)
	}
	return d, nil
}

func (c *Config) setDefaults() error {
	var err error
	if c.PollInterval, err = parseDuration("poll_interval", c.RawInterval, "60s"); err != nil {
		return err
	}
	if c.StaleAfter, err = parseDuration("stale_after", c.RawStaleAfter, "30s"); err != nil {
		return err
	}
	if c.FetchTimeout, err = parseDuration("fetch_timeout", c.RawFetchTimeout, "15s"); err != nil {
		return err
	}
	if c.Stream.WriteTimeout, err = parseDuration("stream.write_timeout", c.Stream.RawWriteTimeout, "10s"); err != nil {
		return err
	}

	if c.Listen == "" {
		c.Listen = ":8787"
	}
	if c.GitHub.GraphQLURL == "" {
		c.GitHub.GraphQLURL = github.DefaultGraphQLURL
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "~/.prwatch/state.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}

func (c *Config) validate() error {
	if c.Repo.Owner == "" {
		return fmt.Errorf("repo: owner required")
	}
	if c.Repo.Name == "" {
		return fmt.Errorf("repo: name required")
	}
	switch c.Storage.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage: dsn (or %s) required for postgres", EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("storage: invalid driver %q (sqlite|postgres|none)", c.Storage.Driver)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: invalid level %q (debug|info|warn|error)", c.Log.Level)
	}
	return nil
}
