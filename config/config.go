package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/ericselin/shell-cache/pkg/strategy"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort = 8080
	// MemoryDB selects an in-memory database.
	MemoryDB = "memory"
)

type Config struct {
	Origin     string `yaml:"origin"`
	Generation string `yaml:"generation"`
	NamePrefix string `yaml:"namePrefix"`
	// Resources precached on install, relative to the origin.
	Manifest []string `yaml:"manifest"`
	// Requests under these paths are stale-while-revalidate.
	HeavyPathPrefixes []string       `yaml:"heavyPathPrefixes"`
	StrategyRules     strategy.Rules `yaml:"rules"`
	DB                string         `yaml:"db"`
	Port              int            `yaml:"port"`
	LogFile           string         `yaml:"logFile"`
}

// environment overrides, applied when set
type overrides struct {
	Origin            string   `env:"SHELL_CACHE_ORIGIN"`
	Generation        string   `env:"SHELL_CACHE_GENERATION"`
	NamePrefix        string   `env:"SHELL_CACHE_NAME_PREFIX"`
	Manifest          []string `env:"SHELL_CACHE_MANIFEST"`
	HeavyPathPrefixes []string `env:"SHELL_CACHE_HEAVY_PATH_PREFIXES"`
	DB                string   `env:"SHELL_CACHE_DB"`
	Port              int      `env:"SHELL_CACHE_PORT"`
	LogFile           string   `env:"SHELL_CACHE_LOG_FILE"`
}

// Load reads the config file, if any, and applies environment overrides.
func Load(filename string) (Config, error) {
	config := Config{Port: DefaultPort, DB: "shell-cache.db"}
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	var o overrides
	if err := env.Parse(&o); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	config.apply(o)
	return config, nil
}

func (c *Config) apply(o overrides) {
	if o.Origin != "" {
		c.Origin = o.Origin
	}
	if o.Generation != "" {
		c.Generation = o.Generation
	}
	if o.NamePrefix != "" {
		c.NamePrefix = o.NamePrefix
	}
	if len(o.Manifest) > 0 {
		c.Manifest = o.Manifest
	}
	if len(o.HeavyPathPrefixes) > 0 {
		c.HeavyPathPrefixes = o.HeavyPathPrefixes
	}
	if o.DB != "" {
		c.DB = o.DB
	}
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
}

// OriginURL returns the parsed origin.
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("origin %q is not an absolute http(s) url", c.Origin)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("origin %q has a path", c.Origin)
	}
	return u, nil
}

// Validate reports every problem of the config at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.OriginURL(); err != nil {
		errs = append(errs, err)
	}
	if c.Generation == "" {
		errs = append(errs, errors.New("generation missing"))
	}
	if len(c.Manifest) == 0 {
		errs = append(errs, errors.New("manifest empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	return errors.Join(errs...)
}

// Rules returns the configured rules, followed by the heavy path prefixes.
// The first matching rule wins.
func (c Config) Rules() strategy.Rules {
	rules := make(strategy.Rules, 0, len(c.StrategyRules)+len(c.HeavyPathPrefixes))
	rules = append(rules, c.StrategyRules...)
	return append(rules, strategy.FromHeavyPrefixes(c.HeavyPathPrefixes)...)
}
