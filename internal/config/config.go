package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or "5m" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full service configuration, loaded from YAML with a few
// environment overrides (PORT, DATABASE_PATH, INTERNAL_API_TOKEN).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
}

type ServerConfig struct {
	Port          string `yaml:"port"`
	InternalToken string `yaml:"internal_token"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type EngineConfig struct {
	OpenInterval        Duration `yaml:"open_interval"`
	ClosedInterval      Duration `yaml:"closed_interval"`
	LeaseDuration       Duration `yaml:"lease_duration"`
	QuoteTTL            Duration `yaml:"quote_ttl"`
	MaintenanceSchedule string   `yaml:"maintenance_schedule"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Path: "automation.db",
		},
		Engine: EngineConfig{
			OpenInterval:        Duration(30 * time.Second),
			ClosedInterval:      Duration(5 * time.Minute),
			LeaseDuration:       Duration(2 * time.Minute),
			QuoteTTL:            Duration(time.Minute),
			MaintenanceSchedule: "@hourly",
		},
	}
}

// Load reads the YAML file at path, falling back to defaults when the file
// does not exist. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if token := os.Getenv("INTERNAL_API_TOKEN"); token != "" {
		cfg.Server.InternalToken = token
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Engine.OpenInterval <= 0 || c.Engine.ClosedInterval <= 0 {
		return fmt.Errorf("engine intervals must be positive")
	}
	if c.Engine.LeaseDuration < 2*c.Engine.OpenInterval {
		return fmt.Errorf("lease_duration must be at least twice open_interval")
	}
	return nil
}
