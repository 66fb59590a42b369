package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds all configuration for the geoqueue daemon.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	Store        StoreConfig        `yaml:"store"`
	Backend      BackendConfig      `yaml:"backend"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Engine       EngineConfig       `yaml:"engine"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ListenConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"authToken"`
}

// StoreConfig selects the record-store substrate and the storage budget
// applied to everything persisted under it.
type StoreConfig struct {
	DSN      string  `yaml:"dsn"`
	BudgetMB float64 `yaml:"budgetMb"`
}

// BackendConfig points at the remote feature backend.
type BackendConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token"`
}

// ConnectivityConfig selects how up/down transitions are detected:
// "probe" polls the backend health URL, "file" watches a link-state marker
// file, "manual" starts offline and is driven via the management API.
type ConnectivityConfig struct {
	Mode          string        `yaml:"mode"`
	ProbeURL      string        `yaml:"probeUrl"`
	ProbeInterval time.Duration `yaml:"probeInterval"`
	MarkerPath    string        `yaml:"markerPath"`
}

type EngineConfig struct {
	StrictOutcomes bool `yaml:"strictOutcomes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Listen: ListenConfig{Addr: ":8091"},
		Store: StoreConfig{
			DSN:      "file://.geoqueue/records.json",
			BudgetMB: 10,
		},
		Backend: BackendConfig{BaseURL: "http://127.0.0.1:8080"},
		Connectivity: ConnectivityConfig{
			Mode:          "probe",
			ProbeInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, if any, and applies GEOQUEUE_*
// environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.Connectivity.ProbeURL == "" {
		cfg.Connectivity.ProbeURL = strings.TrimRight(cfg.Backend.BaseURL, "/") + "/healthz"
	}
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) {
	cfg.Listen.Addr = stringEnv("GEOQUEUE_ADDR", cfg.Listen.Addr)
	cfg.Listen.AuthToken = stringEnv("GEOQUEUE_AUTH_TOKEN", cfg.Listen.AuthToken)
	cfg.Store.DSN = stringEnv("GEOQUEUE_STORE_DSN", cfg.Store.DSN)
	cfg.Store.BudgetMB = floatEnv("GEOQUEUE_BUDGET_MB", cfg.Store.BudgetMB)
	cfg.Backend.BaseURL = stringEnv("GEOQUEUE_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Token = stringEnv("GEOQUEUE_BACKEND_TOKEN", cfg.Backend.Token)
	cfg.Connectivity.Mode = stringEnv("GEOQUEUE_CONNECTIVITY_MODE", cfg.Connectivity.Mode)
	cfg.Connectivity.ProbeURL = stringEnv("GEOQUEUE_PROBE_URL", cfg.Connectivity.ProbeURL)
	cfg.Connectivity.ProbeInterval = durationEnv("GEOQUEUE_PROBE_INTERVAL", cfg.Connectivity.ProbeInterval)
	cfg.Connectivity.MarkerPath = stringEnv("GEOQUEUE_LINK_MARKER", cfg.Connectivity.MarkerPath)
	cfg.Engine.StrictOutcomes = boolEnv("GEOQUEUE_STRICT_OUTCOMES", cfg.Engine.StrictOutcomes)
	cfg.Logging.Level = stringEnv("GEOQUEUE_LOG_LEVEL", cfg.Logging.Level)
}

func (c Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Connectivity.Mode)) {
	case "probe", "manual":
	case "file":
		if strings.TrimSpace(c.Connectivity.MarkerPath) == "" {
			return fmt.Errorf("connectivity.markerPath is required in file mode")
		}
	default:
		return fmt.Errorf("unsupported connectivity mode: %s", c.Connectivity.Mode)
	}
	if c.Store.BudgetMB <= 0 {
		return fmt.Errorf("store.budgetMb must be positive")
	}
	return nil
}

func stringEnv(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func floatEnv(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
