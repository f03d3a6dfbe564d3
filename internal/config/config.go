package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/janekbaraniewski/copilotusage/internal/catalog"
	"github.com/janekbaraniewski/copilotusage/internal/core"
)

const appName = "copilotusage"

type ReportConfig struct {
	DefaultRange           core.DateRange `json:"default_range"`
	ExcludeUnknownLanguage bool           `json:"exclude_unknown_language"`
	TopUsers               int            `json:"top_users"`
	Width                  int            `json:"width"`
}

type DaemonConfig struct {
	SocketPath string `json:"socket_path"`
}

type Config struct {
	Report ReportConfig `json:"report"`
	Daemon DaemonConfig `json:"daemon"`
	// ServiceValueRate is dollars per premium request unit.
	ServiceValueRate decimal.Decimal `json:"service_value_rate"`
	// Models extends or overrides the built-in model catalog.
	Models map[string]catalog.Model `json:"models,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Report: ReportConfig{
			DefaultRange: core.DateRangeAll,
			TopUsers:     10,
			Width:        100,
		},
		ServiceValueRate: catalog.ServiceValueRate,
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appName)
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

// DefaultSocketPath is where the daemon listens unless configured otherwise.
func DefaultSocketPath() (string, error) {
	if base := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); base != "" {
		return filepath.Join(base, appName, "daemon.sock"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", appName, "daemon.sock"), nil
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return DefaultConfig(), fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	defaults := DefaultConfig()
	r, err := core.ParseDateRange(string(c.Report.DefaultRange))
	if err != nil {
		return err
	}
	c.Report.DefaultRange = r
	if c.Report.TopUsers <= 0 {
		c.Report.TopUsers = defaults.Report.TopUsers
	}
	if c.Report.Width <= 0 {
		c.Report.Width = defaults.Report.Width
	}
	if !c.ServiceValueRate.IsPositive() {
		c.ServiceValueRate = defaults.ServiceValueRate
	}
	c.Daemon.SocketPath = strings.TrimSpace(c.Daemon.SocketPath)
	for name, m := range c.Models {
		if m.Multiplier < 0 {
			return fmt.Errorf("model %q: negative multiplier %v", name, m.Multiplier)
		}
	}
	return nil
}

// Catalog returns the built-in catalog with this config's overrides applied.
func (c Config) Catalog() *catalog.Catalog {
	return catalog.Default().WithOverrides(c.Models, c.ServiceValueRate)
}

// SocketPath resolves the configured daemon socket, falling back to the
// default location.
func (c Config) SocketPath() (string, error) {
	if c.Daemon.SocketPath != "" {
		return c.Daemon.SocketPath, nil
	}
	return DefaultSocketPath()
}

// saveMu guards read-modify-write cycles on the config file.
var saveMu sync.Mutex

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SaveModel persists one model override into the config file (read-modify-write).
func SaveModel(name string, model catalog.Model) error {
	return SaveModelTo(ConfigPath(), name, model)
}

func SaveModelTo(path, name string, model catalog.Model) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("model name is empty")
	}
	if model.Multiplier < 0 {
		return fmt.Errorf("model %q: negative multiplier %v", name, model.Multiplier)
	}

	saveMu.Lock()
	defer saveMu.Unlock()

	// LoadFrom already defaults a missing file; any other error leaves the
	// file untouched.
	cfg, err := LoadFrom(path)
	if err != nil {
		return fmt.Errorf("saving model %q: %w", name, err)
	}
	if cfg.Models == nil {
		cfg.Models = map[string]catalog.Model{}
	}
	cfg.Models[name] = model
	return SaveTo(path, cfg)
}
