package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	Dir          = ".codelive"
	ConfigFile   = "config.yaml"
	StateFile    = "sandboxes.json"
	DatabaseFile = "codelive.db"
	KeyFile      = "secret.key"
	EnvFile      = ".env"
	AppsDir      = "apps"
	SrcbooksDir  = "srcbooks"
	WorkDir      = "work"
)

type Config struct {
	Version     string  `yaml:"version"`
	BaseDir     string  `yaml:"base_dir"`
	Environment string  `yaml:"environment"`
	LogLevel    string  `yaml:"log_level"`
	Analytics   bool    `yaml:"analytics"`
	Server      Server  `yaml:"server"`
	Preview     Preview `yaml:"preview"`
	Sandbox     Sandbox `yaml:"sandbox"`
	Deploy      Deploy  `yaml:"deploy"`
	AI          AI      `yaml:"ai"`
}

type Server struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Preview struct {
	InstallCommand []string      `yaml:"install_command"`
	RunCommand     []string      `yaml:"run_command,omitempty"`
	ReadyMarker    string        `yaml:"ready_marker,omitempty"`
	TTL            time.Duration `yaml:"ttl"`
	CPU            string        `yaml:"cpu"`
	Memory         string        `yaml:"memory"`
}

type Sandbox struct {
	BaseImage string        `yaml:"base_image"`
	Port      int           `yaml:"port"`
	TTL       time.Duration `yaml:"ttl"`
	CPU       string        `yaml:"cpu"`
	Memory    string        `yaml:"memory"`
}

type Deploy struct {
	Python     string `yaml:"python"`
	AppPrefix  string `yaml:"app_prefix"`
	ModalToken string `yaml:"-"`
}

type AI struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no config file exists yet.
func Default(baseDir string) *Config {
	return &Config{
		Version:     "1",
		BaseDir:     baseDir,
		Environment: "development",
		LogLevel:    "info",
		Analytics:   true,
		Server: Server{
			Host:        "127.0.0.1",
			Port:        2150,
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:2150"},
		},
		Preview: Preview{
			InstallCommand: []string{"npm", "install"},
			TTL:            30 * time.Minute,
			CPU:            "1",
			Memory:         "1Gi",
		},
		Sandbox: Sandbox{
			BaseImage: "node:20-alpine",
			Port:      5173,
			TTL:       time.Hour,
			CPU:       "1",
			Memory:    "1Gi",
		},
		Deploy: Deploy{
			Python:    "python3",
			AppPrefix: "codelive",
		},
		AI: AI{
			RequestsPerMinute: 20,
			Timeout:           2 * time.Minute,
		},
	}
}

// Load reads config from .codelive/config.yaml relative to baseDir, falling
// back to defaults for anything the file leaves out. Environment overrides
// are applied last.
func Load(baseDir string) (*Config, error) {
	cfg := Default(baseDir)

	path := filepath.Join(baseDir, Dir, ConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if cfg.BaseDir == "" {
		cfg.BaseDir = baseDir
	}

	envPath := filepath.Join(baseDir, Dir, EnvFile)
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides config values from the process environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("MODAL_TOKEN"); v != "" {
		c.Deploy.ModalToken = v
	}
	if v := os.Getenv("SRCBOOK_DISABLE_ANALYTICS"); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SRCBOOK_DISABLE_ANALYTICS: %w", err)
		}
		c.Analytics = !disabled
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("CODELIVE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CODELIVE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("CODELIVE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// IsProduction reports whether NODE_ENV (or the config) selects production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Addr returns the host:port the API server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Save writes config to .codelive/config.yaml relative to baseDir.
func Save(baseDir string, cfg *Config) error {
	dir := filepath.Join(baseDir, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(dir, ConfigFile)
	return os.WriteFile(path, data, 0o644)
}

// ConfigPath returns the path to the config directory.
func ConfigPath(baseDir string) string {
	return filepath.Join(baseDir, Dir)
}

// Exists returns true if .codelive/config.yaml exists.
func Exists(baseDir string) bool {
	path := filepath.Join(baseDir, Dir, ConfigFile)
	_, err := os.Stat(path)
	return err == nil
}

// Path joins elements under the config directory.
func (c *Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.BaseDir, Dir}, elem...)...)
}

// AppsPath is where app project directories live.
func (c *Config) AppsPath() string {
	return filepath.Join(c.BaseDir, AppsDir)
}

// SrcbooksPath is where srcbook directories live.
func (c *Config) SrcbooksPath() string {
	return filepath.Join(c.BaseDir, SrcbooksDir)
}

// DefaultBaseDir returns ~/codelive.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "codelive"
	}
	return filepath.Join(home, "codelive")
}
