package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/sandboxcore/internal/policy"
)

// SandboxConfig selects and parameterizes the execution backend.
type SandboxConfig struct {
	Kind           string   `yaml:"kind"`            // AppContainer | Bubblewrap | Container
	ContainerName  string   `yaml:"container_name"`  // Windows AppContainer profile name
	ContainerImage string   `yaml:"container_image"` // Container backend base image
	Capabilities   []string `yaml:"capabilities"`    // Windows SID-packed capability names
}

// CommandConfig parameterizes the CommandValidator.
type CommandConfig struct {
	Mode      string   `yaml:"mode"` // Whitelist | Blacklist
	Allowed   []string `yaml:"allowed"`
	Denied    []string `yaml:"denied"`
	TimeoutS  int      `yaml:"timeout_s"`
}

// FsConfig parameterizes filesystem fallbacks not otherwise set by a
// folder policy.
type FsConfig struct {
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

// UrlConfig parameterizes the UrlValidator.
type UrlConfig struct {
	AllowedDomains []string `yaml:"allowed_domains"`
	DeniedDomains  []string `yaml:"denied_domains"`
}

// AuditConfig controls where audit records land.
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	JSONLDir string `yaml:"jsonl_dir"`
	SQLite   string `yaml:"sqlite_path,omitempty"`
}

// Config is the flat configuration surface described in the external
// interfaces table: sandbox backend selection, validator parameters, and
// the folder policy set consumed by policy.FolderPolicyEngine.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Sandbox SandboxConfig `yaml:"sandbox"`
	Command CommandConfig `yaml:"command"`
	Fs      FsConfig      `yaml:"fs"`
	Url     UrlConfig     `yaml:"url"`
	Audit   AuditConfig   `yaml:"audit"`

	FolderPolicies []policy.FolderPolicy `yaml:"folder_policies"`

	AllowedDirectories []string `yaml:"allowed_directories"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config, used to detect
// whether a reloaded file actually changed the effective settings.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "kind=%s|image=%s|caps=%v|cmdmode=%s|maxsize=%d|dirs=%v|policies=%d",
		c.Sandbox.Kind, c.Sandbox.ContainerImage, c.Sandbox.Capabilities,
		c.Command.Mode, c.Fs.MaxFileSizeMB, c.AllowedDirectories, len(c.FolderPolicies))
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Sandbox: SandboxConfig{
			Kind: "Bubblewrap",
		},
		Command: CommandConfig{
			Mode:     "Blacklist",
			TimeoutS: 30,
		},
		Fs: FsConfig{
			MaxFileSizeMB: 100,
		},
		Audit: AuditConfig{
			Enabled:  true,
			JSONLDir: "logs",
		},
	}
}

// HomeDir resolves the substrate's home directory, honoring an override
// for tests and multi-instance deployments.
func HomeDir() string {
	if override := os.Getenv("SANDBOXCORE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".sandboxcore")
}

// Load reads config.yaml from HomeDir, applies environment overrides, and
// normalizes defaults. A missing file is not an error; Load falls back to
// defaultConfig.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create sandboxcore home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// LoadFrom is Load for an already-resolved home directory, used by the
// config watcher to reload in place and by tests.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	data, err := os.ReadFile(ConfigPath(homeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
		applyEnvOverrides(&cfg)
		normalize(&cfg)
		return cfg, nil
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Sandbox.Kind == "" {
		cfg.Sandbox.Kind = "Bubblewrap"
	}
	if cfg.Command.Mode == "" {
		cfg.Command.Mode = "Blacklist"
	}
	if cfg.Command.TimeoutS <= 0 {
		cfg.Command.TimeoutS = 30
	}
	if cfg.Fs.MaxFileSizeMB < 0 {
		cfg.Fs.MaxFileSizeMB = 0
	}
	if cfg.Audit.JSONLDir == "" {
		cfg.Audit.JSONLDir = "logs"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("SANDBOXCORE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("SANDBOXCORE_SANDBOX_KIND"); raw != "" {
		cfg.Sandbox.Kind = raw
	}
	if raw := os.Getenv("SANDBOXCORE_CONTAINER_IMAGE"); raw != "" {
		cfg.Sandbox.ContainerImage = raw
	}
	if raw := os.Getenv("SANDBOXCORE_CONTAINER_NAME"); raw != "" {
		cfg.Sandbox.ContainerName = raw
	}
	if raw := os.Getenv("SANDBOXCORE_COMMAND_MODE"); raw != "" {
		cfg.Command.Mode = raw
	}
	if raw := os.Getenv("SANDBOXCORE_COMMAND_TIMEOUT_S"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Command.TimeoutS = v
		}
	}
	if raw := os.Getenv("SANDBOXCORE_MAX_FILE_SIZE_MB"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Fs.MaxFileSizeMB = v
		}
	}
	if raw := os.Getenv("SANDBOXCORE_ALLOWED_DIRECTORIES"); raw != "" {
		cfg.AllowedDirectories = splitAndTrim(raw, ",")
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BuildEngine constructs a FolderPolicyEngine from cfg.FolderPolicies,
// applying fs.max_file_size_mb as the global default's fallback ceiling
// when no declared policy sets one.
func (c Config) BuildEngine() (*policy.FolderPolicyEngine, error) {
	e := policy.NewFolderPolicyEngine()
	if c.Fs.MaxFileSizeMB > 0 {
		if err := e.SetGlobalDefault(policy.FolderPolicy{
			Path:          "*",
			Access:        "Deny",
			MaxFileSizeMB: c.Fs.MaxFileSizeMB,
		}); err != nil {
			return nil, err
		}
	}
	if err := e.AddPolicies(c.FolderPolicies); err != nil {
		return nil, err
	}
	return e, nil
}
