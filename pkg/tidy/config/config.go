package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" yaml:"level"`
	Path       string            `mapstructure:"path" yaml:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components map[string]string `mapstructure:"components" yaml:"components,omitempty"`
}

// OverrideRule forces files matching Pattern into Category.
type OverrideRule struct {
	Pattern  string `mapstructure:"pattern" yaml:"pattern"`
	Category string `mapstructure:"category" yaml:"category"`
}

// CategorizerConfig selects and tunes the categorizer.
type CategorizerConfig struct {
	Strategy            string         `mapstructure:"strategy" yaml:"strategy"`
	ConfidenceThreshold float64        `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	FilenameWeight      int            `mapstructure:"filename_weight" yaml:"filename_weight"`
	Overrides           []OverrideRule `mapstructure:"overrides" yaml:"overrides,omitempty"`
}

// ExtractConfig bounds content extraction.
type ExtractConfig struct {
	MaxPages int    `mapstructure:"max_pages" yaml:"max_pages"`
	MaxBytes string `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// FingerprintConfig configures content hashing.
type FingerprintConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`
	Cache     bool   `mapstructure:"cache" yaml:"cache"`
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`
}

// DuplicatesConfig configures duplicate handling.
type DuplicatesConfig struct {
	Action      string   `mapstructure:"action" yaml:"action"`
	StagingDirs []string `mapstructure:"staging_dirs" yaml:"staging_dirs"`
}

// DeleteConfig configures how deletes are carried out.
type DeleteConfig struct {
	Quarantine    bool   `mapstructure:"quarantine" yaml:"quarantine"`
	QuarantineDir string `mapstructure:"quarantine_dir" yaml:"quarantine_dir"`
}

// LedgerConfig configures the operation ledger.
type LedgerConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
	PruneOnStart  bool   `mapstructure:"prune_on_start" yaml:"prune_on_start"`
}

// Config is the application configuration. It is loaded once per run and
// treated as immutable afterwards.
type Config struct {
	OutputDir   string                     `mapstructure:"output_dir" yaml:"output_dir"`
	Exclude     []string                   `mapstructure:"exclude" yaml:"exclude"`
	Workers     int                        `mapstructure:"workers" yaml:"workers"`
	FileTimeout time.Duration              `mapstructure:"file_timeout" yaml:"file_timeout"`
	DryRun      bool                       `mapstructure:"dry_run" yaml:"dry_run"`
	Categorizer CategorizerConfig          `mapstructure:"categorizer" yaml:"categorizer"`
	Categories  []types.CategoryDefinition `mapstructure:"categories" yaml:"categories"`
	Extract     ExtractConfig              `mapstructure:"extract" yaml:"extract"`
	Fingerprint FingerprintConfig          `mapstructure:"fingerprint" yaml:"fingerprint"`
	Duplicates  DuplicatesConfig           `mapstructure:"duplicates" yaml:"duplicates"`
	Delete      DeleteConfig               `mapstructure:"delete" yaml:"delete"`
	Ledger      LedgerConfig               `mapstructure:"ledger" yaml:"ledger"`
	Logging     LoggingConfig              `mapstructure:"logging" yaml:"logging"`
}

// Load loads configuration from the default locations and TIDY_ environment
// variables:
//   - $XDG_CONFIG_HOME/tidy/config.yaml
//   - $HOME/.config/tidy/config.yaml
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from file, or from the default locations
// when file is empty. A missing default file is not an error.
func LoadFile(file string) (*Config, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "tidy"))
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "tidy"))
		}
	}

	v.SetEnvPrefix("TIDY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	cfg := &Config{
		OutputDir:   "",
		Exclude:     append([]string(nil), DefaultExclusions...),
		Workers:     DefaultWorkers,
		FileTimeout: DefaultFileTimeout,
		Categorizer: CategorizerConfig{
			Strategy:            DefaultStrategy,
			ConfidenceThreshold: DefaultConfidenceThreshold,
			FilenameWeight:      DefaultFilenameWeight,
		},
		Categories: append([]types.CategoryDefinition(nil), DefaultCategories...),
		Extract: ExtractConfig{
			MaxPages: DefaultMaxPages,
			MaxBytes: DefaultMaxBytes,
		},
		Fingerprint: FingerprintConfig{
			Algorithm: DefaultHashAlgorithm,
			Cache:     true,
		},
		Duplicates: DuplicatesConfig{
			Action:      string(types.DuplicateQuarantine),
			StagingDirs: append([]string(nil), DefaultStagingDirs...),
		},
		Delete: DeleteConfig{Quarantine: true},
		Ledger: LedgerConfig{
			RetentionDays: DefaultRetentionDays,
			PruneOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Rotation: RotationConfig{MaxSize: "10MiB", MaxBackups: 5},
		},
	}
	_ = cfg.normalize()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", "")
	v.SetDefault("exclude", DefaultExclusions)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("file_timeout", DefaultFileTimeout)
	v.SetDefault("dry_run", false)

	v.SetDefault("categorizer.strategy", DefaultStrategy)
	v.SetDefault("categorizer.confidence_threshold", DefaultConfidenceThreshold)
	v.SetDefault("categorizer.filename_weight", DefaultFilenameWeight)

	v.SetDefault("extract.max_pages", DefaultMaxPages)
	v.SetDefault("extract.max_bytes", DefaultMaxBytes)

	v.SetDefault("fingerprint.algorithm", DefaultHashAlgorithm)
	v.SetDefault("fingerprint.cache", true)
	v.SetDefault("fingerprint.cache_path", "")

	v.SetDefault("duplicates.action", string(types.DuplicateQuarantine))
	v.SetDefault("duplicates.staging_dirs", DefaultStagingDirs)

	v.SetDefault("delete.quarantine", true)
	v.SetDefault("delete.quarantine_dir", "")

	v.SetDefault("ledger.path", "")
	v.SetDefault("ledger.retention_days", DefaultRetentionDays)
	v.SetDefault("ledger.prune_on_start", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MiB")
	v.SetDefault("logging.rotation.max_backups", 5)
}

// normalize fills derived paths and validates values.
func (c *Config) normalize() error {
	if len(c.Categories) == 0 {
		c.Categories = append([]types.CategoryDefinition(nil), DefaultCategories...)
	}

	seen := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return errors.New("category with empty name")
		}
		if cat.Name == types.Uncategorized {
			return fmt.Errorf("category name %q is reserved", cat.Name)
		}
		if seen[cat.Name] {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		seen[cat.Name] = true
	}

	if t := c.Categorizer.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("confidence_threshold %v outside [0,1]", t)
	}
	for _, o := range c.Categorizer.Overrides {
		if o.Pattern == "" || o.Category == "" {
			return fmt.Errorf("override needs both pattern and category: %+v", o)
		}
		if _, err := filepath.Match(o.Pattern, ""); err != nil {
			return fmt.Errorf("override pattern %q: %w", o.Pattern, err)
		}
	}
	if c.Categorizer.FilenameWeight < 1 {
		c.Categorizer.FilenameWeight = DefaultFilenameWeight
	}
	if c.Workers < 0 {
		c.Workers = DefaultWorkers
	}
	if c.FileTimeout <= 0 {
		c.FileTimeout = DefaultFileTimeout
	}
	if c.Extract.MaxPages < 1 {
		c.Extract.MaxPages = DefaultMaxPages
	}
	if _, err := types.ParseSize(c.Extract.MaxBytes); err != nil {
		return fmt.Errorf("extract.max_bytes: %w", err)
	}
	if _, err := types.ParseDuplicateAction(c.Duplicates.Action); err != nil {
		return err
	}
	if c.Ledger.RetentionDays < 0 {
		c.Ledger.RetentionDays = DefaultRetentionDays
	}

	var err error
	if c.Ledger.Path == "" {
		c.Ledger.Path = DefaultLedgerPath()
	} else if c.Ledger.Path, err = ExpandPath(c.Ledger.Path); err != nil {
		return err
	}
	if c.Delete.QuarantineDir == "" {
		c.Delete.QuarantineDir = filepath.Join(DataDir(), DefaultQuarantineDirName)
	} else if c.Delete.QuarantineDir, err = ExpandPath(c.Delete.QuarantineDir); err != nil {
		return err
	}
	if c.Fingerprint.CachePath == "" {
		c.Fingerprint.CachePath = filepath.Join(CacheDir(), "fingerprints")
	}
	if c.OutputDir != "" {
		if c.OutputDir, err = ExpandPath(c.OutputDir); err != nil {
			return err
		}
	}

	return nil
}

// MaxBytes returns the parsed extraction byte cap.
func (c *Config) MaxBytes() int64 {
	n, err := types.ParseSize(c.Extract.MaxBytes)
	if err != nil {
		return 64 * types.KiB
	}
	return n
}

// Overrides returns the configured category overrides keyed by pattern.
func (c *Config) Overrides() map[string]string {
	if len(c.Categorizer.Overrides) == 0 {
		return nil
	}
	m := make(map[string]string, len(c.Categorizer.Overrides))
	for _, o := range c.Categorizer.Overrides {
		m[o.Pattern] = o.Category
	}
	return m
}

// DuplicateAction returns the parsed duplicate action.
func (c *Config) DuplicateAction() types.DuplicateAction {
	a, err := types.ParseDuplicateAction(c.Duplicates.Action)
	if err != nil {
		return types.DuplicateQuarantine
	}
	return a
}

// RetentionWindow returns the ledger retention as a duration. Zero
// disables pruning.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Ledger.RetentionDays) * 24 * time.Hour
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "tidy"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "tidy"), nil
}

// WriteDefault writes the default config file unless one already exists.
// It returns the config file path.
func WriteDefault() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "config.yaml")
	if err := WriteDefaultTo(path); err != nil {
		return "", err
	}
	return path, nil
}

// WriteDefaultTo writes the default config to path unless a file is
// already there.
func WriteDefaultTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	data, err := Marshal(Default())
	if err != nil {
		return err
	}

	header := "# tidy document organizer configuration\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/tidy/ for the ledger and quarantine.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "tidy")
}

// StateDir returns $XDG_STATE_HOME/tidy/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "tidy")
}

// CacheDir returns $XDG_CACHE_HOME/tidy/ for the fingerprint cache.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, "tidy")
}

// DefaultLedgerPath returns the default ledger database path.
func DefaultLedgerPath() string {
	return filepath.Join(DataDir(), "ledger.db")
}
