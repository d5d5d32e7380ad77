// Package core contains the export engine of horos-export: the safety gate,
// period tracking, archive writing, run coordination and configuration.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

const (
	// ConfigName is the base name of the configuration file.
	ConfigName = "horos-export"
	// ConfigEnvVar points at a configuration file when --config is not given.
	ConfigEnvVar = "HOROS_EXPORT_CONFIG"
	// EnvPrefix namespaces the per-key environment overrides.
	EnvPrefix = "HOROS_EXPORT"
)

// ConfigurationManager loads and validates horos-export.yaml.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	// ConfigFile returns the file used by the last Load, or "" for defaults.
	ConfigFile() string
	Validate(cfg *models.Config) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	explicitPath string
	searchDirs   []string
	used         string
	validate     *validator.Validate
}

// NewConfigurationManager creates a manager. When path is empty the file is
// looked up through $HOROS_EXPORT_CONFIG and then in searchDirs.
func NewConfigurationManager(path string, searchDirs ...string) ConfigurationManager {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml key names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &viperConfigManager{explicitPath: path, searchDirs: searchDirs, validate: v}
}

// Load reads the configuration file, applies environment overrides and
// validates the result. A missing file yields the defaults.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	def := models.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default for AutomaticEnv to reach it during Unmarshal.
	v.SetDefault("paths.pacs_root", def.Paths.PacsRoot)
	v.SetDefault("paths.backup_root", def.Paths.BackupRoot)
	v.SetDefault("export.modalities", def.Export.Modalities)
	v.SetDefault("export.batch_size", def.Export.BatchSize)
	v.SetDefault("export.pause_between_items", def.Export.PauseBetweenItems)
	v.SetDefault("export.order_by", string(def.Export.OrderBy))
	v.SetDefault("export.incoming_max_files", def.Export.IncomingMaxFiles)
	v.SetDefault("export.max_name_length", def.Export.MaxNameLength)
	v.SetDefault("export.snapshot_policy", string(def.Export.SnapshotPolicy))
	v.SetDefault("export.lock_timeout", def.Export.LockTimeout)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.max_size_mb", def.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)
	v.SetDefault("logging.console", def.Logging.Console)

	path := cm.explicitPath
	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		for _, dir := range cm.searchDirs {
			v.AddConfigPath(dir)
		}
	}

	cm.used = ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading configuration: %w", err)
		}
		// No config file found; defaults and environment apply.
	} else {
		cm.used = v.ConfigFileUsed()
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	normalizeConfig(&cfg)

	if err := cm.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cm *viperConfigManager) ConfigFile() string {
	return cm.used
}

// Validate checks struct constraints and path sanity, returning every
// problem at once.
func (cm *viperConfigManager) Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string
	if err := cm.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating configuration: %w", err)
		}
		for _, fe := range verrs {
			key := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				errs = append(errs, fmt.Sprintf("%s fails %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value()))
			} else {
				errs = append(errs, fmt.Sprintf("%s fails %s (got %v)", key, fe.Tag(), fe.Value()))
			}
		}
	}

	if cfg.Paths.PacsRoot != "" && !filepath.IsAbs(cfg.Paths.PacsRoot) {
		errs = append(errs, fmt.Sprintf("paths.pacs_root %q must be an absolute path", cfg.Paths.PacsRoot))
	}
	if cfg.Paths.BackupRoot != "" && !filepath.IsAbs(cfg.Paths.BackupRoot) {
		errs = append(errs, fmt.Sprintf("paths.backup_root %q must be an absolute path", cfg.Paths.BackupRoot))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// normalizeConfig canonicalises values the catalog compares case-insensitively.
func normalizeConfig(cfg *models.Config) {
	mods := make([]string, 0, len(cfg.Export.Modalities))
	seen := make(map[string]bool)
	for _, m := range cfg.Export.Modalities {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		mods = append(mods, m)
	}
	cfg.Export.Modalities = mods
	cfg.Export.OrderBy = models.OrderBy(strings.ToLower(string(cfg.Export.OrderBy)))
	cfg.Export.SnapshotPolicy = models.SnapshotPolicy(strings.ToLower(string(cfg.Export.SnapshotPolicy)))
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Paths.PacsRoot != "" {
		cfg.Paths.PacsRoot = filepath.Clean(cfg.Paths.PacsRoot)
	}
	if cfg.Paths.BackupRoot != "" {
		cfg.Paths.BackupRoot = filepath.Clean(cfg.Paths.BackupRoot)
	}
}
