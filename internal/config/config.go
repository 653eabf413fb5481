package config

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultPath is where the task looks for its config when --config is unset.
const DefaultPath = "/etc/os_patching/os_patching.yaml"

type Config struct {
	HistoryFile             string `mapstructure:"history_file" yaml:"history_file"`
	FactGenerationScript    string `mapstructure:"fact_generation_script" yaml:"fact_generation_script"`
	FacterBin               string `mapstructure:"facter_bin" yaml:"facter_bin"`
	YumBin                  string `mapstructure:"yum_bin" yaml:"yum_bin"`
	AptGetBin               string `mapstructure:"apt_get_bin" yaml:"apt_get_bin"`
	ShutdownBin             string `mapstructure:"shutdown_bin" yaml:"shutdown_bin"`
	RebootDelay             string `mapstructure:"reboot_delay" yaml:"reboot_delay"`
	DefaultTimeoutSeconds   int    `mapstructure:"default_timeout_seconds" yaml:"default_timeout_seconds"`
	ProgressIntervalSeconds int    `mapstructure:"progress_interval_seconds" yaml:"progress_interval_seconds"`
	KillGraceSeconds        int    `mapstructure:"kill_grace_seconds" yaml:"kill_grace_seconds"`
	LogFormat               string `mapstructure:"log_format" yaml:"log_format"`
	LogLevel                string `mapstructure:"log_level" yaml:"log_level"`
	LogTarget               string `mapstructure:"log_target" yaml:"log_target"`
	LogFile                 string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB            int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups           int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		HistoryFile:             "/etc/os_patching/run_history",
		FactGenerationScript:    "/usr/local/bin/os_patching_fact_generation.sh",
		FacterBin:               "/opt/puppetlabs/puppet/bin/facter",
		YumBin:                  "/bin/yum",
		AptGetBin:               "apt-get",
		ShutdownBin:             "/sbin/shutdown",
		RebootDelay:             "+1",
		DefaultTimeoutSeconds:   3600,
		ProgressIntervalSeconds: 1,
		KillGraceSeconds:        10,
		LogFormat:               "text",
		LogLevel:                "info",
		LogTarget:               "journal",
		LogFile:                 "/var/log/os_patching/os_patching.log",
		LogMaxSizeMB:            10,
		LogMaxBackups:           3,
	}
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"history-file": "history_file",
	"log-level":    "log_level",
	"log-format":   "log_format",
	"log-target":   "log_target",
}

// Load reads cfgFile (or DefaultPath when empty) on top of Default().
// A missing default file is not an error; a missing explicit file is.
// Every key can be overridden with an OS_PATCHING_ prefixed variable, and
// the flags named in flagKeys override both when set. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	v := viper.New()

	setDefaults(v, cfg)
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigFile(DefaultPath)
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix("OS_PATCHING")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !(errors.As(err, &notFound) || isNotExist(err)) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal even when the config file does not mention it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("history_file", cfg.HistoryFile)
	v.SetDefault("fact_generation_script", cfg.FactGenerationScript)
	v.SetDefault("facter_bin", cfg.FacterBin)
	v.SetDefault("yum_bin", cfg.YumBin)
	v.SetDefault("apt_get_bin", cfg.AptGetBin)
	v.SetDefault("shutdown_bin", cfg.ShutdownBin)
	v.SetDefault("reboot_delay", cfg.RebootDelay)
	v.SetDefault("default_timeout_seconds", cfg.DefaultTimeoutSeconds)
	v.SetDefault("progress_interval_seconds", cfg.ProgressIntervalSeconds)
	v.SetDefault("kill_grace_seconds", cfg.KillGraceSeconds)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_target", cfg.LogTarget)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
}

// DefaultTimeout returns the patch timeout used when the task payload has none.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// ProgressInterval returns how often a running upgrade logs that it is alive.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalSeconds) * time.Second
}

// KillGrace returns how long the executor waits for a terminated process
// group to release its pipes.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.KillGraceSeconds) * time.Second
}
