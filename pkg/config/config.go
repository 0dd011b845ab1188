// Package config loads sanguardd's static configuration: logging,
// telemetry, metrics, profiling, and the lockspaces/resources this
// daemon instance is responsible for joining at startup. Grounded on
// the teacher's pkg/config: viper-backed YAML loading, mapstructure
// decode hooks for duration/byte-size fields, and a strict precedence
// order (environment > file > defaults).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sanguard/sanguard/internal/bytesize"
)

// Config is sanguardd's full static configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (SANGUARD_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// No command-line flag overrides an individual setting; the --config
// flag only chooses which file is read.
//
// Lockspaces and resources are declared here too: unlike a networked
// lock service, this daemon has no peer to discover them from, so the
// set of lockspaces/resources a host participates in is static
// configuration, not runtime state.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Socket     SocketConfig     `mapstructure:"socket" yaml:"socket"`
	Watchdog   WatchdogConfig   `mapstructure:"watchdog" yaml:"watchdog"`
	Timing     TimingConfig     `mapstructure:"timing" yaml:"timing"`
	Lockspaces []LockspaceEntry `mapstructure:"lockspaces" yaml:"lockspaces"`
	Resources  []ResourceEntry  `mapstructure:"resources" yaml:"resources"`
}

// LoggingConfig controls internal/logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls internal/telemetry and its nested profiler.
type TelemetryConfig struct {
	Enabled    bool             `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string           `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool             `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64          `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig  `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls internal/profiling (grafana/pyroscope-go).
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls the /metrics HTTP endpoint (pkg/metrics).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// SocketConfig places the control socket clients dial to talk to the
// daemon.
type SocketConfig struct {
	// Path is the control socket's path in the runtime directory.
	// Default: /var/run/sanlock/sanguard.sock.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
	// MaxClients bounds the number of simultaneously registered clients.
	MaxClients int `mapstructure:"max_clients" validate:"omitempty,gt=0" yaml:"max_clients"`
}

// WatchdogConfig places the per-lockspace watchdog files wdmd reads.
type WatchdogConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// TimingConfig overrides the derived timing constants for environments
// (tests, CI) that want faster cycles than a host's natural io_timeout
// would give; zero values fall back to the derived defaults.
// HostDeadMargin is filled with its default but no component reads it.
type TimingConfig struct {
	DefaultIOTimeout   time.Duration `mapstructure:"default_io_timeout" validate:"required,gt=0" yaml:"default_io_timeout"`
	HostDeadMargin     time.Duration `mapstructure:"host_dead_margin" validate:"omitempty,gt=0" yaml:"host_dead_margin"`
	OrchestratorTick   time.Duration `mapstructure:"orchestrator_tick" validate:"required,gt=0" yaml:"orchestrator_tick"`
	KillEscalationWait time.Duration `mapstructure:"kill_escalation_wait" validate:"required,gt=0" yaml:"kill_escalation_wait"`
}

// LockspaceEntry is one lockspace this host joins at startup.
type LockspaceEntry struct {
	Name       string            `mapstructure:"name" validate:"required" yaml:"name"`
	HostID     uint64            `mapstructure:"host_id" validate:"required,gt=0" yaml:"host_id"`
	MaxHosts   uint32            `mapstructure:"max_hosts" validate:"required,gt=0" yaml:"max_hosts"`
	Path       string            `mapstructure:"path" validate:"required" yaml:"path"`
	Offset     int64             `mapstructure:"offset" yaml:"offset"`
	SectorSize bytesize.ByteSize `mapstructure:"sector_size" yaml:"sector_size"`
	IOTimeout  time.Duration     `mapstructure:"io_timeout" yaml:"io_timeout"`
}

// ResourceEntry is one resource this daemon knows about, available for
// clients to acquire once its lockspace is joined.
type ResourceEntry struct {
	Name       string            `mapstructure:"name" validate:"required" yaml:"name"`
	SpaceName  string            `mapstructure:"space_name" validate:"required" yaml:"space_name"`
	Disks      []ResourceDisk    `mapstructure:"disks" validate:"required,min=1" yaml:"disks"`
	SectorSize bytesize.ByteSize `mapstructure:"sector_size" yaml:"sector_size"`
	AlignSize  bytesize.ByteSize `mapstructure:"align_size" yaml:"align_size"`
	IOTimeout  time.Duration     `mapstructure:"io_timeout" yaml:"io_timeout"`
	NumHosts   uint32            `mapstructure:"num_hosts" validate:"required,gt=0" yaml:"num_hosts"`
}

// ResourceDisk names one of a resource's 1..K backing block devices.
type ResourceDisk struct {
	Path   string `mapstructure:"path" validate:"required" yaml:"path"`
	Offset int64  `mapstructure:"offset" yaml:"offset"`
}

// Load loads configuration from file, environment, and defaults,
// applying defaults and validating the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if !found {
		return cfg, Validate(cfg)
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration, producing an actionable error when no
// config file exists at the resolved path.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"initialize one first:\n  sanguardctl config init\n\n"+
				"or specify a custom config file:\n  sanguardd start --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	return Load(configPath)
}

// SaveConfig writes cfg to path in YAML form with restrictive
// permissions, since lockspace disk paths are operationally sensitive.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SANGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	dir := getConfigDir()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sanguard")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sanguard")
}

// GetConfigDir exposes the resolved configuration directory.
func GetConfigDir() string { return getConfigDir() }

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

var validate = validator.New()

// Validate runs struct-tag validation over cfg (the go-playground/
// validator idiom used throughout the ambient stack) and adds the
// handful of cross-field checks tags can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	names := make(map[string]bool, len(cfg.Lockspaces))
	for _, ls := range cfg.Lockspaces {
		if names[ls.Name] {
			return fmt.Errorf("duplicate lockspace name %q", ls.Name)
		}
		names[ls.Name] = true
	}
	resNames := make(map[string]bool, len(cfg.Resources))
	for _, r := range cfg.Resources {
		if resNames[r.Name] {
			return fmt.Errorf("duplicate resource name %q", r.Name)
		}
		resNames[r.Name] = true
		if !names[r.SpaceName] {
			return fmt.Errorf("resource %q references unknown lockspace %q", r.Name, r.SpaceName)
		}
	}
	return nil
}
