package config

import "time"

// defaultConfig returns a Config with every ambient default populated,
// no lockspaces/resources (those are site-specific and never defaulted).
func defaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields of cfg, mirroring the
// teacher's ApplyDefaults: called after unmarshal so a config file
// only needs to specify the fields it wants to override.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applySocketDefaults(&cfg.Socket)
	applyWatchdogDefaults(&cfg.Watchdog)
	applyTimingDefaults(&cfg.Timing)
	for i := range cfg.Lockspaces {
		applyLockspaceDefaults(&cfg.Lockspaces[i], cfg.Timing)
	}
	for i := range cfg.Resources {
		applyResourceDefaults(&cfg.Resources[i], cfg.Timing)
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applySocketDefaults(cfg *SocketConfig) {
	if cfg.Path == "" {
		cfg.Path = "/var/run/sanlock/sanguard.sock"
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 64
	}
}

func applyWatchdogDefaults(cfg *WatchdogConfig) {
	if cfg.Dir == "" {
		cfg.Dir = "/var/run/sanlock/wdmd"
	}
}

func applyTimingDefaults(cfg *TimingConfig) {
	if cfg.DefaultIOTimeout == 0 {
		cfg.DefaultIOTimeout = 10 * time.Second
	}
	if cfg.HostDeadMargin == 0 {
		cfg.HostDeadMargin = 2 * time.Second
	}
	if cfg.OrchestratorTick == 0 {
		cfg.OrchestratorTick = 2 * time.Second
	}
	if cfg.KillEscalationWait == 0 {
		cfg.KillEscalationWait = 500 * time.Millisecond
	}
}

func applyLockspaceDefaults(cfg *LockspaceEntry, timing TimingConfig) {
	if cfg.SectorSize == 0 {
		cfg.SectorSize = 512
	}
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = timing.DefaultIOTimeout
	}
}

func applyResourceDefaults(cfg *ResourceEntry, timing TimingConfig) {
	if cfg.SectorSize == 0 {
		cfg.SectorSize = 512
	}
	if cfg.AlignSize == 0 {
		cfg.AlignSize = 1024 * 1024
	}
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = timing.DefaultIOTimeout
	}
}

// GetDefaultConfig returns a fully-defaulted Config with no lockspaces
// or resources, suitable as the body of `sanguardctl config init`.
func GetDefaultConfig() *Config {
	return defaultConfig()
}
