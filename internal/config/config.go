// Package config loads and validates the TOML configuration file that governs
// the tracer agent: the collector endpoint, API key, polling intervals, and
// the list of tripwire targets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tracerbio/tracer/internal/target"
)

// Defaults for optional keys, in milliseconds unless noted (spec.md §6).
const (
	DefaultProcessPollingIntervalMs   = 5
	DefaultBatchSubmissionIntervalMs  = 10_000
	DefaultNewRunPauseMs              = 600_000
	DefaultProcessMetricsSendIntervalMs = 10_000
	DefaultFileSizeNotChangingPeriodMs = 60_000

	// DefaultFileTickMultiple is how many process ticks elapse between file
	// ticks (SPEC_FULL.md §3.11: "file tick as a multiple of the process
	// tick"). spec.md does not name a config key for this; it is the default
	// for the file_tick_multiple key.
	DefaultFileTickMultiple = 20

	// DefaultControlSocketPath and DefaultFileCacheDir mirror the original
	// daemon's SOCKET_PATH/FILE_CACHE_DIR constants (original_source/src/
	// daemon_communication/client.rs, src/tracer_client.rs), which spec.md
	// leaves implicit.
	DefaultControlSocketPath = "/tmp/tracerd.sock"
	DefaultFileCacheDir      = "/tmp/tracerd/cache"
	DefaultWorkflowDirectory = "."
	DefaultAdminListenAddr   = "127.0.0.1:8891"
)

// legacyURLSubstring is stripped from a configured ServiceURL for backwards
// compatibility with older collector deployments (spec.md §6).
const legacyURLSubstring = "data-collector-api"

// rawConfig mirrors the on-disk TOML shape.
type rawConfig struct {
	APIKey                          string    `toml:"api_key"`
	ServiceURL                      string    `toml:"service_url"`
	ProcessPollingIntervalMs        int64     `toml:"process_polling_interval_ms"`
	BatchSubmissionIntervalMs       int64     `toml:"batch_submission_interval_ms"`
	NewRunPauseMs                   int64     `toml:"new_run_pause_ms"`
	ProcessMetricsSendIntervalMs    int64     `toml:"process_metrics_send_interval_ms"`
	FileSizeNotChangingPeriodMs     int64     `toml:"file_size_not_changing_period_ms"`
	Targets                         []rawRule `toml:"targets"`

	WorkflowDirectory  string `toml:"workflow_directory"`
	FileCacheDir       string `toml:"file_cache_dir"`
	ControlSocketPath  string `toml:"control_socket_path"`
	AdminListenAddr    string `toml:"admin_listen_addr"`
	FileTickMultiple   int64  `toml:"file_tick_multiple"`
}

// rawRule mirrors one [[targets]] table in the TOML file.
type rawRule struct {
	Kind                 string `toml:"kind"`
	Name                 string `toml:"name"`
	Content              string `toml:"content"`
	DisplayName          string `toml:"display_name"`
	MergeWithParents     bool   `toml:"merge_with_parents"`
	ForceAncestorToMatch bool   `toml:"force_ancestor_to_match"`
}

// Config is the fully validated, defaulted, environment-overridden agent
// configuration.
type Config struct {
	APIKey     string
	ServiceURL string

	ProcessPollingIntervalMs     int64
	BatchSubmissionIntervalMs    int64
	NewRunPauseMs                int64
	ProcessMetricsSendIntervalMs int64
	FileSizeNotChangingPeriodMs  int64

	Targets []target.Rule

	WorkflowDirectory string
	FileCacheDir      string
	ControlSocketPath string
	AdminListenAddr   string
	FileTickMultiple  int64
}

// Load reads the TOML file at path, applies defaults, applies environment
// overrides, and validates the result. It returns a joined error describing
// every validation failure found, matching the teacher's config loader shape.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	cfg := fromRaw(raw)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func fromRaw(raw rawConfig) Config {
	cfg := Config{
		APIKey:                       raw.APIKey,
		ServiceURL:                   raw.ServiceURL,
		ProcessPollingIntervalMs:     raw.ProcessPollingIntervalMs,
		BatchSubmissionIntervalMs:    raw.BatchSubmissionIntervalMs,
		NewRunPauseMs:                raw.NewRunPauseMs,
		ProcessMetricsSendIntervalMs: raw.ProcessMetricsSendIntervalMs,
		FileSizeNotChangingPeriodMs:  raw.FileSizeNotChangingPeriodMs,
		WorkflowDirectory:            raw.WorkflowDirectory,
		FileCacheDir:                 raw.FileCacheDir,
		ControlSocketPath:            raw.ControlSocketPath,
		AdminListenAddr:              raw.AdminListenAddr,
		FileTickMultiple:             raw.FileTickMultiple,
	}

	if len(raw.Targets) > 0 {
		cfg.Targets = make([]target.Rule, 0, len(raw.Targets))
		for _, rr := range raw.Targets {
			cfg.Targets = append(cfg.Targets, target.Rule{
				Kind:                 target.Kind(rr.Kind),
				Name:                 rr.Name,
				Content:              rr.Content,
				DisplayName:          rr.DisplayName,
				MergeWithParents:     rr.MergeWithParents,
				ForceAncestorToMatch: rr.ForceAncestorToMatch,
			})
		}
	} else {
		cfg.Targets = target.Builtin()
	}

	return cfg
}

// applyDefaults fills zero-value optional fields with the defaults documented
// in spec.md §6, and strips the legacy "data-collector-api" URL substring.
func applyDefaults(cfg *Config) {
	if cfg.ProcessPollingIntervalMs <= 0 {
		cfg.ProcessPollingIntervalMs = DefaultProcessPollingIntervalMs
	}
	if cfg.BatchSubmissionIntervalMs <= 0 {
		cfg.BatchSubmissionIntervalMs = DefaultBatchSubmissionIntervalMs
	}
	if cfg.NewRunPauseMs <= 0 {
		cfg.NewRunPauseMs = DefaultNewRunPauseMs
	}
	if cfg.ProcessMetricsSendIntervalMs <= 0 {
		cfg.ProcessMetricsSendIntervalMs = DefaultProcessMetricsSendIntervalMs
	}
	if cfg.FileSizeNotChangingPeriodMs <= 0 {
		cfg.FileSizeNotChangingPeriodMs = DefaultFileSizeNotChangingPeriodMs
	}
	if strings.Contains(cfg.ServiceURL, legacyURLSubstring) {
		cfg.ServiceURL = strings.ReplaceAll(cfg.ServiceURL, legacyURLSubstring, "")
	}
	if cfg.WorkflowDirectory == "" {
		cfg.WorkflowDirectory = DefaultWorkflowDirectory
	}
	if cfg.FileCacheDir == "" {
		cfg.FileCacheDir = DefaultFileCacheDir
	}
	if cfg.ControlSocketPath == "" {
		cfg.ControlSocketPath = DefaultControlSocketPath
	}
	if cfg.AdminListenAddr == "" {
		cfg.AdminListenAddr = DefaultAdminListenAddr
	}
	if cfg.FileTickMultiple <= 0 {
		cfg.FileTickMultiple = DefaultFileTickMultiple
	}
}

// applyEnvOverrides applies TRACER_API_KEY and TRACER_SERVICE_URL, which take
// precedence over the file value (spec.md §6).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRACER_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("TRACER_SERVICE_URL"); v != "" {
		cfg.ServiceURL = v
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.APIKey == "" {
		errs = append(errs, errors.New("api_key is required"))
	}

	for i, r := range cfg.Targets {
		prefix := fmt.Sprintf("targets[%d]", i)
		switch r.Kind {
		case target.KindProcessName, target.KindShortLivedExecutable:
			if r.Name == "" {
				errs = append(errs, fmt.Errorf("%s: name is required for kind %q", prefix, r.Kind))
			}
		case target.KindCommandContains:
			if r.Content == "" {
				errs = append(errs, fmt.Errorf("%s: content is required for kind %q", prefix, r.Kind))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: kind %q must be one of: process_name, short_lived_executable, command_contains", prefix, r.Kind))
		}
	}

	return errors.Join(errs...)
}

// DefaultConfigPath returns $TRACER_CONFIG_PATH if set, otherwise
// ~/.config/tracer/tracer.toml (spec.md §6).
func DefaultConfigPath() string {
	if p := os.Getenv("TRACER_CONFIG_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tracer/tracer.toml"
	}
	return home + "/.config/tracer/tracer.toml"
}
