// Package config loads runtime configuration for the audio player core,
// following the viper-with-defaults convention used by the Roundtable
// client: set defaults, optionally overlay a config file, then allow
// environment variables (NIDAQ_ prefix) to win.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the playback engine and its surrounding
// servers. The serve command reads ControlPort, DebugPort,
// ProgressTickInterval, the underflow escalation pair, LibraryDir and the
// log settings. SamplesPerFrame, DefaultVolumePct, DOLines,
// ControlRequestTimeout, HistoryCap and LibraryScanDepth are loaded but no
// component reads them; the control engine and library use their own
// built-in values for these.
type Config struct {
	ControlPort int // Control Protocol (coder/websocket) listen port
	DebugPort   int // Ambient HTTP (healthz/metrics) listen port

	SamplesPerFrame  int // Frame Pump callback granularity
	DefaultVolumePct int

	DOLines []string // default digital-output sync lines

	ProgressTickInterval time.Duration

	UnderflowEscalationCount  int           // consecutive underflows before Paused-with-error
	UnderflowEscalationWindow time.Duration // window within which they must occur

	ControlRequestTimeout time.Duration // timeout for device-touching handlers

	LibraryDir        string // directory holding library.json/history.json/library.bin
	HistoryCap        int
	LibraryScanDepth  int
	LogLevel          string
	LogPretty         bool
}

func setDefaults() {
	viper.SetDefault("control_port", 21749)
	viper.SetDefault("debug_port", 21750)

	viper.SetDefault("samples_per_frame", 8192)
	viper.SetDefault("default_volume_pct", 100)

	viper.SetDefault("do_lines", []string{"port0/line0", "port0/line1"})

	viper.SetDefault("progress_tick_interval", 330*time.Millisecond)

	viper.SetDefault("underflow_escalation_count", 3)
	viper.SetDefault("underflow_escalation_window", 2*time.Second)

	viper.SetDefault("control_request_timeout", 5*time.Second)

	viper.SetDefault("library_dir", ".")
	viper.SetDefault("history_cap", 50)
	viper.SetDefault("library_scan_depth", 8)

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_pretty", false)
}

// Load reads configuration, overlaying an optional config file at
// configFilePath (missing file is not an error) on top of defaults, then
// environment variables prefixed NIDAQ_ (e.g. NIDAQ_CONTROL_PORT=21749).
func Load(configFilePath string) (Config, error) {
	setDefaults()

	viper.SetEnvPrefix("nidaq")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFilePath != "" {
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	}

	return Config{
		ControlPort:               viper.GetInt("control_port"),
		DebugPort:                 viper.GetInt("debug_port"),
		SamplesPerFrame:           viper.GetInt("samples_per_frame"),
		DefaultVolumePct:          viper.GetInt("default_volume_pct"),
		DOLines:                   viper.GetStringSlice("do_lines"),
		ProgressTickInterval:      viper.GetDuration("progress_tick_interval"),
		UnderflowEscalationCount:  viper.GetInt("underflow_escalation_count"),
		UnderflowEscalationWindow: viper.GetDuration("underflow_escalation_window"),
		ControlRequestTimeout:     viper.GetDuration("control_request_timeout"),
		LibraryDir:                viper.GetString("library_dir"),
		HistoryCap:                viper.GetInt("history_cap"),
		LibraryScanDepth:          viper.GetInt("library_scan_depth"),
		LogLevel:                  viper.GetString("log_level"),
		LogPretty:                 viper.GetBool("log_pretty"),
	}, nil
}
