package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dpetrenko/drivetrace/internal/canbus"
)

// SpeedUnit names the unit of the decoded speed PID value.
type SpeedUnit string

const (
	SpeedUnitMS  SpeedUnit = "ms"
	SpeedUnitKPH SpeedUnit = "kph"
	SpeedUnitMPH SpeedUnit = "mph"
)

// Config is the tracer configuration, loaded from a yaml file.
type Config struct {
	Settings Settings       `yaml:"settings"`
	Bus      canbus.Config  `yaml:"bus"`
	Storage  StorageConfig  `yaml:"storage"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
}

// Settings holds global application settings.
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// StorageConfig holds the telemetry store settings. The trace database
// grows without bound; rotating it is an operational task, the store
// itself never evicts.
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

// AnalyzerConfig wires the performance analyzer to one bus identifier
// carrying vehicle speed.
type AnalyzerConfig struct {
	Enabled bool `yaml:"enabled"`

	// HistoryFile is the run-history JSON path.
	HistoryFile string `yaml:"historyFile"`

	// SpeedPID is the decoded frame identifier carrying speed,
	// e.g. "0x0D0".
	SpeedPID string `yaml:"speedPid"`

	// SpeedScale multiplies the raw decoded value before unit
	// conversion. Buses commonly carry speed in centi-units.
	SpeedScale float64 `yaml:"speedScale"`

	// SpeedUnit is the unit of the scaled value: ms, kph or mph.
	SpeedUnit SpeedUnit `yaml:"speedUnit"`

	// LaunchThreshold, IdleThreshold (m/s) and IdleWindowSeconds tune
	// run detection; zero values use analyzer defaults.
	LaunchThreshold   float64 `yaml:"launchThreshold"`
	IdleThreshold     float64 `yaml:"idleThreshold"`
	IdleWindowSeconds float64 `yaml:"idleWindowSeconds"`
}

// LoadConfig reads and validates a yaml configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if config.Settings.LogLevel == "" {
		config.Settings.LogLevel = "info"
	}
	if config.Bus.Interface == "" {
		return nil, fmt.Errorf("bus.interface is required")
	}
	if config.Analyzer.Enabled {
		if config.Analyzer.SpeedPID == "" {
			return nil, fmt.Errorf("analyzer.speedPid is required when the analyzer is enabled")
		}
		if config.Analyzer.HistoryFile == "" {
			return nil, fmt.Errorf("analyzer.historyFile is required when the analyzer is enabled")
		}
		if config.Analyzer.SpeedScale == 0 {
			config.Analyzer.SpeedScale = 1
		}
		switch config.Analyzer.SpeedUnit {
		case SpeedUnitMS, SpeedUnitKPH, SpeedUnitMPH:
		case "":
			config.Analyzer.SpeedUnit = SpeedUnitKPH
		default:
			return nil, fmt.Errorf("unknown analyzer.speedUnit %q", config.Analyzer.SpeedUnit)
		}
	}

	return &config, nil
}
