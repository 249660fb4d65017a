// Package config loads and validates the supervisor's YAML configuration
// (spec.md §6). Grounded directly on
// References/orion-prototipe/internal/config/config.go: a struct tagged
// with `yaml:"..."`, a Load that reads the file then unmarshals then
// validates, errors wrapped with fmt.Errorf at each stage.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete supervisor configuration document.
type Config struct {
	LogsPath         string          `yaml:"logs_path"`
	ProcessingType   string          `yaml:"processing_type"`
	DataflowType     string          `yaml:"dataflow_type"`
	DatasocketType   string          `yaml:"datasocket_type"`
	DataLPSocket     string          `yaml:"data_lp_socket"`
	DataHPSocket     string          `yaml:"data_hp_socket"`
	CommandSocket    string          `yaml:"command_socket"`
	MonitoringSocket string          `yaml:"monitoring_socket"`
	Managers         []ManagerConfig `yaml:"managers"`
}

// ManagerConfig is one entry of the managers list (spec.md §6's
// per-manager table).
type ManagerConfig struct {
	ResultSocketType   string   `yaml:"result_socket_type"`
	ResultDataflowType string   `yaml:"result_dataflow_type"`
	ResultLPSocket     string   `yaml:"result_lp_socket"`
	ResultHPSocket     string   `yaml:"result_hp_socket"`
	NumWorkers         int      `yaml:"num_workers"`
	WorkerVariant      string   `yaml:"worker_variant"`
	ManagerNames       []string `yaml:"manager_names"`
}

// NoneEndpoint is the sentinel meaning "this class has no output sink".
const NoneEndpoint = "none"

// Load reads, parses and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
