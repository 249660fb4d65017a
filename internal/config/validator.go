package config

import "fmt"

// Validate checks that cfg is complete enough to start the supervisor.
// Spec.md §7 treats a missing/invalid datasocket_type and malformed
// configuration as fatal startup errors; everything caught here should
// abort startup with a non-zero exit code.
func Validate(cfg *Config) error {
	switch cfg.DatasocketType {
	case "pushpull", "pubsub", "custom":
	default:
		return fmt.Errorf("datasocket_type must be one of pushpull|pubsub|custom, got %q", cfg.DatasocketType)
	}

	switch cfg.DataflowType {
	case "binary", "string", "filename":
	default:
		return fmt.Errorf("dataflow_type must be one of binary|string|filename, got %q", cfg.DataflowType)
	}

	if cfg.DatasocketType != "custom" {
		if cfg.DataLPSocket == "" {
			return fmt.Errorf("data_lp_socket is required for datasocket_type %q", cfg.DatasocketType)
		}
		if cfg.DataHPSocket == "" {
			return fmt.Errorf("data_hp_socket is required for datasocket_type %q", cfg.DatasocketType)
		}
	}

	if cfg.CommandSocket == "" {
		return fmt.Errorf("command_socket is required")
	}

	if len(cfg.Managers) == 0 {
		return fmt.Errorf("at least one manager configuration is required")
	}

	for i, m := range cfg.Managers {
		if err := validateManager(i, m); err != nil {
			return err
		}
	}

	return nil
}

func validateManager(index int, m ManagerConfig) error {
	switch m.ResultSocketType {
	case "pushpull", "pubsub":
	default:
		return fmt.Errorf("managers[%d].result_socket_type must be one of pushpull|pubsub, got %q", index, m.ResultSocketType)
	}

	switch m.ResultDataflowType {
	case "binary", "string", "filename":
	default:
		return fmt.Errorf("managers[%d].result_dataflow_type must be one of binary|string|filename, got %q", index, m.ResultDataflowType)
	}

	if m.NumWorkers <= 0 {
		return fmt.Errorf("managers[%d].num_workers must be > 0, got %d", index, m.NumWorkers)
	}

	if m.WorkerVariant == "" {
		return fmt.Errorf("managers[%d].worker_variant is required", index)
	}

	if m.ResultLPSocket == "" {
		return fmt.Errorf("managers[%d].result_lp_socket is required (use %q to disable)", index, NoneEndpoint)
	}
	if m.ResultHPSocket == "" {
		return fmt.Errorf("managers[%d].result_hp_socket is required (use %q to disable)", index, NoneEndpoint)
	}

	return nil
}
