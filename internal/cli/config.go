package cli

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultConfigPath is consulted when --config is not given. A missing
// default file is not an error; a missing explicit file is.
const defaultConfigPath = "bibflow.yaml"

// fileConfig is the YAML configuration file layout.
type fileConfig struct {
	Database struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		MaxConns int    `yaml:"maxConns"`
	} `yaml:"database"`
	Ingest struct {
		Watermark   int    `yaml:"watermark"`
		LocalIDPath string `yaml:"localIdPath"`
	} `yaml:"ingest"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to read config file", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, WrapExitError(ExitCommandError, fmt.Sprintf("invalid config file %s", path), err)
	}
	return cfg, nil
}
