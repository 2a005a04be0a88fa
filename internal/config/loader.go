package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigPaths defines the search locations for config files.
const (
	// GlobalConfigDir is the XDG config directory name
	GlobalConfigDir = "dashlink"
	// GlobalConfigFile is the global config file name
	GlobalConfigFile = "config.yaml"
	// ProjectConfigDir is the project-local config directory
	ProjectConfigDir = ".dashlink"
	// ProjectConfigFile is the project-local config file name
	ProjectConfigFile = "config.yaml"
)

// LoadConfig layers configuration into v and decodes it.
// Precedence (later overrides earlier):
//  1. Default() values
//  2. ~/.config/dashlink/config.yaml (global)
//  3. .dashlink/config.yaml (project)
//  4. Explicit --config file
//  5. Environment variables (DASHLINK_*)
//  6. CLI flags (already bound to viper)
//
// api.fallbacks is taken as written from the last file that sets it, because
// viper folds map keys to lower case and fallback payloads must keep the
// backend's field names.
func LoadConfig(v *viper.Viper) (*Config, error) {
	defaults, err := defaultSettings()
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}

	files, err := configFiles(v.GetString("config"))
	if err != nil {
		return nil, err
	}

	var fallbacks *[]FallbackConfig
	for _, path := range files {
		l, err := readLayer(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if l.settings != nil {
			if err := v.MergeConfigMap(l.settings); err != nil {
				return nil, fmt.Errorf("merge %s: %w", path, err)
			}
		}
		if l.fallbacks != nil {
			fallbacks = l.fallbacks
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg, viperDecodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if fallbacks != nil {
		cfg.API.Fallbacks = *fallbacks
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// layer is one parsed config file.
type layer struct {
	settings  map[string]any
	fallbacks *[]FallbackConfig // nil when the file does not set api.fallbacks
}

func readLayer(path string) (layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return layer{}, err
	}

	var l layer
	if err := yaml.Unmarshal(data, &l.settings); err != nil {
		return layer{}, err
	}

	var doc struct {
		API struct {
			Fallbacks *[]FallbackConfig `yaml:"fallbacks"`
		} `yaml:"api"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return layer{}, fmt.Errorf("api.fallbacks: %w", err)
	}
	l.fallbacks = doc.API.Fallbacks
	return l, nil
}

// configFiles lists the files to layer, lowest precedence first. The global
// and project files are optional; an explicit path must exist.
func configFiles(explicit string) ([]string, error) {
	var files []string
	for _, path := range []string{globalConfigPath(), projectConfigPath()} {
		if path != "" {
			files = append(files, path)
		}
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		files = append(files, explicit)
	}
	return files, nil
}

// globalConfigPath returns $XDG_CONFIG_HOME/dashlink/config.yaml (falling
// back to ~/.config) when it exists.
func globalConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return existing(filepath.Join(dir, GlobalConfigDir, GlobalConfigFile))
}

func projectConfigPath() string {
	return existing(filepath.Join(ProjectConfigDir, ProjectConfigFile))
}

func existing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// defaultSettings renders Default() through YAML so defaults reach viper in
// the same shape as file settings, durations included.
func defaultSettings() (map[string]any, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return nil, err
	}
	var settings map[string]any
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func viperDecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}
