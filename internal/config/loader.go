package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

const (
	userConfigDir  = ".config/feditest"
	configFileName = "feditest.yaml"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/feditest.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig reads feditest.yaml from configPath over the defaults. A
// missing file yields the defaults. Relative file paths in the result are
// resolved against configPath.
func LoadConfig(configPath string) (FeditestConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return FeditestConfig{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
		}
		logging.Debug("Config", "No %s found at %s, using defaults", configFileName, configPath)
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return FeditestConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("Config", "Loaded configuration from %s", configFilePath)
	}

	if err := Validate(config); err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			ce.FilePath = configFilePath
		}
		return FeditestConfig{}, err
	}

	config.RegistryFile = resolve(configPath, config.RegistryFile)
	config.ReportDir = resolve(configPath, config.ReportDir)
	if config.TrustBundle != "" {
		config.TrustBundle = resolve(configPath, config.TrustBundle)
	}
	return config, nil
}

// Validate checks the values LoadConfig cannot default.
func Validate(config FeditestConfig) error {
	if strings.TrimSpace(config.Domain) == "" {
		return &ConfigurationError{Field: "domain", Message: "must not be empty"}
	}
	if strings.ContainsAny(config.Domain, " /:") {
		return &ConfigurationError{Field: "domain", Message: fmt.Sprintf("%q is not a DNS domain", config.Domain)}
	}
	if _, err := logging.ParseLevel(config.Logging.Level); err != nil {
		return &ConfigurationError{Field: "logging.level", Message: err.Error()}
	}
	switch logging.Format(config.Logging.Format) {
	case logging.FormatText, logging.FormatJSON, "":
	default:
		return &ConfigurationError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", config.Logging.Format)}
	}
	if config.RegistryFile == "" {
		return &ConfigurationError{Field: "registryFile", Message: "must not be empty"}
	}
	return nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := osUserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Join(base, path)
}
