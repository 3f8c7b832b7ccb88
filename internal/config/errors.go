package config

import "fmt"

// ConfigurationError reports an invalid value in feditest.yaml.
type ConfigurationError struct {
	FilePath string `json:"filePath"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

func (ce *ConfigurationError) Error() string {
	if ce.FilePath == "" {
		return fmt.Sprintf("invalid configuration: %s: %s", ce.Field, ce.Message)
	}
	return fmt.Sprintf("invalid configuration in %s: %s: %s", ce.FilePath, ce.Field, ce.Message)
}
