package config

// GetDefaultConfig returns the configuration used when no file is present.
func GetDefaultConfig() FeditestConfig {
	return FeditestConfig{
		Domain:       "feditest.local",
		RegistryFile: "registry.yaml",
		ReportDir:    "transcripts",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
