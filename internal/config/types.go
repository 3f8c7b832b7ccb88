package config

// FeditestConfig is the content of feditest.yaml.
type FeditestConfig struct {
	// Domain is the DNS domain the registry allocates hostnames under.
	Domain string `yaml:"domain"`
	// RegistryFile is where the registry document is persisted between runs.
	// Relative paths are resolved against the config directory.
	RegistryFile string `yaml:"registryFile"`
	// TrustBundle is the certificate bundle patched with the registry CA.
	// Empty means $SSL_CERT_FILE.
	TrustBundle string `yaml:"trustBundle,omitempty"`
	// ReportDir is where transcripts are written when no explicit path is given.
	ReportDir string `yaml:"reportDir"`
	// RecordWho stores the local user and host name in transcripts.
	RecordWho   bool `yaml:"recordWho"`
	Interactive bool `yaml:"interactive"`

	Logging LoggingConfig `yaml:"logging"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
