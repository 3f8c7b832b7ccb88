// Package config loads the harness configuration file.
//
// The file lives at ~/.config/feditest/feditest.yaml unless another
// directory is given with --config-path:
//
//	domain: feditest.local
//	registryFile: registry.yaml
//	trustBundle: ~/.feditest/ca-bundle.pem
//	reportDir: transcripts
//	recordWho: false
//	interactive: false
//	logging:
//	  level: info
//	  format: text
//
// Values not present in the file keep their defaults. Command line flags
// override the loaded values.
package config
