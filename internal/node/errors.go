package node

import "fmt"

// ConfigError reports a NodeSpec a driver cannot accept.
type ConfigError struct {
	Role    string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("role %s: %s", e.Role, e.Message)
	}
	return fmt.Sprintf("role %s: parameter %s: %s", e.Role, e.Field, e.Message)
}

func (e *ConfigError) TypeName() string { return "NodeConfigurationError" }

// UnknownDriverError is returned when a plan names a driver that is not
// registered.
type UnknownDriverError struct {
	Name string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown node driver %q", e.Name)
}
