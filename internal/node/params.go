package node

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Params wraps a NodeSpec's string parameters with typed accessors. Each
// accessor records which keys were read so Unused can report typos.
type Params struct {
	role   string
	values map[string]string
	seen   map[string]bool
}

// NewParams wraps values for role.
func NewParams(role string, values map[string]string) *Params {
	return &Params{role: role, values: values, seen: make(map[string]bool)}
}

// String returns the value of key or def when it is absent.
func (p *Params) String(key, def string) string {
	p.seen[key] = true
	if v, ok := p.values[key]; ok {
		return v
	}
	return def
}

// RequiredString returns the value of key or a ConfigError.
func (p *Params) RequiredString(key string) (string, error) {
	p.seen[key] = true
	v, ok := p.values[key]
	if !ok || v == "" {
		return "", &ConfigError{Role: p.role, Field: key, Message: "is required"}
	}
	return v, nil
}

// Duration parses key as a Go duration ("2s") or as a number of seconds.
func (p *Params) Duration(key string, def time.Duration) (time.Duration, error) {
	p.seen[key] = true
	v, ok := p.values[key]
	if !ok || v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, &ConfigError{Role: p.role, Field: key, Message: "must not be negative"}
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ConfigError{Role: p.role, Field: key, Message: fmt.Sprintf("%q is not a duration", v)}
	}
	if d < 0 {
		return 0, &ConfigError{Role: p.role, Field: key, Message: "must not be negative"}
	}
	return d, nil
}

// Bool parses key as a boolean.
func (p *Params) Bool(key string, def bool) (bool, error) {
	p.seen[key] = true
	v, ok := p.values[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigError{Role: p.role, Field: key, Message: fmt.Sprintf("%q is not a boolean", v)}
	}
	return b, nil
}

// Unused returns the keys that no accessor asked for, sorted.
func (p *Params) Unused() []string {
	var out []string
	for k := range p.values {
		if !p.seen[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
