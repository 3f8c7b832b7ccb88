package outcome

import (
	"fmt"
	"strings"
)

// SpecLevel states how strongly a specification requires a behavior.
type SpecLevel int

const (
	SpecMust SpecLevel = iota
	SpecShould
	SpecImplied
	SpecUnspecified
)

var specLevelNames = []string{"MUST", "SHOULD", "IMPLIED", "UNSPECIFIED"}

func (l SpecLevel) String() string {
	if l < 0 || int(l) >= len(specLevelNames) {
		return "UNSPECIFIED"
	}
	return specLevelNames[l]
}

// SpecLevels lists all spec levels, most severe first.
func SpecLevels() []SpecLevel {
	return []SpecLevel{SpecMust, SpecShould, SpecImplied, SpecUnspecified}
}

func (l SpecLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *SpecLevel) UnmarshalText(b []byte) error {
	s := strings.ToUpper(string(b))
	for i, name := range specLevelNames {
		if name == s {
			*l = SpecLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown spec level %q", string(b))
}

// InteropLevel states how much a violation affects real interoperability.
type InteropLevel int

const (
	InteropProblem InteropLevel = iota
	InteropDegraded
	InteropUnaffected
	InteropUnknown
)

var interopLevelNames = []string{"PROBLEM", "DEGRADED", "UNAFFECTED", "UNKNOWN"}

func (l InteropLevel) String() string {
	if l < 0 || int(l) >= len(interopLevelNames) {
		return "UNKNOWN"
	}
	return interopLevelNames[l]
}

// InteropLevels lists all interop levels, most severe first.
func InteropLevels() []InteropLevel {
	return []InteropLevel{InteropProblem, InteropDegraded, InteropUnaffected, InteropUnknown}
}

func (l InteropLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *InteropLevel) UnmarshalText(b []byte) error {
	s := strings.ToUpper(string(b))
	for i, name := range interopLevelNames {
		if name == s {
			*l = InteropLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown interop level %q", string(b))
}
