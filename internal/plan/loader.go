package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"sigs.k8s.io/yaml"

	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

// LoadFile reads and validates a plan file. YAML and JSON are accepted.
func LoadFile(path string) (*TestPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	logging.Info("Plan", "Loaded test plan %q from %s with %d sessions", p.Name, path, len(p.Sessions))
	return p, nil
}

// Parse decodes and validates a plan document. Problems are returned as
// ValidationErrors.
func Parse(data []byte) (*TestPlan, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, ValidationErrors{{Phase: PhaseStructural, Message: err.Error()}}
	}

	if errs := validateSchema(jsonData); len(errs) > 0 {
		return nil, errs
	}

	var p TestPlan
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, ValidationErrors{{Phase: PhaseStructural, Message: err.Error()}}
	}

	if errs := Check(&p); len(errs) > 0 {
		return nil, errs
	}
	return &p, nil
}

// Check applies the rules the schema cannot express.
func Check(p *TestPlan) ValidationErrors {
	var errs ValidationErrors
	for si, s := range p.Sessions {
		for ti, t := range s.Tests {
			locals := make([]string, 0, len(t.RoleMapping))
			for local := range t.RoleMapping {
				locals = append(locals, local)
			}
			slices.Sort(locals)
			for _, local := range locals {
				role := t.RoleMapping[local]
				if _, ok := s.Constellation.Roles[role]; !ok {
					errs = append(errs, &ValidationError{
						Phase:   PhaseSemantic,
						Path:    fmt.Sprintf("sessions[%d].tests[%d].rolemapping.%s", si, ti, local),
						Message: fmt.Sprintf("role %q is not in the constellation", role),
					})
				}
			}
		}
	}
	return errs
}

// Marshal renders a plan as YAML.
func Marshal(p *TestPlan) ([]byte, error) {
	return yaml.Marshal(p)
}
