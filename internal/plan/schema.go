package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const schemaID = "https://feditest.org/schemas/testplan-v1.json"

var (
	compiled    *sjsonschema.Schema
	compileOnce sync.Once
	compileErr  error
)

// GenerateJSONSchema produces the JSON Schema (Draft 2020-12) of plan files
// from the TestPlan struct.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&TestPlan{})
	s.ID = schemaID
	s.Title = "feditest test plan"
	s.Description = "Sessions, constellations and tests of a feditest run"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

func compileSchema() (*sjsonschema.Schema, error) {
	compileOnce.Do(func() {
		data, err := GenerateJSONSchema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal plan schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(schemaID, doc); err != nil {
			compileErr = fmt.Errorf("add plan schema resource: %w", err)
			return
		}
		compiled, err = c.Compile(schemaID)
		if err != nil {
			compileErr = fmt.Errorf("compile plan schema: %w", err)
		}
	})
	return compiled, compileErr
}

// validateSchema checks a JSON document against the plan schema.
func validateSchema(data []byte) ValidationErrors {
	sch, err := compileSchema()
	if err != nil {
		return ValidationErrors{{Phase: PhaseSchema, Message: err.Error()}}
	}

	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return ValidationErrors{{Phase: PhaseStructural, Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return ValidationErrors{{Phase: PhaseSchema, Message: err.Error()}}
		}
		printer := message.NewPrinter(language.English)
		var errs ValidationErrors
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, &ValidationError{
				Phase:   PhaseSchema,
				Path:    joinPath(cause.InstanceLocation),
				Message: cause.ErrorKind.LocalizedString(printer),
			})
		}
		return errs
	}
	return nil
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
