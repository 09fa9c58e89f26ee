package config

import (
	"encoding/json"
	"sync"

	"github.com/grovetools/airlock/schema"
	"github.com/invopop/jsonschema"
)

var (
	validatorOnce sync.Once
	validator     *SchemaValidator
	validatorErr  error
)

//go:generate go run ../tools/schema-generator -out ../schema/definitions/airlock.schema.json

// GenerateSchema reflects the Config struct into a JSON Schema.
// Unknown top-level keys are allowed so extension sections (logging) pass through.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		Anonymous:                 true,
		// Property names follow the YAML keys operators write.
		FieldNameTag: "yaml",
	}

	s := r.Reflect(&Config{})
	s.Title = "airlock configuration"
	s.Description = "Schema for airlock.yml / airlock.toml."

	return json.MarshalIndent(s, "", "  ")
}

// SchemaValidator validates raw configuration documents against the generated schema.
type SchemaValidator struct {
	validator *schema.Validator
}

// NewSchemaValidator returns the shared validator, compiling it on first use.
func NewSchemaValidator() (*SchemaValidator, error) {
	validatorOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			validatorErr = err
			return
		}
		v, err := schema.NewValidator("airlock.schema.json", data)
		if err != nil {
			validatorErr = err
			return
		}
		validator = &SchemaValidator{validator: v}
	})
	return validator, validatorErr
}

// Validate validates configuration data against the schema.
func (v *SchemaValidator) Validate(configData interface{}) error {
	return v.validator.Validate(configData)
}
