package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	schemasassets "github.com/lakefront/s3console/internal/assets/schemas"
)

// SchemaID is the schema identifier for connection profiles.
const SchemaID = "s3console/v1.0.0/connection-profile"

// ErrValidationFailed indicates the profile failed schema validation.
var ErrValidationFailed = errors.New("profile validation failed")

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// ValidateRaw checks raw JSON data against the embedded profile schema.
// Unknown fields are rejected (additionalProperties: false).
func ValidateRaw(jsonData []byte) error {
	s, err := getSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("decode profile for validation: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return nil
}

// getSchema compiles the embedded schema once.
func getSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemasassets.ConnectionProfileSchema) == 0 {
			schemaErr = errors.New("embedded connection-profile schema is empty")
			return
		}
		compiler := jsonschema.NewCompiler()
		resourceID := "inmemory://" + SchemaID
		if err := compiler.AddResource(resourceID, bytes.NewReader(schemasassets.ConnectionProfileSchema)); err != nil {
			schemaErr = fmt.Errorf("add profile schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(resourceID)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile profile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}
