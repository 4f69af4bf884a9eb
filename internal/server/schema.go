package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// configSchemaJSON validates the integration config payload before it
// reaches the stores: identity fields, provider config shape, and the sync
// settings vocabulary.
const configSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["companyId", "integration", "config"],
	"properties": {
		"companyId": {"type": "string", "minLength": 1},
		"integration": {"type": "string", "minLength": 1},
		"enabled": {"type": "boolean"},
		"config": {"type": "object"},
		"syncSettings": {
			"type": "object",
			"properties": {
				"entities": {
					"type": "array",
					"items": {"enum": ["contact", "deal", "appointment", "product", "invoice"]}
				},
				"direction": {"enum": ["to_omni", "from_omni", "bidirectional"]},
				"conflictStrategy": {"enum": ["newest_wins", "omni_wins", "external_wins", "merge", "manual"]},
				"autoSync": {"type": "boolean"},
				"syncInterval": {"type": "integer", "minimum": 1},
				"batchSize": {"type": "integer", "minimum": 1}
			}
		}
	}
}`

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Schema
	configSchemaErr  error
)

func compileConfigSchema() error {
	configSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(configSchemaJSON))
		if err != nil {
			configSchemaErr = fmt.Errorf("parse config schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("integration-config.json", doc); err != nil {
			configSchemaErr = fmt.Errorf("add config schema: %w", err)
			return
		}
		configSchema, configSchemaErr = compiler.Compile("integration-config.json")
	})
	return configSchemaErr
}

func validateConfigPayload(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := configSchema.Validate(inst); err != nil {
		return fmt.Errorf("config payload rejected: %w", err)
	}
	return nil
}

func jsonUnmarshal(body []byte, target any) error {
	return json.Unmarshal(body, target)
}
