package config

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the published config schema.
const SchemaID = "https://proximo.dev/schemas/config.json"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema describes the proximo config file as printed by
// `proximo config schema`. Property names follow the yaml keys, every key is
// optional (defaults fill the gaps) and unknown keys are rejected, as Load does.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			RequiredFromJSONSchemaTags: true,
			Mapper:                     durationSchema,
		}
		schema := r.Reflect(&Config{})
		schema.ID = SchemaID
		schema.Title = "proximo configuration"
		schema.Description = "Client settings for the proximity chat service: REST and channel endpoints, location source, typing timers, logging and metrics."
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationSchema renders durations the way config files spell them ("15s", "1m30s").
func durationSchema(t reflect.Type) *jsonschema.Schema {
	if t != durationType {
		return nil
	}
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration, e.g. 500ms, 15s, 1m30s",
	}
}
