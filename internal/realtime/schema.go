package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound payload schemas, keyed by event name. Events without a schema are
// delivered unchecked.
var eventSchemas = map[string]string{
	"nearbyUsers": `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["userId", "distance", "bearing"],
			"properties": {
				"userId": {"type": "string", "minLength": 1},
				"distance": {"type": "number"},
				"bearing": {"type": "number"}
			}
		}
	}`,
	"reencounters": `{
		"type": "array",
		"items": {"type": "object", "required": ["userId"]}
	}`,
	"userNearby": `{
		"type": "object",
		"required": ["userId"],
		"properties": {"userId": {"type": "string"}}
	}`,
	"newMessage": `{
		"type": "object",
		"required": ["id"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"sender": {"type": "object"}
		}
	}`,
	"messageRead": `{
		"type": "object",
		"required": ["messageId"],
		"properties": {"messageId": {"type": "string"}}
	}`,
	"userTyping": `{
		"type": "object",
		"required": ["userId", "isTyping"],
		"properties": {
			"userId": {"type": "string"},
			"isTyping": {"type": "boolean"}
		}
	}`,
	"newGroupMessage": `{
		"type": "object",
		"required": ["groupId", "message"],
		"properties": {
			"groupId": {"type": "string"},
			"message": {"type": "object", "required": ["id"]}
		}
	}`,
	"memberJoined": `{
		"type": "object",
		"required": ["groupId", "member"],
		"properties": {
			"groupId": {"type": "string"},
			"member": {"type": "object", "required": ["userId"]}
		}
	}`,
	"memberLeft": `{
		"type": "object",
		"required": ["groupId", "userId"],
		"properties": {
			"groupId": {"type": "string"},
			"userId": {"type": "string"}
		}
	}`,
}

type schemaRegistry struct {
	once    sync.Once
	initErr error
	events  map[string]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		schemas.events = make(map[string]*jsonschema.Schema, len(eventSchemas))
		for name, schema := range eventSchemas {
			compiled, err := jsonschema.CompileString("event_"+name, schema)
			if err != nil {
				schemas.initErr = fmt.Errorf("compile %s schema: %w", name, err)
				return
			}
			schemas.events[name] = compiled
		}
	})
	return schemas.initErr
}

// ValidatePayload checks an inbound payload against the schema of its event.
func ValidatePayload(event string, payload json.RawMessage) error {
	if err := initSchemas(); err != nil {
		return err
	}
	schema := schemas.events[event]
	if schema == nil {
		return nil
	}
	var doc any
	if len(payload) == 0 {
		doc = nil
	} else if err := json.Unmarshal(payload, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s payload: %w", event, err)
	}
	return nil
}
