package ipc

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// messageSchemaSrc and taskSchemaSrc gate malformed-but-parseable JSON
// before a handler ever sees it, so a missing field is quarantined with a
// precise schema error rather than failing deep inside dispatch.
const messageSchemaSrc = `{
  "type": "object",
  "required": ["type", "channelId", "text"],
  "properties": {
    "type": {"const": "message"},
    "channelId": {"type": "string", "minLength": 1},
    "text": {"type": "string", "minLength": 1}
  }
}`

const taskSchemaSrc = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "enum": ["schedule_task", "pause_task", "resume_task", "cancel_task", "refresh_groups", "register_channel"]
    }
  }
}`

var (
	schemaOnce    sync.Once
	messageSchema *jsonschema.Schema
	taskSchema    *jsonschema.Schema
	schemaCompErr error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("message.json", mustUnmarshalJSON(messageSchemaSrc)); err != nil {
		schemaCompErr = fmt.Errorf("add message schema: %w", err)
		return
	}
	if err := c.AddResource("task.json", mustUnmarshalJSON(taskSchemaSrc)); err != nil {
		schemaCompErr = fmt.Errorf("add task schema: %w", err)
		return
	}
	ms, err := c.Compile("message.json")
	if err != nil {
		schemaCompErr = fmt.Errorf("compile message schema: %w", err)
		return
	}
	ts, err := c.Compile("task.json")
	if err != nil {
		schemaCompErr = fmt.Errorf("compile task schema: %w", err)
		return
	}
	messageSchema, taskSchema = ms, ts
}

func mustUnmarshalJSON(src string) any {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
	if err != nil {
		panic(fmt.Sprintf("ipc: invalid embedded schema: %v", err))
	}
	return v
}

// validateShape checks raw against the envelope schema for its kind,
// catching the common case (missing/wrong-typed field) before the
// type-specific validate() methods run their finer-grained checks.
func validateShape(schema *jsonschema.Schema, raw []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaCompErr != nil {
		return schemaCompErr
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
