package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// maxBodyBytes caps request bodies; commands are short strings.
const maxBodyBytes = 1 << 20

const runScriptSchema = `{
  "type": "object",
  "required": ["script"],
  "properties": {
    "script": {"type": "string", "minLength": 1, "pattern": "^[^-\\s]"},
    "path":   {"type": ["string", "null"]}
  }
}`

const runCommandSchema = `{
  "type": "object",
  "required": ["command"],
  "properties": {
    "command": {"type": "string", "minLength": 1},
    "path":    {"type": ["string", "null"]}
  }
}`

var (
	runScriptValidator  = jsonschema.MustCompileString("run-script.schema.json", runScriptSchema)
	runCommandValidator = jsonschema.MustCompileString("run-command.schema.json", runCommandSchema)
)

// decodeJSON reads the body, validates it against schema and decodes it into
// dst. The returned error is suitable for a 400 response.
func decodeJSON(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
