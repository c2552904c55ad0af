package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// SchemaPrefix is where extraction schemas live in the pipeline bucket.
const SchemaPrefix = "system-schemas/"

// defaultSchema keeps the pipeline functional when no schemas are deployed.
const defaultSchema = `{
  "classification": {
    "description": "Classify the document type and extract key information",
    "fields": ["document_type", "confidence", "key_entities"]
  }
}`

// SchemaSet maps a schema name (file name without .json) to its raw content.
type SchemaSet map[string]json.RawMessage

// LoadSchemas reads every .json object under SchemaPrefix. Unreadable files
// are skipped with a warning; an empty bucket yields a built-in default
// classification schema.
func LoadSchemas(ctx context.Context, store storage.Storage, log logger.Logger) (SchemaSet, error) {
	schemas := SchemaSet{}

	keys, err := store.List(ctx, SchemaPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}

	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		raw, err := readObject(ctx, store, key)
		if err != nil {
			log.Warn("Skipping unreadable schema",
				logger.String("key", key),
				logger.Error(err),
			)
			continue
		}
		if !json.Valid(raw) {
			log.Warn("Skipping invalid schema", logger.String("key", key))
			continue
		}
		name := strings.TrimSuffix(path.Base(key), ".json")
		schemas[name] = json.RawMessage(raw)
	}

	if len(schemas) == 0 {
		log.Warn("No schemas deployed, using built-in default")
		schemas["classification"] = json.RawMessage(defaultSchema)
	}
	return schemas, nil
}

// Validate checks extracted data against the named schema when that schema is
// a compilable JSON Schema. Prompt-only schema files that do not compile are
// not an error; validation is simply unavailable for them.
func (s SchemaSet) Validate(name string, data []byte) (bool, error) {
	raw, ok := s[name]
	if !ok {
		return false, fmt.Errorf("unknown schema %q", name)
	}

	compiler := jsonschema.NewCompiler()
	url := "docproc://schemas/" + name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return false, nil
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return false, nil
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return true, fmt.Errorf("extracted data is not valid JSON: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return true, err
	}
	return true, nil
}

func readObject(ctx context.Context, store storage.Storage, key string) ([]byte, error) {
	body, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}
