// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the generated config schema.
const SchemaID = "https://pharmadiet.dev/schemas/config.schema.json"

// durationPattern accepts Go duration strings such as "30m" or "1h30m".
const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

var (
	schemaOnce     sync.Once
	compiledSchema *jschema.Schema
	compileErr     error
)

// GenerateSchema returns the JSON Schema for the YAML config file.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{Type: "string", Pattern: durationPattern}
			}
			return nil
		},
	}
	schema := r.Reflect(&Config{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Pharmadiet configuration"
	schema.Description = "Schema for pharmadiet config.yaml files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	return data, nil
}

// ValidateYAML checks a config document against the schema. An empty
// document is valid and means "all defaults".
func ValidateYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("CONFIG_YAML_INVALID").Wrap(err)
	}
	if doc == nil {
		return nil
	}

	sch, err := schema()
	if err != nil {
		return err
	}
	if err := sch.Validate(normalize(doc)); err != nil {
		return oops.Code("CONFIG_SCHEMA_VIOLATION").
			Errorf("%s", strings.TrimPrefix(err.Error(), "jsonschema validation failed with "))
	}
	return nil
}

func schema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			compileErr = oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("config.schema.json", doc); err != nil {
			compileErr = oops.Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		compiledSchema, compileErr = c.Compile("config.schema.json")
		if compileErr != nil {
			compileErr = oops.Code("SCHEMA_COMPILE_FAILED").Wrap(compileErr)
		}
	})
	return compiledSchema, compileErr
}

// normalize turns yaml.v3 output into the JSON value model the validator
// expects: string-keyed maps all the way down.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}
