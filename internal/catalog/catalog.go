// Package catalog turns an agent's stored tool records into the tool specs sent
// to the model and the name -> endpoint table used to dispatch tool calls.
package catalog

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
)

type SchemaShape int

const (
	ShapeMalformed SchemaShape = iota
	ShapeSingleFunction
	ShapeToolContainer
	ShapeRawArray
)

func (s SchemaShape) String() string {
	switch s {
	case ShapeSingleFunction:
		return "single_function"
	case ShapeToolContainer:
		return "tool_container"
	case ShapeRawArray:
		return "raw_array"
	default:
		return "malformed"
	}
}

// ToolSpec is one function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Strict      bool
}

// Target is where a resolved tool name is dispatched.
type Target struct {
	ToolID   string
	Endpoint string
	Secret   string
}

type Catalog struct {
	Specs    []ToolSpec
	Dispatch map[string]Target
}

func (c Catalog) Empty() bool {
	return len(c.Specs) == 0
}

func (c Catalog) Lookup(name string) (Target, bool) {
	target, ok := c.Dispatch[name]
	return target, ok
}

// Schema is a stored function schema after classification. Entries holds the
// raw function-schema objects for every non-malformed shape.
type Schema struct {
	Shape   SchemaShape
	Entries []json.RawMessage
}

type functionSchema struct {
	Type     string `json:"type"`
	Function *struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
		Strict      bool            `json:"strict"`
	} `json:"function"`
}

// Classify inspects raw once and decides which of the accepted shapes it is.
func Classify(raw json.RawMessage) Schema {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Schema{Shape: ShapeMalformed}
	}
	switch trimmed[0] {
	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return Schema{Shape: ShapeMalformed}
		}
		return Schema{Shape: ShapeRawArray, Entries: entries}
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return Schema{Shape: ShapeMalformed}
		}
		if rawTools, ok := probe["tools"]; ok {
			var entries []json.RawMessage
			if err := json.Unmarshal(rawTools, &entries); err != nil {
				return Schema{Shape: ShapeMalformed}
			}
			return Schema{Shape: ShapeToolContainer, Entries: entries}
		}
		return Schema{Shape: ShapeSingleFunction, Entries: []json.RawMessage{trimmed}}
	default:
		return Schema{Shape: ShapeMalformed}
	}
}

func parseFunction(raw json.RawMessage) (ToolSpec, bool) {
	var fn functionSchema
	if err := json.Unmarshal(raw, &fn); err != nil {
		return ToolSpec{}, false
	}
	if fn.Type != "function" || fn.Function == nil {
		return ToolSpec{}, false
	}
	name := strings.TrimSpace(fn.Function.Name)
	if name == "" {
		return ToolSpec{}, false
	}
	params := fn.Function.Parameters
	if len(bytes.TrimSpace(params)) == 0 || bytes.Equal(bytes.TrimSpace(params), []byte("null")) {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return ToolSpec{
		Name:        name,
		Description: fn.Function.Description,
		Parameters:  params,
		Strict:      fn.Function.Strict,
	}, true
}

// Resolve builds the catalog for one orchestration call. Malformed schemas and
// entries are skipped. When two entries declare the same function name the
// first one wins and later ones are dropped.
func Resolve(tools []domain.Tool) Catalog {
	out := Catalog{
		Specs:    make([]ToolSpec, 0, len(tools)),
		Dispatch: map[string]Target{},
	}
	for _, tool := range tools {
		schema := Classify(tool.FunctionSchema)
		if schema.Shape == ShapeMalformed {
			log.Printf("[catalog] skip tool id=%s reason=malformed_schema", tool.ID)
			continue
		}
		for index, entry := range schema.Entries {
			spec, ok := parseFunction(entry)
			if !ok {
				log.Printf("[catalog] skip tool id=%s entry=%d shape=%s reason=invalid_function", tool.ID, index, schema.Shape)
				continue
			}
			if existing, dup := out.Dispatch[spec.Name]; dup {
				log.Printf("[catalog] duplicate function name=%s tool=%s kept=%s", spec.Name, tool.ID, existing.ToolID)
				continue
			}
			out.Specs = append(out.Specs, spec)
			out.Dispatch[spec.Name] = Target{
				ToolID:   tool.ID,
				Endpoint: strings.TrimSpace(tool.BaseURL),
				Secret:   strings.TrimSpace(tool.SecretCode),
			}
		}
	}
	return out
}
