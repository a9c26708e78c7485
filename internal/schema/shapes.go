package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/lovely-prompts/internal/models"
)

// Shape names a record type that can be checked for conformance.
type Shape string

const (
	ShapeChunk       Shape = "chunk"
	ShapeSQLRow      Shape = "sql_row"
	ShapeChatMessage Shape = "chat_message"
	ShapePrompt      Shape = "prompt"
	ShapeResponse    Shape = "response"
	ShapeWSMessage   Shape = "ws_message"
)

// Mode selects how strictly server-assigned fields are treated.
type Mode int

const (
	// Record checks a complete, persisted record.
	Record Mode = iota
	// Input checks a client payload: server-assigned fields are optional and ignored.
	Input
)

type kind int

const (
	kString kind = iota
	kInteger
	kNumber
	kObject
	kTimestamp
	kArray
	kAction
)

type field struct {
	name string
	kind kind
	elem Shape // element shape of kArray

	required bool
	// assigned fields are filled in by the server; Input mode skips them.
	assigned bool
	// optionalInput reports whether a required field may be left out of an
	// Input payload, given the rest of the document.
	optionalInput func(doc map[string]any) bool
}

// deleteAction is true for a frame that clears a field and so carries no value.
func deleteAction(doc map[string]any) bool {
	a, _ := doc["action"].(string)
	return models.Action(a) == models.ActionDelete
}

var (
	chunkFields = []field{
		{name: "title", kind: kString},
		{name: "comment", kind: kString},
	}
	sqlRowFields = []field{
		{name: "id", kind: kString, required: true, assigned: true},
		{name: "created", kind: kTimestamp, required: true, assigned: true},
		{name: "updated", kind: kTimestamp, required: true, assigned: true},
	}
	chatMessageFields = concat(chunkFields, []field{
		{name: "role", kind: kString},
		{name: "content", kind: kString},
	})
	responseFields = concat(sqlRowFields, chatMessageFields, []field{
		{name: "prompt_id", kind: kString, required: true},
		{name: "stop_reason", kind: kString},
		{name: "tok_in", kind: kInteger},
		{name: "tok_out", kind: kInteger},
		{name: "tok_max", kind: kInteger},
		{name: "model", kind: kString},
		{name: "temperature", kind: kNumber},
		{name: "provider", kind: kString},
		{name: "meta", kind: kObject},
		{name: "extra", kind: kObject},
	})
	promptFields = concat(sqlRowFields, chunkFields, []field{
		{name: "prompt", kind: kArray, elem: ShapeChatMessage},
		{name: "completion_prompt", kind: kString},
		{name: "responses", kind: kArray, elem: ShapeResponse, assigned: true},
	})
	wsMessageFields = []field{
		{name: "id", kind: kString, required: true, assigned: true},
		{name: "prompt_id", kind: kString, required: true, assigned: true},
		{name: "action", kind: kAction, required: true},
		{name: "key", kind: kString, required: true},
		{name: "value", kind: kString, required: true, optionalInput: deleteAction},
	}
)

var shapes = map[Shape][]field{
	ShapeChunk:       chunkFields,
	ShapeSQLRow:      sqlRowFields,
	ShapeChatMessage: chatMessageFields,
	ShapePrompt:      promptFields,
	ShapeResponse:    responseFields,
	ShapeWSMessage:   wsMessageFields,
}

func concat(parts ...[]field) []field {
	var out []field
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (k kind) String() string {
	switch k {
	case kString:
		return "string"
	case kInteger:
		return "integer"
	case kNumber:
		return "number"
	case kObject:
		return "object"
	case kTimestamp:
		return "RFC 3339 timestamp string"
	case kArray:
		return "array"
	case kAction:
		return `one of "replace", "append", "delete"`
	}
	return "unknown"
}

// check walks doc against shape and reports the first offending field, in
// declaration order.
func check(shape Shape, doc map[string]any, path string, mode Mode) error {
	fields, ok := shapes[shape]
	if !ok {
		return fmt.Errorf("schema: unknown shape %q", shape)
	}

	for _, f := range fields {
		if mode == Input && f.assigned {
			continue
		}
		name := joinPath(path, f.name)

		v, present := doc[f.name]
		if !present || v == nil {
			if f.required && !(mode == Input && f.optionalInput != nil && f.optionalInput(doc)) {
				actual := "missing"
				if present {
					actual = "null"
				}
				return &FieldError{Field: name, Expected: f.kind.String(), Actual: actual}
			}
			continue
		}

		if err := checkValue(f, v, name, mode); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(f field, v any, name string, mode Mode) error {
	mismatch := func() error {
		return &FieldError{Field: name, Expected: f.kind.String(), Actual: typeOf(v)}
	}

	switch f.kind {
	case kString:
		if _, ok := v.(string); !ok {
			return mismatch()
		}

	case kAction:
		s, ok := v.(string)
		if !ok {
			return mismatch()
		}
		if !models.Action(s).Valid() {
			return &FieldError{Field: name, Expected: f.kind.String(), Actual: fmt.Sprintf("%q", s)}
		}

	case kTimestamp:
		s, ok := v.(string)
		if !ok {
			return mismatch()
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return &FieldError{Field: name, Expected: f.kind.String(), Actual: fmt.Sprintf("%q", s)}
		}

	case kInteger:
		n, ok := v.(json.Number)
		if !ok {
			return mismatch()
		}
		if _, err := n.Int64(); err != nil {
			return &FieldError{Field: name, Expected: f.kind.String(), Actual: "number " + n.String()}
		}

	case kNumber:
		n, ok := v.(json.Number)
		if !ok {
			return mismatch()
		}
		if _, err := n.Float64(); err != nil {
			return mismatch()
		}

	case kObject:
		if _, ok := v.(map[string]any); !ok {
			return mismatch()
		}

	case kArray:
		items, ok := v.([]any)
		if !ok {
			return mismatch()
		}
		for i, item := range items {
			itemPath := fmt.Sprintf("%s[%d]", name, i)
			obj, ok := item.(map[string]any)
			if !ok {
				return &FieldError{Field: itemPath, Expected: "object", Actual: typeOf(item)}
			}
			if err := check(f.elem, obj, itemPath, mode); err != nil {
				return err
			}
		}
	}
	return nil
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// cleanNamespace turns a validator namespace ("Prompt.responses[0].SQLRow.updated")
// into a JSON path ("responses[0].updated").
func cleanNamespace(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 {
		parts = parts[1:]
	}
	out := parts[:0]
	for _, p := range parts {
		switch p {
		case "SQLRow", "Chunk", "ChatMessage":
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ".")
}
