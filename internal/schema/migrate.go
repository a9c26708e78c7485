package schema

import (
	"encoding/json"
	"fmt"
)

// step upgrades a document by exactly one revision, in place.
type step func(shape Shape, doc map[string]any)

// upgrades[i] lifts a document from revision i+1 to revision i+2.
//
//	1 -> 2  numeric ids become strings
//	2 -> 3  the prompt history "messages" is renamed to "prompt"
//	3 -> 4  the generated message nested under "response" moves to role/content
var upgrades = []step{
	stringIDs,
	renameMessages,
	hoistResponse,
}

// Migrate upgrades a document written against an older schema revision to
// CurrentVersion, in place. Only the steps newer than from are applied.
func Migrate(shape Shape, doc map[string]any, from int) error {
	if from >= CurrentVersion {
		return nil
	}
	if from < 1 {
		return &FieldError{Field: "schema_version", Expected: fmt.Sprintf("1..%d", CurrentVersion), Actual: fmt.Sprint(from)}
	}
	for _, up := range upgrades[from-1:] {
		up(shape, doc)
	}
	return nil
}

func stringIDs(shape Shape, doc map[string]any) {
	stringifyID(doc, "id")
	switch shape {
	case ShapePrompt:
		eachResponse(doc, func(r map[string]any) {
			stringifyID(r, "id")
			stringifyID(r, "prompt_id")
		})
	case ShapeResponse, ShapeWSMessage:
		stringifyID(doc, "prompt_id")
	}
}

func renameMessages(shape Shape, doc map[string]any) {
	if shape != ShapePrompt {
		return
	}
	msgs, ok := doc["messages"]
	if !ok {
		return
	}
	setIfAbsent(doc, "prompt", msgs)
	delete(doc, "messages")
}

func hoistResponse(shape Shape, doc map[string]any) {
	switch shape {
	case ShapePrompt:
		eachResponse(doc, hoistNested)
	case ShapeResponse:
		hoistNested(doc)
	}
}

func hoistNested(doc map[string]any) {
	nested, ok := doc["response"]
	if !ok {
		return
	}
	delete(doc, "response")

	switch v := nested.(type) {
	case string:
		setIfAbsent(doc, "content", v)
	case map[string]any:
		for _, k := range []string{"role", "content", "title", "comment"} {
			if val, ok := v[k]; ok {
				setIfAbsent(doc, k, val)
			}
		}
		// the oldest clients sent {"text": ...}
		if text, ok := v["text"]; ok {
			setIfAbsent(doc, "content", text)
		}
	}
}

func eachResponse(doc map[string]any, fn func(map[string]any)) {
	items, ok := doc["responses"].([]any)
	if !ok {
		return
	}
	for _, item := range items {
		if r, ok := item.(map[string]any); ok {
			fn(r)
		}
	}
}

func stringifyID(doc map[string]any, key string) {
	switch v := doc[key].(type) {
	case json.Number:
		doc[key] = v.String()
	case float64:
		doc[key] = fmt.Sprintf("%.0f", v)
	}
}

func setIfAbsent(doc map[string]any, key string, val any) {
	if _, ok := doc[key]; !ok {
		doc[key] = val
	}
}
