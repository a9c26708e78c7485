package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/suPer8Hu/lovely-prompts/internal/models"
)

// CurrentVersion is the schema revision this server reads and writes.
const CurrentVersion = 4

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks that raw is a complete record of the given shape.
// It never modifies raw.
func Validate(shape Shape, raw []byte) error {
	switch shape {
	case ShapePrompt:
		_, err := DecodePrompt(raw, Record, CurrentVersion)
		return err
	case ShapeResponse:
		_, err := DecodeResponse(raw, Record, CurrentVersion)
		return err
	case ShapeWSMessage:
		_, err := DecodeWSMessage(raw, Record, CurrentVersion)
		return err
	case ShapeChunk:
		var c models.Chunk
		return decodeInto(shape, raw, Record, CurrentVersion, &c)
	case ShapeSQLRow:
		var r models.SQLRow
		return decodeInto(shape, raw, Record, CurrentVersion, &r)
	case ShapeChatMessage:
		var m models.ChatMessage
		return decodeInto(shape, raw, Record, CurrentVersion, &m)
	}
	return fmt.Errorf("schema: unknown shape %q", shape)
}

// DecodePrompt checks raw against the prompt shape and decodes it. In Input
// mode server-assigned fields are dropped.
func DecodePrompt(raw []byte, mode Mode, version int) (*models.Prompt, error) {
	var p models.Prompt
	if err := decodeInto(ShapePrompt, raw, mode, version, &p); err != nil {
		return nil, err
	}

	if mode == Record {
		for i, r := range p.Responses {
			if r.PromptID != p.ID {
				return nil, &FieldError{
					Field:    fmt.Sprintf("responses[%d].prompt_id", i),
					Expected: fmt.Sprintf("%q (id of the owning prompt)", p.ID),
					Actual:   fmt.Sprintf("%q", r.PromptID),
				}
			}
		}
	}
	return &p, nil
}

func DecodeResponse(raw []byte, mode Mode, version int) (*models.Response, error) {
	var r models.Response
	if err := decodeInto(ShapeResponse, raw, mode, version, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func DecodeWSMessage(raw []byte, mode Mode, version int) (*models.WSMessage, error) {
	var m models.WSMessage
	if err := decodeInto(ShapeWSMessage, raw, mode, version, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeInto(shape Shape, raw []byte, mode Mode, version int, out any) error {
	doc, err := parseObject(raw)
	if err != nil {
		return err
	}

	if version < CurrentVersion {
		if err := Migrate(shape, doc, version); err != nil {
			return err
		}
		if raw, err = json.Marshal(doc); err != nil {
			return err
		}
	}

	if err := check(shape, doc, "", mode); err != nil {
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &FieldError{Expected: "JSON " + string(shape), Actual: err.Error()}
	}

	if mode == Input {
		stripAssigned(out)
	}
	return validateStruct(out, mode)
}

func parseObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &FieldError{Expected: "JSON object", Actual: "malformed JSON: " + err.Error()}
	}
	if dec.More() {
		return nil, &FieldError{Expected: "a single JSON object", Actual: "trailing data"}
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, &FieldError{Expected: "JSON object", Actual: typeOf(v)}
	}
	return doc, nil
}

func stripAssigned(out any) {
	switch v := out.(type) {
	case *models.Prompt:
		v.SQLRow = models.SQLRow{}
		v.Responses = nil
	case *models.Response:
		v.SQLRow = models.SQLRow{}
	case *models.WSMessage:
		v.ID = ""
		v.PromptID = ""
	}
}

func validateStruct(out any, mode Mode) error {
	v := structValidator()

	var err error
	if mode == Input {
		switch out.(type) {
		case *models.Prompt, *models.Response:
			err = v.StructExcept(out, "SQLRow")
		case *models.WSMessage:
			err = v.StructExcept(out, "ID", "PromptID")
		case *models.SQLRow:
			return nil
		default:
			err = v.Struct(out)
		}
	} else {
		err = v.Struct(out)
	}
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &FieldError{
		Field:    cleanNamespace(fe.Namespace()),
		Expected: describeTag(fe),
		Actual:   fmt.Sprintf("%v", fe.Value()),
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "non-empty value"
	case "gtefield":
		return "value not earlier than " + strings.ToLower(fe.Param())
	case "gte":
		return ">= " + fe.Param()
	case "oneof":
		return "one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return fe.Tag()
}
