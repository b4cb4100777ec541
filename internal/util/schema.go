package util

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ValidationError represents a schema violation in structured model output.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}

	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// CreateSchema creates a strict JSON schema from a Go struct using reflection.
// Fields are required unless tagged omitempty; an `enum:"a,b"` tag restricts
// string values; a `description` tag is copied into the schema.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}

	properties := make(map[string]any)
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		fieldName := field.Name
		if name, _, _ := strings.Cut(jsonTag, ","); name != "" {
			fieldName = name
		}

		fieldSchema := map[string]any{
			"type": getJSONType(field.Type),
		}

		if description := field.Tag.Get("description"); description != "" {
			fieldSchema["description"] = description
		}

		if enum := field.Tag.Get("enum"); enum != "" {
			fieldSchema["enum"] = strings.Split(enum, ",")
		}

		if field.Type.Kind() == reflect.Map {
			fieldSchema["additionalProperties"] = map[string]any{"type": getJSONType(field.Type.Elem())}
		}

		properties[fieldName] = fieldSchema

		if !hasOmitEmpty(jsonTag) && field.Type.Kind() != reflect.Ptr {
			required = append(required, fieldName)
		}
	}

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// ValidateObject checks a decoded JSON object against a schema produced by
// CreateSchema: required fields, unknown fields, types and enums.
func ValidateObject(obj map[string]any, schema map[string]any) error {
	required, _ := schema["required"].([]string)
	for _, fieldName := range required {
		if _, exists := obj[fieldName]; !exists {
			return &ValidationError{Field: fieldName, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)

	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, fieldName := range names {
		value := obj[fieldName]

		propMap, exists := properties[fieldName].(map[string]any)
		if !exists {
			return &ValidationError{Field: fieldName, Message: "unknown field"}
		}

		expectedType, _ := propMap["type"].(string)
		if !isValidType(value, expectedType) {
			return &ValidationError{
				Field:   fieldName,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", expectedType, value),
			}
		}

		if enum, ok := propMap["enum"].([]string); ok && !contains(enum, value) {
			return &ValidationError{
				Field:   fieldName,
				Value:   value,
				Message: fmt.Sprintf("must be one of %s", strings.Join(enum, ", ")),
			}
		}

		if items, ok := propMap["additionalProperties"].(map[string]any); ok {
			itemType, _ := items["type"].(string)
			for key, v := range value.(map[string]any) {
				if !isValidType(v, itemType) {
					return &ValidationError{
						Field:   fieldName + "." + key,
						Value:   v,
						Message: fmt.Sprintf("expected type %s, got %T", itemType, v),
					}
				}
			}
		}
	}

	return nil
}

func contains(enum []string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}

	for _, e := range enum {
		if e == s {
			return true
		}
	}

	return false
}

// getJSONType returns the JSON schema type for a given Go type.
func getJSONType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return getJSONType(t.Elem())
	default:
		return "string"
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}

	return false
}

// isValidType checks a decoded JSON value against the expected schema type.
// A nil value only satisfies an unknown type.
func isValidType(value any, expectedType string) bool {
	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		v, ok := value.(float64)
		return ok && v == float64(int64(v))
	case "number":
		_, ok := value.(float64)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
