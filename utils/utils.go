// Package utils converts between JSON-tagged structs and generic row maps.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// StructToMap converts a struct (or pointer to one) into a map keyed by its
// JSON field names. Nested objects are kept as json.RawMessage so they can be
// stored in a single column.
func StructToMap[T any](record T) (map[string]any, error) {
	val := reflect.ValueOf(record)
	if !val.IsValid() {
		return nil, fmt.Errorf("input record cannot be nil")
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("StructToMap: failed to marshal input record to JSON: %w", err)
	}

	var tempMap map[string]any
	// UseNumber keeps integer columns from turning into float64.
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.UseNumber()
	if err := dec.Decode(&tempMap); err != nil {
		return nil, fmt.Errorf("StructToMap: failed to unmarshal JSON to temporary map[string]any: %w", err)
	}

	resultMap := make(map[string]any, len(tempMap))
	for key, val := range tempMap {
		nestedMap, ok := val.(map[string]any)
		if !ok {
			resultMap[key] = val
			continue
		}
		nestedBytes, err := json.Marshal(nestedMap)
		if err != nil {
			return nil, fmt.Errorf("StructToMap: error re-marshaling nested map for key '%s': %w", key, err)
		}
		resultMap[key] = json.RawMessage(nestedBytes)
	}
	return resultMap, nil
}

// MapToStruct is the inverse of StructToMap. T must be a struct type or a
// pointer to one.
func MapToStruct[T any](input map[string]any) (T, error) {
	var zero T
	if input == nil {
		return zero, fmt.Errorf("MapToStruct: input map cannot be nil")
	}

	typ := reflect.TypeOf(zero)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("MapToStruct: generic type T must be a struct type (or pointer to struct), got %s", typ.Kind())
	}

	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to marshal input map to JSON: %w", err)
	}

	var result T
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to unmarshal JSON to target struct: %w", err)
	}
	return result, nil
}
