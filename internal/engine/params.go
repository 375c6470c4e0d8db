package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/shaiso/Weaver/internal/domain"
)

// Params — параметры вызова flow или задачи.
type Params = map[string]any

// ValidateParameters проверяет params по объявленным входам и приводит
// значения к объявленным типам. Отсутствующие параметры получают Default.
// Возвращает новый map; params не изменяется.
//
// Без объявленных входов проверяется только сериализуемость.
func ValidateParameters(inputs map[string]domain.InputDef, params Params) (Params, error) {
	out := make(Params, len(params))

	if len(inputs) == 0 {
		for k, v := range params {
			out[k] = v
		}
		return out, checkSerializable(out)
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := inputs[name]; !ok {
			return nil, NewValidationError(name, "not declared by the flow", ErrParameterUnknown)
		}
	}

	names = names[:0]
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := inputs[name]
		v, ok := params[name]
		if !ok {
			if def.Default != nil {
				out[name] = def.Default
				continue
			}
			if def.Required {
				return nil, NewValidationError(name, "is required", ErrParameterRequired)
			}
			continue
		}

		coerced, err := coerce(def.Type, v)
		if err != nil {
			return nil, NewValidationError(name,
				fmt.Sprintf("expected %s, got %T", def.Type, v), ErrParameterType)
		}
		out[name] = coerced
	}

	return out, checkSerializable(out)
}

func checkSerializable(params Params) error {
	if _, err := json.Marshal(params); err != nil {
		return NewValidationError("", err.Error(), ErrParameterNotSerializable)
	}
	return nil
}

// coerce приводит v к типу параметра.
func coerce(typ string, v any) (any, error) {
	if v == nil || typ == "" {
		return v, nil
	}

	switch typ {
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}

	case "number":
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, nil
			}
		}

	case "integer":
		if f, ok := toFloat(v); ok && f == math.Trunc(f) {
			return int(f), nil
		}
		if s, ok := v.(string); ok {
			if n, err := strconv.Atoi(s); err == nil {
				return n, nil
			}
		}

	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed, nil
			}
		}

	case "object":
		if reflect.TypeOf(v).Kind() == reflect.Map {
			return v, nil
		}

	case "array":
		switch reflect.TypeOf(v).Kind() {
		case reflect.Slice, reflect.Array:
			return v, nil
		}

	default:
		return v, nil
	}

	return nil, ErrParameterType
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
