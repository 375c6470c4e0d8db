package steps

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Config — отрендеренная конфигурация шага.
//
// После рендеринга шаблонов скаляры часто приходят строками
// ("{{ .Inputs.retries }}" → "3"), поэтому аксессоры принимают
// и строковое представление.
type Config map[string]any

// String возвращает строковое значение ключа или "".
func (c Config) String(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int возвращает целое значение ключа. ok == false, если ключа нет
// или значение не целое.
func (c Config) Int(key string) (n int, ok bool) {
	switch v := c[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// Bool возвращает булево значение ключа или def.
func (c Config) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration возвращает длительность: строка в формате time.ParseDuration
// ("1m30s") или число секунд. Отсутствующий ключ — 0.
func (c Config) Duration(key string) (time.Duration, error) {
	switch v := c[key].(type) {
	case nil:
		return 0, nil
	case string:
		if v == "" {
			return 0, nil
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", key, v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("%s: unsupported duration type %T", key, v)
	}
}

// Map возвращает вложенный объект или nil.
func (c Config) Map(key string) map[string]any {
	m, _ := c[key].(map[string]any)
	return m
}

// StringMap возвращает вложенный объект со значениями, приведёнными к строкам.
func (c Config) StringMap(key string) map[string]string {
	switch m := c[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k := range m {
			out[k] = Config(m).String(k)
		}
		return out
	}
	return nil
}
