package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/shaiso/Weaver/internal/collections"
)

// TemplateData — данные шаблонов ключа кэша и конфигурации встроенных задач.
//
//	{{ .Task }}           — имя задачи
//	{{ .Inputs.name }}    — параметры вызова
//	{{ .FlowRun.ID }}     — flow run, внутри которого идёт вызов
//	{{ .Env.NAME }}       — переменные окружения
type TemplateData struct {
	Task    string            `json:"task"`
	Inputs  map[string]any    `json:"inputs"`
	FlowRun RunInfo           `json:"flow_run"`
	Env     map[string]string `json:"env"`
}

// NewTemplateData создаёт данные шаблона с параметрами.
func NewTemplateData(inputs map[string]any) *TemplateData {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &TemplateData{
		Inputs: inputs,
		Env:    make(map[string]string),
	}
}

// SetEnv устанавливает переменную окружения.
func (d *TemplateData) SetEnv(key, value string) {
	d.Env[key] = value
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"fromJSON": func(s string) (any, error) {
		var v any
		err := json.Unmarshal([]byte(s), &v)
		return v, err
	},
	// hash — MD5 от JSON значения, как у TaskInputHash.
	"hash": func(v any) (string, error) {
		return hashJSON(v)
	},
	"default": func(def, val any) any {
		if isEmpty(val) {
			return def
		}
		return val
	},
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if !isEmpty(v) {
				return v
			}
		}
		return nil
	},
	"join":      func(sep string, items []string) string { return strings.Join(items, sep) },
	"split":     func(sep, s string) []string { return strings.Split(s, sep) },
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// parsed — разобранные шаблоны по тексту. Ключи кэша рендерятся на каждый
// task run одной и той же задачи.
var parsed sync.Map

func parseTemplate(text string) (*template.Template, error) {
	if t, ok := parsed.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}
	actual, _ := parsed.LoadOrStore(text, t)
	return actual.(*template.Template), nil
}

// Render рендерит строковый шаблон. Строка без "{{" возвращается как есть.
func Render(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	t, err := parseTemplate(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// RenderValue рендерит все строки внутри value, сохраняя его форму
// (map, slice, struct).
func RenderValue(value any, data any) (any, error) {
	return collections.Walk(value, func(leaf any) (any, error) {
		if s, ok := leaf.(string); ok {
			return Render(s, data)
		}
		return leaf, nil
	})
}

// RenderConfig рендерит конфигурацию встроенной задачи.
func RenderConfig(config map[string]any, data any) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(config, data)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}
	return result, nil
}
