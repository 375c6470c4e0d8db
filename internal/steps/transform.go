package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shaiso/Weaver/internal/engine"
)

// StepTypeTransform — тип шага трансформации.
const StepTypeTransform = "transform"

// TransformStep собирает результат из шаблонов над параметрами задачи.
//
// Конфигурация:
//
//	{
//	    "mappings": {
//	        "total": "{{ len .Inputs.items }}",
//	        "ids":   "{{ json .Inputs.ids }}",
//	        "label": "{{ upper .Inputs.name }}"
//	    },
//	    "raw": false   // true — не разбирать результаты как JSON
//	}
//
// Каждый результат, который разбирается как JSON, становится значением
// соответствующего типа: "10" → 10, "[1,2]" → []any{1, 2}. Остальное
// остаётся строкой.
type TransformStep struct{}

// NewTransformStep создаёт TransformStep.
func NewTransformStep() *TransformStep {
	return &TransformStep{}
}

func (s *TransformStep) Type() string { return StepTypeTransform }

// Execute рендерит mappings.
func (s *TransformStep) Execute(ctx context.Context, req *Request) (Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, err)
	}

	mappings := req.Config.StringMap("mappings")
	raw := req.Config.Bool("raw", false)

	out := make(Outputs, len(mappings))
	for key, tmpl := range mappings {
		rendered, err := engine.Render(tmpl, req.Data)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", key, err)
		}
		if raw {
			out[key] = rendered
			continue
		}
		out[key] = decodeValue(rendered)
	}
	return out, nil
}

// decodeValue разбирает строку как JSON значение. Целые числа
// возвращаются как int64.
func decodeValue(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return s
	}
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return v
}
