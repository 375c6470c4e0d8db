package domain

import (
	"time"

	"github.com/google/uuid"
)

// Flow — запись о зарегистрированном flow.
//
// Определение flow (функция, политика, параметры) живёт в коде процесса;
// Record Store хранит только имя, чтобы связать с ним runs и deployments.
type Flow struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InputDef — определение входного параметра flow.
type InputDef struct {
	// Type — тип параметра: "string", "number", "integer", "boolean", "object", "array".
	// Пустой тип — любое значение.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Required — обязательный ли параметр.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Default — значение по умолчанию.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// Description — описание параметра.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Log — запись лога, привязанная к run.
type Log struct {
	Name      string     `json:"name"`
	Level     string     `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	FlowRunID uuid.UUID  `json:"flow_run_id"`
	TaskRunID *uuid.UUID `json:"task_run_id,omitempty"`
}
