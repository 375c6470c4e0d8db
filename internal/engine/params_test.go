package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Weaver/internal/domain"
)

func TestValidateParameters(t *testing.T) {
	inputs := map[string]domain.InputDef{
		"name":    {Type: "string", Required: true},
		"count":   {Type: "integer", Default: 3},
		"ratio":   {Type: "number"},
		"enabled": {Type: "boolean"},
		"tags":    {Type: "array"},
		"extra":   {Type: "object"},
	}

	tests := []struct {
		name    string
		params  Params
		want    Params
		wantErr error
	}{
		{
			name:   "defaults",
			params: Params{"name": "x"},
			want:   Params{"name": "x", "count": 3},
		},
		{
			name:   "coercion",
			params: Params{"name": "x", "count": "5", "ratio": 2, "enabled": "true"},
			want:   Params{"name": "x", "count": 5, "ratio": 2.0, "enabled": true},
		},
		{
			name:   "float integer",
			params: Params{"name": "x", "count": 4.0},
			want:   Params{"name": "x", "count": 4},
		},
		{
			name:   "containers",
			params: Params{"name": "x", "tags": []string{"a"}, "extra": map[string]any{"k": 1}},
			want:   Params{"name": "x", "count": 3, "tags": []string{"a"}, "extra": map[string]any{"k": 1}},
		},
		{
			name:    "missing required",
			params:  Params{},
			wantErr: ErrParameterRequired,
		},
		{
			name:    "wrong type",
			params:  Params{"name": "x", "count": "many"},
			wantErr: ErrParameterType,
		},
		{
			name:    "fractional integer",
			params:  Params{"name": "x", "count": 1.5},
			wantErr: ErrParameterType,
		},
		{
			name:    "unknown",
			params:  Params{"name": "x", "colour": "red"},
			wantErr: ErrParameterUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateParameters(inputs, tt.params)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var verr *ValidationError
				assert.True(t, errors.As(err, &verr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateParameters_NoInputs(t *testing.T) {
	got, err := ValidateParameters(nil, Params{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, Params{"a": 1}, got)

	_, err = ValidateParameters(nil, Params{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrParameterNotSerializable)
}

func TestTaskInputHash(t *testing.T) {
	data := &TemplateData{Task: "fetch"}

	a := TaskInputHash(data, Params{"url": "https://example.com", "n": 1})
	b := TaskInputHash(data, Params{"n": 1, "url": "https://example.com"})
	assert.Len(t, a, 32)
	assert.Equal(t, a, b)

	c := TaskInputHash(&TemplateData{Task: "other"}, Params{"url": "https://example.com", "n": 1})
	assert.NotEqual(t, a, c)

	assert.Empty(t, TaskInputHash(data, Params{"ch": make(chan int)}))
}

func TestCacheKeyTemplate(t *testing.T) {
	task := NewTask("fetch", nil, WithCacheKeyTemplate("{{ .Task }}-{{ .Inputs.id }}"))
	data := NewTemplateData(Params{"id": 42})
	data.Task = "fetch"

	key, err := task.cacheKey(data, Params{"id": 42})
	require.NoError(t, err)
	assert.Equal(t, "fetch-42", key)

	plain := NewTask("plain", nil)
	key, err = plain.cacheKey(data, nil)
	require.NoError(t, err)
	assert.Empty(t, key)
}
