package engine

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

// TaskInputHash — функция ключа кэша: MD5 от ключа задачи и JSON
// параметров. Одинаковые параметры дают одинаковый ключ между процессами.
func TaskInputHash(data *TemplateData, params Params) string {
	key, err := hashJSON(struct {
		Task   string `json:"task"`
		Inputs Params `json:"inputs"`
	}{data.Task, params})
	if err != nil {
		return ""
	}
	return key
}

func hashJSON(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:]), nil
}

// cacheKey вычисляет ключ кэша task run. Пустая строка — кэш выключен.
func (t *Task) cacheKey(data *TemplateData, params Params) (string, error) {
	if t.opts.cacheKeyFn != nil {
		return t.opts.cacheKeyFn(data, params), nil
	}
	if t.opts.cacheKeyTemplate != "" {
		return Render(t.opts.cacheKeyTemplate, data)
	}
	return "", nil
}
