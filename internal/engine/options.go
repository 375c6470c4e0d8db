package engine

import (
	"context"
	"time"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/taskrunner"
)

// Func — тело задачи или flow.
type Func func(ctx context.Context, params Params) (any, error)

// CacheKeyFunc вычисляет ключ кэша task run. Пустая строка — не кэшировать.
type CacheKeyFunc func(data *TemplateData, params Params) string

// RunnerFactory создаёт task runner для одного flow run.
type RunnerFactory func() taskrunner.TaskRunner

// options — общие настройки задач и flows.
type options struct {
	version     string
	description string
	tags        []string

	retries    int
	retryDelay time.Duration
	timeout    time.Duration

	cacheKeyFn       CacheKeyFunc
	cacheKeyTemplate string
	cacheExpiration  time.Duration

	async bool

	// только для flows
	runner   RunnerFactory
	inputs   map[string]domain.InputDef
	validate bool
}

func defaultOptions() options {
	return options{validate: true}
}

func (o options) policy() domain.RunPolicy {
	return domain.RunPolicy{
		MaxRetries:       o.retries,
		RetryDelay:       o.retryDelay,
		CacheKeyTemplate: o.cacheKeyTemplate,
		CacheExpiration:  o.cacheExpiration,
		Timeout:          o.timeout,
	}
}

// Option настраивает Task или Flow.
type Option func(*options)

// WithVersion задаёт версию.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithDescription задаёт описание.
func WithDescription(d string) Option {
	return func(o *options) { o.description = d }
}

// WithTags добавляет теги, которые получат все runs.
func WithTags(tags ...string) Option {
	return func(o *options) { o.tags = append(o.tags, tags...) }
}

// WithRetries задаёт число повторов после неудачной попытки.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithRetryDelay задаёт паузу перед повтором (по умолчанию повтор сразу).
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithTimeout ограничивает время выполнения тела.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithCacheKeyFn задаёт функцию ключа кэша (см. TaskInputHash).
func WithCacheKeyFn(fn CacheKeyFunc) Option {
	return func(o *options) { o.cacheKeyFn = fn }
}

// WithCacheKeyTemplate задаёт шаблон ключа кэша над TemplateData.
func WithCacheKeyTemplate(tmpl string) Option {
	return func(o *options) { o.cacheKeyTemplate = tmpl }
}

// WithCacheExpiration задаёт срок жизни кэша.
func WithCacheExpiration(d time.Duration) Option {
	return func(o *options) { o.cacheExpiration = d }
}

// Async помечает тело как кооперативное: оно выполняется на горутине
// Loop и обязано уважать отмену ctx.
func Async() Option {
	return func(o *options) { o.async = true }
}

// WithTaskRunner задаёт task runner flow.
func WithTaskRunner(factory RunnerFactory) Option {
	return func(o *options) { o.runner = factory }
}

// WithInputs объявляет параметры flow.
func WithInputs(inputs map[string]domain.InputDef) Option {
	return func(o *options) { o.inputs = inputs }
}

// WithValidateParameters включает или выключает проверку параметров flow.
func WithValidateParameters(validate bool) Option {
	return func(o *options) { o.validate = validate }
}
