package bridge

import "context"

// Kind — контекст выполнения в точке вызова.
type Kind int

const (
	// ContextNone — нет активного Loop.
	ContextNone Kind = iota
	// ContextLoop — горутина активного Loop.
	ContextLoop
	// ContextWorker — горутина пула с обратной ссылкой на Loop.
	ContextWorker
)

// String возвращает имя контекста.
func (k Kind) String() string {
	switch k {
	case ContextLoop:
		return "loop"
	case ContextWorker:
		return "worker"
	default:
		return "none"
	}
}

type bindingKey struct{}

type binding struct {
	loop   *Loop
	worker bool
}

func bindLoop(ctx context.Context, l *Loop) context.Context {
	return context.WithValue(ctx, bindingKey{}, binding{loop: l})
}

func bindWorker(ctx context.Context, l *Loop) context.Context {
	return context.WithValue(ctx, bindingKey{}, binding{loop: l, worker: true})
}

// Detect определяет контекст выполнения по ctx.
// Закрытый Loop считается отсутствующим.
//
// Привязка хранится в ctx, а не в горутине: горутина, запущенная с тем же
// ctx, тоже считается горутиной Loop. Такие горутины должны получать
// Detach(ctx).
func Detect(ctx context.Context) (Kind, *Loop) {
	b, ok := ctx.Value(bindingKey{}).(binding)
	if !ok || b.loop == nil || !b.loop.Running() {
		return ContextNone, nil
	}
	if b.worker {
		return ContextWorker, b.loop
	}
	return ContextLoop, b.loop
}

// Detach возвращает ctx без привязки к Loop. Используется для работы,
// которая переживает текущий Loop (фоновые горутины).
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, bindingKey{}, binding{})
}
