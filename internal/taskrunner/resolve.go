package taskrunner

import (
	"context"

	"github.com/shaiso/Weaver/internal/collections"
	"github.com/shaiso/Weaver/internal/datadoc"
	"github.com/shaiso/Weaver/internal/domain"
)

// leaves — значения, внутрь которых обход не заходит.
var leaves = collections.WithLeaves(func(v any) bool {
	switch v.(type) {
	case *Future, *domain.State, domain.State, *datadoc.Document, datadoc.Document:
		return true
	}
	return false
})

// ResolveToData заменяет каждый Future во вложенной структуре результатом
// его run. Неуспешный run возвращает свою ошибку.
func ResolveToData(ctx context.Context, v any) (any, error) {
	return collections.Walk(v, func(leaf any) (any, error) {
		f, ok := leaf.(*Future)
		if !ok {
			return leaf, nil
		}
		return f.Result(ctx, true)
	}, leaves)
}

// ResolveToStates заменяет каждый Future во вложенной структуре финальным
// состоянием его run.
func ResolveToStates(ctx context.Context, v any) (any, error) {
	return collections.Walk(v, func(leaf any) (any, error) {
		f, ok := leaf.(*Future)
		if !ok {
			return leaf, nil
		}
		return f.Wait(ctx, 0)
	}, leaves)
}

// CollectFutures возвращает все Future во вложенной структуре.
func CollectFutures(v any) []*Future {
	var out []*Future
	for _, leaf := range collections.Leaves(v, leaves) {
		if f, ok := leaf.(*Future); ok {
			out = append(out, f)
		}
	}
	return out
}

// CollectStates возвращает все состояния во вложенной структуре.
func CollectStates(v any) []*domain.State {
	var out []*domain.State
	for _, leaf := range collections.Leaves(v, leaves) {
		if s, ok := leaf.(*domain.State); ok && s != nil {
			out = append(out, s)
		}
	}
	return out
}
