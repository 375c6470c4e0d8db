package taskrunner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/collections"
	"github.com/shaiso/Weaver/internal/datadoc"
	"github.com/shaiso/Weaver/internal/domain"
)

// futureRefKey — ключ сериализованной ссылки на Future.
const futureRefKey = "$future"

// WorkItem — вызов, отправляемый в кластер.
type WorkItem struct {
	ID      uuid.UUID      `json:"id"`
	RunID   uuid.UUID      `json:"run_id"`
	Handler string         `json:"handler"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
}

// WorkResult — результат выполнения WorkItem.
type WorkResult struct {
	ItemID uuid.UUID     `json:"item_id"`
	RunID  uuid.UUID     `json:"run_id"`
	State  *domain.State `json:"state,omitempty"`
	Error  string        `json:"error,omitempty"`
}

var wireCodec, _ = datadoc.CodecFor(datadoc.FormatMsgpack)

// EncodeWorkItem сериализует WorkItem. Future в аргументах заменяются ссылками.
func EncodeWorkItem(item WorkItem) ([]byte, error) {
	kwargs, err := encodeFutures(item.Kwargs)
	if err != nil {
		return nil, err
	}
	item.Kwargs = kwargs
	return wireCodec.Marshal(item)
}

// DecodeWorkItem десериализует WorkItem. Ссылки на Future восстанавливаются
// и привязываются к env.
func DecodeWorkItem(data []byte, env Env) (WorkItem, error) {
	var item WorkItem
	if err := wireCodec.Unmarshal(data, &item); err != nil {
		return item, fmt.Errorf("decode work item: %w", err)
	}
	kwargs, err := decodeFutures(item.Kwargs, env)
	if err != nil {
		return item, err
	}
	item.Kwargs = kwargs
	return item, nil
}

// EncodeWorkResult сериализует WorkResult.
func EncodeWorkResult(res WorkResult) ([]byte, error) {
	return wireCodec.Marshal(res)
}

// DecodeWorkResult десериализует WorkResult.
func DecodeWorkResult(data []byte) (WorkResult, error) {
	var res WorkResult
	if err := wireCodec.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("decode work result: %w", err)
	}
	return res, nil
}

// ExecuteWorkItem выполняет сериализованный WorkItem обработчиком из env
// и возвращает сериализованный WorkResult. Ошибка возвращается, только
// если WorkItem не удалось прочитать: ответить на него невозможно.
func ExecuteWorkItem(ctx context.Context, env Env, data []byte) ([]byte, error) {
	item, err := DecodeWorkItem(data, env)
	if err != nil {
		return nil, err
	}

	res := WorkResult{ItemID: item.ID, RunID: item.RunID}
	state, err := runWorkItem(ctx, env, item)
	if err != nil {
		env.logger().Error("work item failed",
			"item_id", item.ID,
			"run_id", item.RunID,
			"handler", item.Handler,
			"error", err,
		)
		res.Error = err.Error()
	} else {
		res.State = state
	}

	return EncodeWorkResult(res)
}

func runWorkItem(ctx context.Context, env Env, item WorkItem) (*domain.State, error) {
	fn, err := Call{Handler: item.Handler, Kwargs: item.Kwargs}.local(env)
	if err != nil {
		return nil, err
	}

	state, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.New("handler returned no state")
	}
	if env.Results != nil {
		return state.Encode(ctx, env.Results, env.format())
	}
	return state.Encode(ctx, datadoc.NewInlineStore(), env.format())
}

func isFuture(v any) bool {
	_, ok := v.(*Future)
	return ok
}

func isFutureRef(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	_, ok = m[futureRefKey]
	return ok
}

// encodeFutures заменяет Future ссылками {"$future": {"run_id", "runner"}}.
func encodeFutures(kwargs map[string]any) (map[string]any, error) {
	if kwargs == nil {
		return nil, nil
	}
	out, err := collections.Walk(kwargs, func(leaf any) (any, error) {
		f, ok := leaf.(*Future)
		if !ok {
			return leaf, nil
		}
		settings := Settings{Kind: KindSequential}
		if f.runner != nil {
			settings = f.runner.Settings()
		}
		return map[string]any{
			futureRefKey: map[string]any{
				"run_id": f.RunID.String(),
				"runner": map[string]any{
					"kind":    settings.Kind,
					"address": settings.Address,
				},
			},
		}, nil
	}, collections.WithLeaves(isFuture))
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// decodeFutures восстанавливает Future из ссылок.
func decodeFutures(kwargs map[string]any, env Env) (map[string]any, error) {
	if kwargs == nil {
		return nil, nil
	}
	out, err := collections.Walk(kwargs, func(leaf any) (any, error) {
		if !isFutureRef(leaf) {
			return leaf, nil
		}
		return futureFromRef(leaf.(map[string]any)[futureRefKey], env)
	}, collections.WithLeaves(isFutureRef))
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func futureFromRef(raw any, env Env) (*Future, error) {
	ref, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid future reference: %v", raw)
	}

	id, _ := ref["run_id"].(string)
	runID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid future run id %q: %w", id, err)
	}

	var settings Settings
	if r, ok := ref["runner"].(map[string]any); ok {
		settings.Kind, _ = r["kind"].(string)
		settings.Address, _ = r["address"].(string)
	}
	runner, err := FromSettings(settings)
	if err != nil {
		return nil, err
	}

	return NewFuture(runID, false, runner, env), nil
}
