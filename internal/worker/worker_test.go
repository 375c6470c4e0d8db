package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/datadoc"
	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/mq"
	"github.com/shaiso/Weaver/internal/taskrunner"
)

type published struct {
	id, replyTo string
	body        []byte
}

type fakePublisher struct {
	err  error
	sent []published
}

func (p *fakePublisher) PublishResult(_ context.Context, id, replyTo string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{id, replyTo, body})
	return nil
}

func testEnv() taskrunner.Env {
	return taskrunner.Env{
		Handlers: func(name string) (taskrunner.Handler, bool) {
			switch name {
			case "echo":
				return func(_ context.Context, kwargs map[string]any) (*domain.State, error) {
					return domain.Completed(kwargs["x"], ""), nil
				}, true
			case "broken":
				return func(context.Context, map[string]any) (*domain.State, error) {
					return nil, errors.New("store unavailable")
				}, true
			}
			return nil, false
		},
		Results: datadoc.NewInlineStore(),
	}
}

func workMessage(t *testing.T, handler string, replyTo string) (mq.Message, taskrunner.WorkItem) {
	t.Helper()
	item := taskrunner.WorkItem{
		ID:      uuid.New(),
		RunID:   uuid.New(),
		Handler: handler,
		Kwargs:  map[string]any{"x": "hello"},
	}
	body, err := taskrunner.EncodeWorkItem(item)
	if err != nil {
		t.Fatalf("EncodeWorkItem: %v", err)
	}
	return mq.Message{
		ID:      item.ID.String(),
		Type:    mq.MessageTypeWorkSubmitted,
		ReplyTo: replyTo,
		Body:    body,
	}, item
}

func TestNew_DefaultConfig(t *testing.T) {
	w := New(Config{})

	if w.prefetch != defaultPrefetch {
		t.Errorf("prefetch = %d, want %d", w.prefetch, defaultPrefetch)
	}
	if w.concurrency != defaultConcurrency {
		t.Errorf("concurrency = %d, want %d", w.concurrency, defaultConcurrency)
	}
	if w.logger == nil {
		t.Error("logger should be set")
	}
	if w.env.Logger == nil {
		t.Error("env logger should default to worker logger")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	w := New(Config{Prefetch: 20, Concurrency: 3})

	if w.prefetch != 20 {
		t.Errorf("prefetch = %d, want 20", w.prefetch)
	}
	if w.concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", w.concurrency)
	}
}

func TestWorker_IsStopped(t *testing.T) {
	w := New(Config{})

	if w.IsStopped() {
		t.Error("new worker should not be stopped")
	}

	w.Stop()

	if !w.IsStopped() {
		t.Error("worker should be stopped after Stop()")
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Start after Stop: err = %v, want ErrWorkerStopped", err)
	}
}

func TestHandleWorkSubmitted(t *testing.T) {
	pub := &fakePublisher{}
	w := New(Config{Publisher: pub, Env: testEnv()})

	msg, item := workMessage(t, "echo", "results.client")
	if err := w.handleWorkSubmitted(context.Background(), msg); err != nil {
		t.Fatalf("handleWorkSubmitted: %v", err)
	}

	if len(pub.sent) != 1 {
		t.Fatalf("published %d results, want 1", len(pub.sent))
	}
	sent := pub.sent[0]
	if sent.id != item.ID.String() || sent.replyTo != "results.client" {
		t.Errorf("published to %s/%s", sent.replyTo, sent.id)
	}

	res, err := taskrunner.DecodeWorkResult(sent.body)
	if err != nil {
		t.Fatalf("DecodeWorkResult: %v", err)
	}
	if res.ItemID != item.ID || res.RunID != item.RunID {
		t.Errorf("result ids = %s/%s", res.ItemID, res.RunID)
	}
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.State == nil || res.State.Type != domain.StateCompleted {
		t.Fatalf("state = %v, want COMPLETED", res.State)
	}
}

func TestHandleWorkSubmitted_HandlerError(t *testing.T) {
	pub := &fakePublisher{}
	w := New(Config{Publisher: pub, Env: testEnv()})

	msg, _ := workMessage(t, "broken", "results.client")
	if err := w.handleWorkSubmitted(context.Background(), msg); err != nil {
		t.Fatalf("handleWorkSubmitted: %v", err)
	}

	res, err := taskrunner.DecodeWorkResult(pub.sent[0].body)
	if err != nil {
		t.Fatalf("DecodeWorkResult: %v", err)
	}
	if res.Error == "" {
		t.Error("expected error in work result")
	}
}

func TestHandleWorkSubmitted_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		message  func(t *testing.T) mq.Message
	}{
		{
			name: "no reply_to",
			message: func(t *testing.T) mq.Message {
				m, _ := workMessage(t, "echo", "")
				return m
			},
		},
		{
			name: "garbage body",
			message: func(*testing.T) mq.Message {
				return mq.Message{ID: "x", Type: mq.MessageTypeWorkSubmitted, ReplyTo: "results.client", Body: []byte("not msgpack")}
			},
		},
		{
			name: "result in work queue",
			message: func(t *testing.T) mq.Message {
				m, _ := workMessage(t, "echo", "results.client")
				m.Type = mq.MessageTypeWorkCompleted
				return m
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			w := New(Config{Publisher: pub, Env: testEnv()})

			err := w.handleWorkSubmitted(context.Background(), tt.message(t))
			if !errors.Is(err, mq.ErrReject) {
				t.Errorf("err = %v, want ErrReject", err)
			}
			if len(pub.sent) != 0 {
				t.Errorf("published %d results, want 0", len(pub.sent))
			}
		})
	}
}

func TestHandleWorkSubmitted_PublishFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	w := New(Config{Publisher: pub, Env: testEnv()})

	msg, _ := workMessage(t, "echo", "results.client")
	err := w.handleWorkSubmitted(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, mq.ErrReject) {
		t.Error("publish failure should requeue, not reject")
	}
}
