package datadoc

import (
	"context"
	"errors"
	"fmt"
)

// Ошибки Data Reference Store.
var (
	// ErrUnknownFormat — формат сериализации не зарегистрирован.
	ErrUnknownFormat = errors.New("unknown data format")

	// ErrNotInline — документ ссылается на внешнее хранилище.
	ErrNotInline = errors.New("document is not inline")

	// ErrNotFound — данные по ссылке не найдены (например, истёк TTL).
	ErrNotFound = errors.New("data not found")
)

// Document — сериализованная ссылка на результат.
//
// Для inline-форматов Encoding совпадает с именем codec, а Blob содержит
// сами данные. Для внешних хранилищ Encoding имеет вид "<store>+<format>",
// а Blob содержит ключ.
type Document struct {
	Encoding string `json:"encoding"`
	Blob     []byte `json:"blob"`
}

// IsInline возвращает true, если данные лежат прямо в документе.
func (d *Document) IsInline() bool {
	_, ok := codecs[d.Encoding]
	return ok
}

// Encode сериализует значение в inline-документ.
func Encode(format string, v any) (*Document, error) {
	c, err := CodecFor(format)
	if err != nil {
		return nil, err
	}
	blob, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return &Document{Encoding: c.Name(), Blob: blob}, nil
}

// Decode десериализует inline-документ в v.
func Decode(doc *Document, v any) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrNotFound)
	}
	c, ok := codecs[doc.Encoding]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInline, doc.Encoding)
	}
	if err := c.Unmarshal(doc.Blob, v); err != nil {
		return fmt.Errorf("decode %s: %w", doc.Encoding, err)
	}
	return nil
}

// Store — Data Reference Store.
type Store interface {
	Encode(ctx context.Context, format string, v any) (*Document, error)
	Decode(ctx context.Context, doc *Document, v any) error
}

// InlineStore хранит данные прямо в документе.
type InlineStore struct{}

var _ Store = InlineStore{}

// NewInlineStore создаёт InlineStore.
func NewInlineStore() InlineStore {
	return InlineStore{}
}

// Encode сериализует значение в inline-документ.
func (InlineStore) Encode(_ context.Context, format string, v any) (*Document, error) {
	return Encode(format, v)
}

// Decode десериализует inline-документ.
func (InlineStore) Decode(_ context.Context, doc *Document, v any) error {
	return Decode(doc, v)
}
