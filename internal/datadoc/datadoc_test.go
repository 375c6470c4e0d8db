package datadoc

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string         `json:"name"`
	Count int            `json:"count"`
	Tags  []string       `json:"tags,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

func TestEncodeDecode_InlineFormats(t *testing.T) {
	for _, format := range Formats() {
		t.Run(format, func(t *testing.T) {
			in := payload{Name: "stars", Count: 3, Tags: []string{"a", "b"}}

			doc, err := Encode(format, in)
			require.NoError(t, err)
			assert.Equal(t, format, doc.Encoding)
			assert.True(t, doc.IsInline())

			var out payload
			require.NoError(t, Decode(doc, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestEncode_UnknownFormat(t *testing.T) {
	_, err := Encode("pickle", 1)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestDecode_RemoteDocumentIsNotInline(t *testing.T) {
	doc := &Document{Encoding: "redis+json", Blob: []byte("weaver:result:x")}
	assert.False(t, doc.IsInline())

	var v any
	assert.ErrorIs(t, Decode(doc, &v), ErrNotInline)
}

func TestDecode_NilDocument(t *testing.T) {
	var v any
	assert.ErrorIs(t, Decode(nil, &v), ErrNotFound)
}

func TestInlineStore_GenericValues(t *testing.T) {
	store := NewInlineStore()
	ctx := context.Background()

	doc, err := store.Encode(ctx, FormatJSON, map[string]any{"ok": true, "items": []any{"x"}})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, store.Decode(ctx, doc, &out))
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, []any{"x"}, out["items"])
}

func TestRedisStore_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := DialRedis(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	store := NewRedisStore(RedisConfig{Client: client, Prefix: "weaver:test:", TTL: time.Minute})
	ctx := context.Background()

	doc, err := store.Encode(ctx, FormatMsgpack, payload{Name: "remote", Count: 7})
	require.NoError(t, err)
	assert.Equal(t, "redis+msgpack", doc.Encoding)
	assert.False(t, doc.IsInline())

	var out payload
	require.NoError(t, store.Decode(ctx, doc, &out))
	assert.Equal(t, "remote", out.Name)
	assert.Equal(t, 7, out.Count)

	require.NoError(t, store.Delete(ctx, doc))
	assert.ErrorIs(t, store.Decode(ctx, doc, &out), ErrNotFound)
}

func TestDialRedis_InvalidURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "http://localhost:6379")
	assert.ErrorContains(t, err, "parse redis url")
}

func TestRedisStore_DecodesInlineDocuments(t *testing.T) {
	store := NewRedisStore(RedisConfig{})
	doc, err := Encode(FormatJSON, 42)
	require.NoError(t, err)

	var out int
	require.NoError(t, store.Decode(context.Background(), doc, &out))
	assert.Equal(t, 42, out)
}
