package collections

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type marker struct{ id int }

type point struct {
	X    any `json:"x"`
	Y    int `json:"y"`
	note string
}

func double(leaf any) (any, error) {
	if n, ok := leaf.(int); ok {
		return n * 2, nil
	}
	return leaf, nil
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindSequence, Classify([]int{1}))
	assert.Equal(t, KindSequence, Classify([2]string{"a", "b"}))
	assert.Equal(t, KindMapping, Classify(map[string]int{}))
	assert.Equal(t, KindRecord, Classify(point{}))
	assert.Equal(t, KindRecord, Classify(&point{}))
	assert.Equal(t, KindLeaf, Classify(42))
	assert.Equal(t, KindLeaf, Classify(nil))
	assert.Equal(t, KindLeaf, Classify([]byte("raw")))
	assert.Equal(t, KindLeaf, Classify(uuid.New()))
	assert.Equal(t, KindLeaf, Classify(time.Now()))
	assert.Equal(t, KindLeaf, Classify((*point)(nil)))
	assert.Equal(t, KindLeaf, Classify(Quote{Value: []int{1}}))
	assert.Equal(t, "mapping", KindMapping.String())
}

func TestClassify_CustomLeaves(t *testing.T) {
	isMarker := WithLeaves(func(v any) bool {
		_, ok := v.(*marker)
		return ok
	})
	assert.Equal(t, KindLeaf, Classify(&marker{}, isMarker))
	assert.Equal(t, KindLeaf, Classify(&marker{}))
}

func TestWalk_PreservesShape(t *testing.T) {
	in := map[string]any{
		"list":  []any{1, "a", []int{2, 3}},
		"point": point{X: 4, Y: 5, note: "keep"},
		"ptr":   &point{X: []any{6}, Y: 7},
		"raw":   []byte{1, 2},
	}

	out, err := Walk(in, double)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, []any{2, "a", []int{4, 6}}, m["list"])
	assert.Equal(t, point{X: 8, Y: 10, note: "keep"}, m["point"])
	assert.Equal(t, &point{X: []any{12}, Y: 14}, m["ptr"])
	assert.Equal(t, []byte{1, 2}, m["raw"])

	// исходные данные не изменяются
	assert.Equal(t, []any{1, "a", []int{2, 3}}, in["list"])
}

func TestWalk_WidensWhenTypeDoesNotFit(t *testing.T) {
	toString := func(leaf any) (any, error) {
		if n, ok := leaf.(int); ok {
			return string(rune('a' + n)), nil
		}
		return leaf, nil
	}

	out, err := Walk([]int{0, 1}, toString)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)

	out, err = Walk(map[string]int{"k": 2}, toString)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "c"}, out)

	out, err = Walk(struct {
		N int `json:"n"`
	}{N: 3}, toString)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": "d"}, out)
}

func TestWalk_QuoteIsNotDescended(t *testing.T) {
	q := Quote{Value: []int{1, 2}}
	out, err := Walk([]any{q, 3}, double)
	require.NoError(t, err)

	items := out.([]any)
	assert.Equal(t, q, items[0])
	assert.Equal(t, []int{1, 2}, Unquote(items[0]))
	assert.Equal(t, 6, items[1])
	assert.Equal(t, 5, Unquote(5))
}

func TestWalk_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Walk(map[string]any{"a": []any{1}}, func(any) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWalk_NilContainers(t *testing.T) {
	var s []int
	out, err := Walk(s, double)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = Walk([]any{nil, 1}, double)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, 2}, out)
}

func TestLeaves(t *testing.T) {
	a, b, c := &marker{1}, &marker{2}, &marker{3}
	in := map[string]any{"a": []any{a, b}, "b": c}

	leaves := Leaves(in)
	assert.Equal(t, []any{a, b, c}, leaves)
}

func TestBatched(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Batched([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2}}, Batched([]int{1, 2}, 0))
	assert.Empty(t, Batched([]int{}, 3))
}
