package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/translate"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		in   any
		want any
	}{
		{name: "nil", typ: String(), in: nil, want: nil},
		{name: "string", typ: String(), in: "hi", want: "hi"},
		{name: "number as text", typ: String(), in: 42, want: "42"},
		{name: "long from int", typ: Long(), in: 3, want: int64(3)},
		{name: "long from integral float", typ: Long(), in: 3.0, want: int64(3)},
		{name: "double from int", typ: Double(), in: 2, want: 2.0},
		{name: "double", typ: Double(), in: 2.5, want: 2.5},
		{name: "boolean", typ: Boolean(), in: true, want: true},
		{name: "keyword with colon", typ: Keyword(), in: ":blog.kind/news", want: translate.Symbol("blog.kind/news")},
		{name: "keyword bare", typ: Keyword(), in: "go", want: translate.Symbol("go")},
		{name: "instant", typ: Instant(), in: "2024-05-06T07:08:09Z", want: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)},
		{name: "ref by id", typ: RefTo("author"), in: 17, want: ir.EntityID(17)},
		{name: "ref by id text", typ: RefTo("author"), in: "17", want: ir.EntityID(17)},
		{name: "set from list", typ: SetOfType(Keyword()), in: []any{"a", ":b"}, want: kw("a", "b")},
		{name: "set from single value", typ: SetOfType(Keyword()), in: "a", want: kw("a")},
		{name: "auto int", typ: Auto(), in: 7, want: int64(7)},
		{name: "auto list", typ: Auto(), in: []any{"x"}, want: translate.MustSet("x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.typ, tt.in, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceRejects(t *testing.T) {
	_, err := Coerce(Long(), 1.5, nil)
	assert.ErrorContains(t, err, "not an integer")

	_, err = Coerce(Instant(), "yesterday", nil)
	assert.Error(t, err)

	_, err = Coerce(RefTo("author"), "@ada", nil)
	assert.ErrorContains(t, err, "not an entity id")
}

func TestCoerceResolvesReferences(t *testing.T) {
	aliases := map[string]any{"@ada": ir.EntityID(5)}
	resolve := func(s string) (any, error) {
		if v, ok := aliases[s]; ok {
			return v, nil
		}
		return nil, errors.New("unknown alias " + s)
	}

	got, err := Coerce(SetOfType(RefTo("author")), []any{"@ada", 9}, resolve)
	require.NoError(t, err)
	assert.Equal(t, translate.MustSet(ir.EntityID(5), ir.EntityID(9)), got)

	_, err = Coerce(RefTo("author"), "@bob", resolve)
	assert.ErrorContains(t, err, "unknown alias @bob")
}

func TestCoerceFeedsAssign(t *testing.T) {
	f := newFixture(t)
	c, err := f.repo.Create(f.post, nil)
	require.NoError(t, err)

	for name, in := range map[string]any{"title": "t", "views": 3, "tags": []any{"go"}} {
		a, ok := f.post.Attribute(name)
		require.True(t, ok)
		v, err := Coerce(a.Type, in, nil)
		require.NoError(t, err)
		require.NoError(t, c.Assign(name, v), name)
	}
	assert.Equal(t, int64(3), c.Get("views"))
}
