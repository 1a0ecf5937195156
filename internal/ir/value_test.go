package ir

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyword(t *testing.T) {
	tests := []struct {
		in        string
		namespace string
		name      string
		str       string
	}{
		{in: ":blog.post/title", namespace: "blog.post", name: "title", str: ":blog.post/title"},
		{in: "db/ident", namespace: "db", name: "ident", str: ":db/ident"},
		{in: "go", namespace: "", name: "go", str: ":go"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k := KW(tt.in)
			assert.Equal(t, tt.namespace, k.Namespace())
			assert.Equal(t, tt.name, k.Name())
			assert.Equal(t, tt.str, k.String())
		})
	}
}

func TestSymbolIsVariable(t *testing.T) {
	assert.True(t, Symbol("?e").IsVariable())
	assert.True(t, Symbol("$").IsVariable())
	assert.False(t, Symbol("e").IsVariable())
	assert.False(t, HasVariableSigil(""))
}

func TestInstantTruncatesToMillis(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6_789_000, time.FixedZone("X", 3600))
	i := InstantOf(ts)
	assert.Equal(t, time.Date(2024, 1, 2, 2, 4, 5, 6_000_000, time.UTC), i.Time())
	assert.Equal(t, i, InstantOf(i.Time()))
}

func TestNewSet(t *testing.T) {
	s, err := NewSet(Keyword("go"), Keyword("db"), Keyword("go"))
	require.NoError(t, err)
	assert.Equal(t, Set{Keyword("db"), Keyword("go")}, s)

	empty, err := NewSet()
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = NewSet(String("a"), nil)
	assert.ErrorContains(t, err, "set[1]")

	assert.Panics(t, func() { MustSet(Double(math.NaN())) })
}

func TestSetContainsAndMinus(t *testing.T) {
	prev := MustSet(Keyword("go"), Keyword("db"))
	next := MustSet(Keyword("go"), Keyword("rust"))

	assert.True(t, prev.Contains(Keyword("db")))
	assert.False(t, prev.Contains(String("db")), "a string is not a keyword")
	assert.Equal(t, Set{Keyword("db")}, prev.Minus(next))
	assert.Equal(t, Set{Keyword("rust")}, next.Minus(prev))
	assert.Equal(t, Set{}, prev.Minus(prev))
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil and value", nil, String(""), false},
		{"same string", String("a"), String("a"), true},
		{"nfc forms", String("e\u0301"), String("\u00e9"), true},
		{"long is not double", Long(1), Double(1), false},
		{"keyword is not string", Keyword("a"), String("a"), false},
		{"ref is not long", EntityID(1), Long(1), false},
		{"set order", Set{Long(1), Long(2)}, Set{Long(2), Long(1)}, true},
		{"seq order", Seq{Long(1), Long(2)}, Seq{Long(2), Long(1)}, false},
		{"nan", Double(math.NaN()), Double(math.NaN()), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestTypeName(t *testing.T) {
	tests := map[string]Value{
		"nil":     nil,
		"string":  String(""),
		"long":    Long(0),
		"double":  Double(0),
		"boolean": Bool(false),
		"keyword": Keyword("a"),
		"symbol":  Symbol("?a"),
		"instant": Instant(0),
		"ref":     EntityID(1),
		"tempid":  TempID{},
		"set":     Set{},
		"seq":     Seq{},
	}
	for want, v := range tests {
		assert.Equal(t, want, TypeName(v))
	}
}
