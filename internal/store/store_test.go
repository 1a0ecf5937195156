package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/testutil"
)

// openTestStore opens a store in a temp dir with a deterministic clock and
// a private metrics registry.
func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRegisterer(prometheus.NewRegistry()),
		WithClock(testutil.NewDeterministicClock()),
	}
	s, err := Open(path, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type attrDecl struct {
	ident       ir.Keyword
	valueType   ir.Keyword
	cardinality ir.Keyword
	unique      ir.Keyword
}

func installAttrs(t *testing.T, s *Store, decls ...attrDecl) {
	t.Helper()
	var edits []ir.Edit
	for _, d := range decls {
		tmp := fact.TempID(fact.PartDB, string(d.ident))
		edits = append(edits,
			ir.Add(tmp, fact.AttrIdent, d.ident),
			ir.Add(tmp, fact.AttrValueType, d.valueType),
			ir.Add(tmp, fact.AttrCardinality, d.cardinality),
		)
		if d.unique != "" {
			edits = append(edits, ir.Add(tmp, fact.AttrUnique, d.unique))
		}
	}
	_, err := s.Transact(context.Background(), edits)
	require.NoError(t, err)
}

var personAttrs = []attrDecl{
	{"person/name", fact.TypeString, fact.CardinalityOne, ""},
	{"person/friend", fact.TypeRef, fact.CardinalityMany, ""},
	{"person/email", fact.TypeString, fact.CardinalityOne, fact.UniqueIdentity},
	{"person/age", fact.TypeLong, fact.CardinalityOne, ""},
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.NotEmpty(t, s.ID())
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	reg := prometheus.NewRegistry()

	s1, err := Open(path, WithRegisterer(reg))
	require.NoError(t, err)
	id := s1.ID()
	require.NoError(t, s1.Close())

	// reopening keeps identity and does not reinstall built-ins
	s2, err := Open(path, WithRegisterer(reg))
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, id, s2.ID())
	snap, err := s2.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.BasisT())
}

func TestOpen_Pragmas(t *testing.T) {
	s := openTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestBuiltinAttributes(t *testing.T) {
	s := openTestStore(t)
	snap, err := s.Snapshot()
	require.NoError(t, err)

	tests := []struct {
		ident     ir.Keyword
		valueType ir.Keyword
		unique    ir.Keyword
	}{
		{fact.AttrIdent, fact.TypeKeyword, fact.UniqueIdentity},
		{fact.AttrValueType, fact.TypeKeyword, ""},
		{fact.AttrCardinality, fact.TypeKeyword, ""},
		{fact.AttrUnique, fact.TypeKeyword, ""},
		{fact.AttrDoc, fact.TypeString, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.ident), func(t *testing.T) {
			def, ok, err := snap.Attribute(tt.ident)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.valueType, def.ValueType)
			assert.Equal(t, fact.CardinalityOne, def.Cardinality)
			assert.Equal(t, tt.unique, def.Unique)
			assert.NotEmpty(t, def.Doc)
		})
	}

	_, ok, err := snap.Attribute("person/name")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransact_TempIDsResolveOnce(t *testing.T) {
	s := openTestStore(t)
	installAttrs(t, s, personAttrs...)

	a := fact.TempID(fact.PartUser, "a")
	b := fact.TempID(fact.PartUser, "b")
	out, err := s.Transact(context.Background(), []ir.Edit{
		ir.Add(a, "person/name", ir.String("ada")),
		ir.Add(a, "person/friend", b),
		ir.Add(b, "person/name", ir.String("bob")),
	})
	require.NoError(t, err)

	require.Len(t, out.TempIDs, 2)
	aid, bid := out.TempIDs[a], out.TempIDs[b]
	assert.NotEqual(t, aid, bid)

	assert.Equal(t, []ir.Datom{
		{E: aid, A: "person/name", V: ir.String("ada"), Tx: 3, Added: true},
		{E: aid, A: "person/friend", V: bid, Tx: 3, Added: true},
		{E: bid, A: "person/name", V: ir.String("bob"), Tx: 3, Added: true},
	}, out.Data)

	view, ok, err := out.After.Entity(aid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.String("ada"), view.Get("person/name"))
	assert.Equal(t, ir.MustSet(bid), view.Get("person/friend"))

	_, ok, err = out.Before.Entity(aid)
	require.NoError(t, err)
	assert.False(t, ok, "before snapshot must not see the new entity")
}

func TestTransact_CardinalityOneReplaces(t *testing.T) {
	s := openTestStore(t)
	installAttrs(t, s, personAttrs...)
	ctx := context.Background()

	a := fact.TempID(fact.PartUser, "a")
	first, err := s.Transact(ctx, []ir.Edit{ir.Add(a, "person/name", ir.String("hello"))})
	require.NoError(t, err)
	id := first.TempIDs[a]

	second, err := s.Transact(ctx, []ir.Edit{ir.Add(id, "person/name", ir.String("world"))})
	require.NoError(t, err)
	assert.Equal(t, []ir.Datom{
		{E: id, A: "person/name", V: ir.String("hello"), Tx: 4, Added: false},
		{E: id, A: "person/name", V: ir.String("world"), Tx: 4, Added: true},
	}, second.Data)

	old, _, err := first.After.Entity(id)
	require.NoError(t, err)
	assert.Equal(t, ir.String("hello"), old.Get("person/name"))

	cur, _, err := second.After.Entity(id)
	require.NoError(t, err)
	assert.Equal(t, ir.String("world"), cur.Get("person/name"))
}

func TestTransact_RedundantAssertionIsElided(t *testing.T) {
	s := openTestStore(t)
	installAttrs(t, s, personAttrs...)
	ctx := context.Background()

	a := fact.TempID(fact.PartUser, "a")
	first, err := s.Transact(ctx, []ir.Edit{ir.Add(a, "person/name", ir.String("same"))})
	require.NoError(t, err)

	out, err := s.Transact(ctx, []ir.Edit{ir.Add(first.TempIDs[a], "person/name", ir.String("same"))})
	require.NoError(t, err)
	assert.Empty(t, out.Data)
}

func TestTransact_RetractValue(t *testing.T) {
	s := openTestStore(t)
	installAttrs(t, s, personAttrs...)
	ctx := context.Background()

	a := fact.TempID(fact.PartUser, "a")
	b := fact.TempID(fact.PartUser, "b")
	c := fact.TempID(fact.PartUser, "c")
	first, err := s.Transact(ctx, []ir.Edit{
		ir.Add(a, "person/name", ir.String("ada")),
		ir.Add(b, "person/name", ir.String("bob")),
		ir.Add(c, "person/name", ir.String("cy")),
		ir.Add(a, "person/friend", b),
		ir.Add(a, "person/friend", c),
	})
	require.NoError(t, err)
	aid, bid, cid := first.TempIDs[a], first.TempIDs[b], first.TempIDs[c]

	out, err := s.Transact(ctx, []ir.Edit{
		ir.Retract(aid, "person/friend", bid),
		ir.Retract(aid, "person/age", ir.Long(3)), // not present: no-op
	})
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	assert.False(t, out.Data[0].Added)

	view, _, err := out.After.Entity(aid)
	require.NoError(t, err)
	assert.Equal(t, ir.MustSet(cid), view.Get("person/friend"))
}

func TestTransact_RetractEntityRemovesReferences(t *testing.T) {
	s := openTestStore(t)
	installAttrs(t, s, personAttrs...)
	ctx := context.Background()

	a := fact.TempID(fact.PartUser, "a")
	b := fact.TempID(fact.PartUser, "b")
	first, err := s.Transact(ctx, []ir.Edit{
		ir.Add(a, "person/name", ir.String("ada")),
		ir.Add(b, "person/name", ir.String("bob")),
		ir.Add(a, "person/friend", b),
	})
	require.NoError(t, err)
	aid, bid := first.TempIDs[a], first.TempIDs[b]

	out, err := s.Transact(ctx, []ir.Edit{ir.RetractEntity(bid)})
	require.NoError(t, err)
	assert.Len(t, out.Data, 2)

	_, ok, err := out.After.Entity(bid)
	require.NoError(t, err)
	assert.False(t, ok)

	view, ok, err := out.After.Entity(aid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, view.Get("person/friend"))

	refs, err := first.After.Referrers("person/friend", bid)
	require.NoError(t, err)
	assert.Equal(t, []ir.EntityID{aid}, refs)
}

func TestTransact_Rejections(t *testing.T) {
	s := openTestStore(t)
	installAttrs(t, s, personAttrs...)
	ctx := context.Background()

	a := fact.TempID(fact.PartUser, "a")
	existing, err := s.Transact(ctx, []ir.Edit{
		ir.Add(a, "person/name", ir.String("ada")),
		ir.Add(a, "person/email", ir.String("ada@example.com")),
	})
	require.NoError(t, err)
	aid := existing.TempIDs[a]

	tests := []struct {
		name  string
		edits []ir.Edit
		code  ir.Keyword
	}{
		{
			name: "unique conflict",
			edits: []ir.Edit{
				ir.Add(fact.TempID(fact.PartUser, "b"), "person/email", ir.String("ada@example.com")),
			},
			code: fact.ErrUniqueConflict,
		},
		{
			name:  "wrong type",
			edits: []ir.Edit{ir.Add(aid, "person/age", ir.String("old"))},
			code:  fact.ErrWrongType,
		},
		{
			name:  "ref to unknown ident",
			edits: []ir.Edit{ir.Add(aid, "person/friend", ir.Keyword("no/such"))},
			code:  fact.ErrNotAnEntity,
		},
		{
			name:  "unknown attribute",
			edits: []ir.Edit{ir.Add(aid, "person/nope", ir.String("x"))},
			code:  fact.ErrNotAnAttribute,
		},
		{
			name:  "unknown entity",
			edits: []ir.Edit{ir.Add(ir.EntityID(9999), "person/name", ir.String("x"))},
			code:  fact.ErrNotAnEntity,
		},
		{
			name:  "unknown partition",
			edits: []ir.Edit{ir.Add(fact.TempID("db.part/nope", "x"), "person/name", ir.String("x"))},
			code:  fact.ErrNotAnEntity,
		},
		{
			name: "conflicting cardinality one",
			edits: []ir.Edit{
				ir.Add(aid, "person/name", ir.String("x")),
				ir.Add(aid, "person/name", ir.String("y")),
			},
			code: fact.ErrDatomsConflict,
		},
		{
			name: "assert and retract same datom",
			edits: []ir.Edit{
				ir.Add(aid, "person/age", ir.Long(3)),
				ir.Retract(aid, "person/age", ir.Long(3)),
			},
			code: fact.ErrDatomsConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Transact(ctx, tt.edits)
			require.Error(t, err)
			code, ok := fact.StoreErrorCode(err)
			require.True(t, ok, "expected store error, got %v", err)
			assert.Equal(t, tt.code, code)

			snap, err := s.Snapshot()
			require.NoError(t, err)
			assert.Equal(t, existing.After.BasisT(), snap.BasisT(), "rejected transaction must not be visible")
		})
	}
}

func TestTransact_StoreErrorTextParses(t *testing.T) {
	s := openTestStore(t)
	installAttrs(t, s, personAttrs...)
	ctx := context.Background()

	a := fact.TempID(fact.PartUser, "a")
	first, err := s.Transact(ctx, []ir.Edit{ir.Add(a, "person/email", ir.String("x@y"))})
	require.NoError(t, err)
	aid := first.TempIDs[a]

	_, err = s.Transact(ctx, []ir.Edit{ir.Add(fact.TempID(fact.PartUser, "b"), "person/email", ir.String("x@y"))})
	require.Error(t, err)
	uc, perr := fact.ParseUniqueConflict(err.Error())
	require.NoError(t, perr)
	assert.Equal(t, ir.Keyword("person/email"), uc.Attribute)
	assert.Equal(t, aid, uc.ExistingID)
	assert.Equal(t, `"x@y"`, uc.Value)

	_, err = s.Transact(ctx, []ir.Edit{ir.Add(aid, "person/age", ir.Bool(true))})
	require.Error(t, err)
	wt, perr := fact.ParseWrongType(err.Error())
	require.NoError(t, perr)
	assert.Equal(t, "long", wt.Type)
	assert.Equal(t, "true", wt.Value)
}

func TestAsOf(t *testing.T) {
	s := openTestStore(t)
	installAttrs(t, s, personAttrs...)

	snap, err := s.AsOf(1)
	require.NoError(t, err)
	_, ok, err := snap.Attribute("person/name")
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err = s.AsOf(2)
	require.NoError(t, err)
	_, ok, err = snap.Attribute("person/name")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.AsOf(3)
	assert.Error(t, err)

	instant, err := snap.Instant(context.Background())
	require.NoError(t, err)
	assert.True(t, instant.After(testutil.Epoch))
}

func TestSnapshot_ID(t *testing.T) {
	s := openTestStore(t)
	a, err := s.Snapshot()
	require.NoError(t, err)
	b, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())

	installAttrs(t, s, personAttrs...)
	c, err := s.Snapshot()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), c.ID())
	assert.Equal(t, s.ID(), c.ID().Store)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := openTestStore(t, WithRegisterer(reg))
	installAttrs(t, s, personAttrs...)

	_, err := s.Transact(context.Background(), []ir.Edit{
		ir.Add(ir.EntityID(9999), "person/name", ir.String("x")),
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.transactions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.transactions.WithLabelValues("rejected")))
	// 4 attributes, 3 datoms each, plus one db/unique
	assert.Equal(t, 13.0, promtest.ToFloat64(s.metrics.datoms.WithLabelValues("add")))
}

func TestCacheDisabled(t *testing.T) {
	s := openTestStore(t, WithCacheSize(0))
	installAttrs(t, s, personAttrs...)
	assert.Nil(t, s.entities)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	def, ok, err := snap.Attribute("person/friend")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, def.Many())
}
