package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/queryir"
	"github.com/roach88/dalton/internal/translate"
)

// fakeSnapshot serves entity views from a map and counts fetches.
type fakeSnapshot struct {
	basis    int64
	entities map[ir.EntityID]map[ir.Keyword]ir.Value
	fetches  int
	err      error
}

func (f *fakeSnapshot) ID() fact.SnapshotID { return fact.SnapshotID{Store: "fake", BasisT: f.basis} }
func (f *fakeSnapshot) BasisT() int64       { return f.basis }

func (f *fakeSnapshot) Entity(id ir.EntityID) (fact.EntityView, bool, error) {
	f.fetches++
	if f.err != nil {
		return fact.EntityView{}, false, f.err
	}
	attrs, ok := f.entities[id]
	if !ok {
		return fact.EntityView{}, false, nil
	}
	return fact.EntityView{ID: id, Attrs: attrs}, true, nil
}

func (f *fakeSnapshot) Attribute(ir.Keyword) (fact.AttributeDef, bool, error) {
	return fact.AttributeDef{}, false, nil
}

func (f *fakeSnapshot) Referrers(attr ir.Keyword, id ir.EntityID) ([]ir.EntityID, error) {
	var out []ir.EntityID
	for e := 1; e <= 100; e++ {
		attrs, ok := f.entities[ir.EntityID(e)]
		if !ok {
			continue
		}
		switch v := attrs[attr].(type) {
		case ir.EntityID:
			if v == id {
				out = append(out, ir.EntityID(e))
			}
		case ir.Set:
			if v.Contains(id) {
				out = append(out, ir.EntityID(e))
			}
		}
	}
	return out, nil
}

func (f *fakeSnapshot) Query(context.Context, queryir.Query) ([]ir.Seq, error) {
	return nil, errors.New("not supported")
}

func blogSnapshot() *fakeSnapshot {
	return &fakeSnapshot{
		basis: 5,
		entities: map[ir.EntityID]map[ir.Keyword]ir.Value{
			1: {
				"blog.post/title":  ir.String("hello"),
				"blog.post/author": ir.EntityID(2),
				"blog.post/tags":   ir.MustSet(ir.Keyword("go"), ir.Keyword("db")),
			},
			2: {"blog.user/name": ir.String("ada")},
			3: {"blog.post/author": ir.EntityID(2), "blog.post/title": ir.String("second")},
		},
	}
}

func TestHandle_GetScalar(t *testing.T) {
	snap := blogSnapshot()
	h := New(snap, 1)

	v, err := h.Get("blog.post/title")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = h.Get("blog.post/missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestHandle_FetchesOnce(t *testing.T) {
	snap := blogSnapshot()
	h := New(snap, 1)
	assert.Equal(t, 0, snap.fetches, "handles are lazy")

	for i := 0; i < 3; i++ {
		_, err := h.Get("blog.post/title")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, snap.fetches)
}

func TestHandle_ReferencePromotesToHandle(t *testing.T) {
	snap := blogSnapshot()
	h := New(snap, 1)

	v, err := h.Get("blog.post/author")
	require.NoError(t, err)
	author, ok := v.(*Handle)
	require.True(t, ok, "expected *Handle, got %T", v)
	assert.Equal(t, ir.EntityID(2), author.ID())
	assert.Same(t, snap, author.Snapshot().(*fakeSnapshot))

	name, err := author.Get("blog.user/name")
	require.NoError(t, err)
	assert.Equal(t, "ada", name)
}

func TestHandle_SetDecodesToSet(t *testing.T) {
	h := New(blogSnapshot(), 1)

	v, err := h.Get("blog.post/tags")
	require.NoError(t, err)
	tags, ok := v.(translate.Set)
	require.True(t, ok)
	assert.True(t, tags.Contains(translate.Symbol("go")))
	assert.Equal(t, 2, tags.Len())
}

func TestHandle_ReverseAttribute(t *testing.T) {
	h := New(blogSnapshot(), 2)

	v, err := h.Get("blog.post/_author")
	require.NoError(t, err)
	posts, ok := v.(translate.Set)
	require.True(t, ok)
	assert.Equal(t, 2, posts.Len())
	assert.True(t, posts.Contains(ir.EntityID(1)))
	assert.True(t, posts.Contains(ir.EntityID(3)))

	// reverse attributes with no referrers are empty, not nil
	v, err = New(blogSnapshot(), 1).Get("blog.post/_author")
	require.NoError(t, err)
	assert.Equal(t, 0, v.(translate.Set).Len())
}

func TestReverseNaming(t *testing.T) {
	assert.True(t, IsReverse("blog.post/_author"))
	assert.False(t, IsReverse("blog.post/author"))
	assert.Equal(t, ir.Keyword("blog.post/author"), Forward("blog.post/_author"))
}

func TestHandle_Equal(t *testing.T) {
	snap := blogSnapshot()
	later := blogSnapshot()
	later.basis = 6

	assert.True(t, New(snap, 1).Equal(New(snap, 1)))
	assert.True(t, New(snap, 1).Equal(New(blogSnapshot(), 1)), "same store and basis")
	assert.False(t, New(snap, 1).Equal(New(snap, 2)))
	assert.False(t, New(snap, 1).Equal(New(later, 1)))
	assert.False(t, New(snap, 1).Equal(nil))
}

func TestHandle_ExistsAndKeys(t *testing.T) {
	snap := blogSnapshot()

	ok, err := New(snap, 1).Exists()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = New(snap, 42).Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := New(snap, 1).Keys()
	require.NoError(t, err)
	assert.Equal(t, []ir.Keyword{"blog.post/author", "blog.post/tags", "blog.post/title"}, keys)
}

func TestHandle_ToMap(t *testing.T) {
	m, err := New(blogSnapshot(), 1).ToMap()
	require.NoError(t, err)

	assert.Equal(t, "hello", m["blog.post/title"])
	assert.Equal(t, ir.EntityID(2), m["blog.post/author"])
	assert.Len(t, m, 3)
}

func TestHandle_FetchError(t *testing.T) {
	snap := blogSnapshot()
	snap.err = errors.New("boom")

	_, err := New(snap, 1).Get("blog.post/title")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestHandle_String(t *testing.T) {
	assert.Equal(t, "#<Entity 1 @5>", New(blogSnapshot(), 1).String())
}
