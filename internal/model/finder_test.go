package model

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/queryir"
)

func ids(insts []*Instance) []ir.EntityID {
	out := make([]ir.EntityID, len(insts))
	for i, inst := range insts {
		out[i] = inst.ID()
	}
	return out
}

func TestFinder_TypeIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.insertPost(t, titled("shared"))
	page, err := f.repo.Insert(ctx, f.page, titled("shared"))
	require.NoError(t, err)

	posts, err := f.repo.Latest(f.post)
	require.NoError(t, err)
	posts, err = posts.By("title", "shared")
	require.NoError(t, err)
	found, err := posts.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.EntityID{post.ID()}, ids(found))

	pages, err := f.repo.Latest(f.page)
	require.NoError(t, err)
	pages, err = pages.By("title", "shared")
	require.NoError(t, err)
	found, err = pages.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.EntityID{page.ID()}, ids(found))

	_, err = posts.Entity(page.ID())
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "post", nf.Model)
	assert.Equal(t, page.ID(), nf.ID)
	assert.Equal(t, fmt.Sprintf("Could not find post with id %d", page.ID()), err.Error())

	_, err = posts.Entity(ir.EntityID(99999))
	assert.True(t, IsNotFound(err))
}

func TestFinder_WhereDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	base, err := f.repo.Latest(f.post)
	require.NoError(t, err)

	a, err := base.By("title", "a")
	require.NoError(t, err)
	b, err := base.By("title", "b")
	require.NoError(t, err)

	assert.Len(t, base.Constraints(), 1)
	assert.Len(t, a.Constraints(), 2)
	assert.Len(t, b.Constraints(), 2)
	assert.Equal(t, queryir.C(ir.String("a")), a.Constraints()[1].V)
	assert.Equal(t, queryir.C(ir.String("b")), b.Constraints()[1].V)
}

func TestFinder_String(t *testing.T) {
	f := newFixture(t)
	base, err := f.repo.Latest(f.post)
	require.NoError(t, err)
	fd, err := base.Where(Attrs{"views": 3, "title": "hi"})
	require.NoError(t, err)

	want := fmt.Sprintf(`#<Finder post #<Snapshot %d> :where [[?e :blog/type :blog.type/post] [?e :blog.post/title "hi"] [?e :blog.post/views 3]]>`,
		base.Snapshot().BasisT())
	assert.Equal(t, want, fd.String())
	assert.Equal(t,
		`[:find ?e :where [?e :blog/type :blog.type/post] [?e :blog.post/title "hi"] [?e :blog.post/views 3]]`,
		fd.Query().String())
}

func TestFinder_Constraints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.insertAuthor(t, "ada", "ada@example.com")
	bob := f.insertAuthor(t, "bob", "bob@example.com")

	p1 := f.insertPost(t, func(c *Changer) error {
		if err := c.Assign("title", "one"); err != nil {
			return err
		}
		if err := c.Assign("tags", kw("go", "db")); err != nil {
			return err
		}
		return c.Assign("author", ada)
	})
	p2 := f.insertPost(t, func(c *Changer) error {
		if err := c.Assign("title", "two"); err != nil {
			return err
		}
		if err := c.Assign("tags", kw("go")); err != nil {
			return err
		}
		return c.Assign("author", bob)
	})

	posts, err := f.repo.Latest(f.post)
	require.NoError(t, err)
	authors, err := f.repo.Latest(f.author)
	require.NoError(t, err)

	tests := []struct {
		name   string
		finder Finder
		where  []Constraint
		want   []ir.EntityID
	}{
		{name: "no constraints", finder: posts, want: []ir.EntityID{p1.ID(), p2.ID()}},
		{name: "reference given as instance", finder: posts, where: []Constraint{Attrs{"author": ada}}, want: []ir.EntityID{p1.ID()}},
		{name: "set member", finder: posts, where: []Constraint{Attrs{"tags": kw("go")}}, want: []ir.EntityID{p1.ID(), p2.ID()}},
		{name: "every set member", finder: posts, where: []Constraint{Attrs{"tags": kw("go", "db")}}, want: []ir.EntityID{p1.ID()}},
		{name: "inverse", finder: authors, where: []Constraint{Attrs{"posts": p2}}, want: []ir.EntityID{bob.ID()}},
		{
			name:   "raw clause",
			finder: posts,
			where: []Constraint{
				Raw(queryir.Clause{E: queryir.Var("?e"), A: queryir.C(ir.Keyword("blog.post/author")), V: queryir.Var("?a")}),
				Raw(queryir.Clause{E: queryir.Var("?a"), A: queryir.C(ir.Keyword("blog.author/name")), V: queryir.C(ir.String("bob"))}),
			},
			want: []ir.EntityID{p2.ID()},
		},
		{name: "no match", finder: posts, where: []Constraint{Attrs{"title": "three"}}, want: []ir.EntityID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd, err := tt.finder.Where(tt.where...)
			require.NoError(t, err)
			got, err := fd.Results(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestFinder_WhereRejects(t *testing.T) {
	f := newFixture(t)
	posts, err := f.repo.Latest(f.post)
	require.NoError(t, err)
	pending, err := f.repo.Create(f.author, nil)
	require.NoError(t, err)

	for name, attrs := range map[string]Attrs{
		"unknown attribute": {"subtitle": "x"},
		"nil value":         {"title": nil},
		"wrong type":        {"views": "many"},
		"unsaved reference": {"author": pending},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := posts.Where(attrs)
			assert.True(t, IsInvalidValue(err))
		})
	}
}

func TestFinder_AllIsRestartableAndPinned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.insertPost(t, titled("one"))

	posts, err := f.repo.Latest(f.post)
	require.NoError(t, err)
	seq := posts.All(ctx)

	collect := func() []ir.EntityID {
		var out []ir.EntityID
		for inst, err := range seq {
			require.NoError(t, err)
			out = append(out, inst.ID())
		}
		return out
	}
	assert.Equal(t, []ir.EntityID{p1.ID()}, collect())

	f.insertPost(t, titled("two"))
	assert.Equal(t, []ir.EntityID{p1.ID()}, collect(), "a later transaction is invisible to the finder's snapshot")

	first, err := posts.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, p1.ID(), first.ID())
}

func TestFinder_AllStopsEarly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertPost(t, titled("one"))
	f.insertPost(t, titled("two"))

	posts, err := f.repo.Latest(f.post)
	require.NoError(t, err)
	n := 0
	for range posts.All(ctx) {
		n++
		break
	}
	assert.Equal(t, 1, n)

	none, err := posts.By("title", "zzz")
	require.NoError(t, err)
	first, err := none.First(ctx)
	require.NoError(t, err)
	assert.Nil(t, first)
}
