package model

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/store"
	"github.com/roach88/dalton/internal/testutil"
	"github.com/roach88/dalton/internal/validate"
)

type blog struct {
	author *Model
	post   *Model
	page   *Model
}

// blogModels declares three models in the blog namespace. page stores its
// title under post's title attribute, so only the type tag tells a page
// from a post.
func blogModels() blog {
	author := MustNew(Decl{
		Name:      "author",
		Namespace: "blog",
		Attrs: []AttrDecl{
			{Name: "name", Type: String(), Doc: "Display name"},
			{Name: "email", Type: String(), Unique: fact.UniqueValue},
			{Name: "posts", Inverse: &InverseDecl{Model: "post", From: "author"}},
		},
		Validator: validate.New().
			Add(validate.Required("name")).
			Add(validate.Pattern("email", regexp.MustCompile(`^[^@]+@[^@]+$`))),
	})
	post := MustNew(Decl{
		Name:      "post",
		Namespace: "blog",
		Attrs: []AttrDecl{
			{Name: "title", Type: String(), Doc: "Headline"},
			{Name: "body", Type: String()},
			{Name: "views", Type: Long(), Default: int64(0)},
			{Name: "published_at", Type: Instant()},
			{Name: "tags", Type: SetOfType(Keyword())},
			{Name: "author", Type: RefTo("author")},
			{Name: "related", Type: SetOfType(RefTo("post"))},
		},
		Validator: validate.New().Add(validate.Required("title")),
	})
	page := MustNew(Decl{
		Name:      "page",
		Namespace: "blog",
		Attrs: []AttrDecl{
			{Name: "title", Ident: "blog.post/title", Type: String()},
		},
	})
	return blog{author: author, post: post, page: page}
}

// countingConn records how many transactions reach the store.
type countingConn struct {
	fact.Conn
	transacts int
}

func (c *countingConn) Transact(ctx context.Context, edits []ir.Edit) (*fact.TxOutcome, error) {
	c.transacts++
	return c.Conn.Transact(ctx, edits)
}

type fixture struct {
	blog
	store *store.Store
	conn  *countingConn
	repo  *Repo
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture opens a store in a temp dir, installs the blog schema and
// returns a repo whose temp ids are t1, t2, ... in blog's partition.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := blogModels()
	s, conn, repo := openRepo(t, b.author, b.post, b.page)
	return &fixture{blog: b, store: s, conn: conn, repo: repo}
}

// openRepo installs models, all in the blog namespace, into a fresh store.
func openRepo(t *testing.T, models ...*Model) (*store.Store, *countingConn, *Repo) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "blog.db"),
		store.WithLogger(discardLogger()),
		store.WithRegisterer(prometheus.NewRegistry()),
		store.WithClock(testutil.NewDeterministicClock()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg, err := NewRegistry(models...)
	require.NoError(t, err)

	conn := &countingConn{Conn: s}
	repo := NewRepo(conn, reg,
		WithLogger(discardLogger()),
		WithTempIDs(testutil.NewSequentialTempIDs().Next),
	)

	ctx := context.Background()
	require.NoError(t, repo.InstallBase(ctx, "blog", "blog"))
	for _, m := range reg.Models() {
		_, err := repo.InstallSchema(ctx, m)
		require.NoError(t, err)
	}
	conn.transacts = 0
	return s, conn, repo
}

// tmp returns the n-th temp id the fixture's repo hands out.
func tmp(n int) ir.TempID {
	return ir.TempID{Partition: "db.part/blog", Key: "t" + strconv.Itoa(n)}
}

func (f *fixture) insertPost(t *testing.T, fn func(c *Changer) error) *Instance {
	t.Helper()
	inst, err := f.repo.Insert(context.Background(), f.post, fn)
	require.NoError(t, err)
	return inst
}

func (f *fixture) insertAuthor(t *testing.T, name, email string) *Instance {
	t.Helper()
	inst, err := f.repo.Insert(context.Background(), f.author, func(c *Changer) error {
		if err := c.Assign("name", name); err != nil {
			return err
		}
		return c.Assign("email", email)
	})
	require.NoError(t, err)
	return inst
}

func titled(title string) func(c *Changer) error {
	return func(c *Changer) error { return c.Assign("title", title) }
}
