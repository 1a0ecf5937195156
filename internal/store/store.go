package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/dalton/internal/fact"
	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - Built-in attributes and partitions installed
const currentSchemaVersion = 1

const defaultCacheSize = 4096

// Clock supplies transaction instants.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	clock      Clock
	cacheSize  int
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer sets where store metrics are registered. Defaults to
// prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithClock sets the source of transaction instants.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCacheSize bounds the entity and attribute caches. Zero disables them.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

type entityKey struct {
	basis int64
	id    ir.EntityID
}

type attrKey struct {
	basis int64
	ident ir.Keyword
}

// Store is a fact store backed by SQLite. It implements fact.Conn.
type Store struct {
	db       *sql.DB
	id       string
	logger   *slog.Logger
	clock    Clock
	metrics  *metrics
	compiler *querysql.SQLCompiler

	// nil when caching is disabled
	entities *lru.Cache[entityKey, fact.EntityView]
	attrs    *lru.Cache[attrKey, fact.AttributeDef]

	// serialises Transact
	mu sync.Mutex
}

var _ fact.Conn = (*Store)(nil)

// Open creates or opens a store at path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		logger:     slog.Default(),
		registerer: prometheus.DefaultRegisterer,
		clock:      systemClock{},
		cacheSize:  defaultCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db, o.clock); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	var id string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'store_id'`).Scan(&id); err != nil {
		db.Close()
		return nil, fmt.Errorf("read store id: %w", err)
	}

	m, err := newMetrics(o.registerer)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	s := &Store{
		db:       db,
		id:       id,
		logger:   o.logger,
		clock:    o.clock,
		metrics:  m,
		compiler: querysql.NewSQLCompiler(),
	}
	if o.cacheSize > 0 {
		if s.entities, err = lru.New[entityKey, fact.EntityView](o.cacheSize); err != nil {
			db.Close()
			return nil, fmt.Errorf("create entity cache: %w", err)
		}
		if s.attrs, err = lru.New[attrKey, fact.AttributeDef](o.cacheSize); err != nil {
			db.Close()
			return nil, fmt.Errorf("create attribute cache: %w", err)
		}
	}

	s.logger.Debug("store opened", "path", path, "store_id", id)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ID returns the store's identity, fixed when the database was created.
func (s *Store) ID() string {
	return s.id
}

// Snapshot returns a view as of the latest transaction.
func (s *Store) Snapshot() (fact.Snapshot, error) {
	basis, err := latestBasis(context.Background(), s.db)
	if err != nil {
		return nil, err
	}
	return &Snapshot{store: s, basis: basis}, nil
}

// AsOf returns a view as of transaction t.
func (s *Store) AsOf(t int64) (*Snapshot, error) {
	latest, err := latestBasis(context.Background(), s.db)
	if err != nil {
		return nil, err
	}
	if t < 1 || t > latest {
		return nil, fmt.Errorf("basis %d out of range [1, %d]", t, latest)
	}
	return &Snapshot{store: s, basis: t}, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func latestBasis(ctx context.Context, q querier) (int64, error) {
	var basis int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(tx), 0) FROM transactions`).Scan(&basis); err != nil {
		return 0, fmt.Errorf("read basis: %w", err)
	}
	return basis, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB, clock Clock) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db, clock); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB, clock Clock) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db, clock); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

type builtin struct {
	ident       ir.Keyword
	valueType   ir.Keyword
	cardinality ir.Keyword
	unique      ir.Keyword
	doc         string
}

// builtins are installed in transaction 1, in this order, as entities 1..n.
var builtins = []builtin{
	{fact.AttrIdent, fact.TypeKeyword, fact.CardinalityOne, fact.UniqueIdentity, "Attribute used to uniquely name an entity."},
	{fact.AttrValueType, fact.TypeKeyword, fact.CardinalityOne, "", "Type of the values an attribute holds."},
	{fact.AttrCardinality, fact.TypeKeyword, fact.CardinalityOne, "", "Whether an attribute holds one value or a set."},
	{fact.AttrUnique, fact.TypeKeyword, fact.CardinalityOne, "", "Uniqueness constraint of an attribute."},
	{fact.AttrDoc, fact.TypeString, fact.CardinalityOne, "", "Documentation string for an entity."},
}

var builtinPartitions = []ir.Keyword{fact.PartDB, fact.PartUser}

// migrateToV1 installs the store identity, built-in attributes and the
// default partitions.
func migrateToV1(db *sql.DB, clock Clock) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v1: begin: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&existing); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if existing > 0 {
		return errors.New("migrate to v1: database has transactions but no schema version")
	}

	if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('store_id', ?)`,
		uuid.Must(uuid.NewV7()).String()); err != nil {
		return fmt.Errorf("migrate to v1: store id: %w", err)
	}
	const bootTx = 1
	if _, err := tx.Exec(`INSERT INTO transactions (tx, instant) VALUES (?, ?)`,
		bootTx, clock.Now().UnixMilli()); err != nil {
		return fmt.Errorf("migrate to v1: transaction: %w", err)
	}

	add := func(e int64, a ir.Keyword, v ir.Value) error {
		enc, err := ir.EncodeString(v)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO datoms (e, a, v, tx, added) VALUES (?, ?, ?, ?, 1)`,
			e, string(a), enc, bootTx)
		return err
	}
	newEntity := func() (int64, error) {
		res, err := tx.Exec(`INSERT INTO entities (part) VALUES (?)`, string(fact.PartDB))
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	for _, b := range builtins {
		e, err := newEntity()
		if err != nil {
			return fmt.Errorf("migrate to v1: %s: %w", b.ident, err)
		}
		facts := []struct {
			a ir.Keyword
			v ir.Value
		}{
			{fact.AttrIdent, b.ident},
			{fact.AttrValueType, b.valueType},
			{fact.AttrCardinality, b.cardinality},
			{fact.AttrDoc, ir.String(b.doc)},
		}
		if b.unique != "" {
			facts = append(facts, struct {
				a ir.Keyword
				v ir.Value
			}{fact.AttrUnique, b.unique})
		}
		for _, f := range facts {
			if err := add(e, f.a, f.v); err != nil {
				return fmt.Errorf("migrate to v1: %s %s: %w", b.ident, f.a, err)
			}
		}
	}

	for _, part := range builtinPartitions {
		e, err := newEntity()
		if err != nil {
			return fmt.Errorf("migrate to v1: %s: %w", part, err)
		}
		if err := add(e, fact.AttrIdent, part); err != nil {
			return fmt.Errorf("migrate to v1: %s: %w", part, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v1: commit: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
