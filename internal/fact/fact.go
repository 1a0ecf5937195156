package fact

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/queryir"
)

// Built-in attributes every store understands.
const (
	AttrIdent       ir.Keyword = "db/ident"
	AttrValueType   ir.Keyword = "db/valueType"
	AttrCardinality ir.Keyword = "db/cardinality"
	AttrUnique      ir.Keyword = "db/unique"
	AttrDoc         ir.Keyword = "db/doc"
)

// Value types an attribute may declare.
const (
	TypeString  ir.Keyword = "db.type/string"
	TypeLong    ir.Keyword = "db.type/long"
	TypeDouble  ir.Keyword = "db.type/double"
	TypeBoolean ir.Keyword = "db.type/boolean"
	TypeKeyword ir.Keyword = "db.type/keyword"
	TypeInstant ir.Keyword = "db.type/instant"
	TypeRef     ir.Keyword = "db.type/ref"
)

// Cardinalities and uniqueness constraints.
const (
	CardinalityOne  ir.Keyword = "db.cardinality/one"
	CardinalityMany ir.Keyword = "db.cardinality/many"

	UniqueIdentity ir.Keyword = "db.unique/identity"
	UniqueValue    ir.Keyword = "db.unique/value"
)

// Partitions.
const (
	PartDB   ir.Keyword = "db.part/db"
	PartUser ir.Keyword = "db.part/user"
)

// AttributeDef describes an installed attribute.
type AttributeDef struct {
	ID          ir.EntityID
	Ident       ir.Keyword
	ValueType   ir.Keyword
	Cardinality ir.Keyword
	Unique      ir.Keyword // empty when not unique
	Doc         string
}

// Many reports whether the attribute holds a set of values.
func (a AttributeDef) Many() bool {
	return a.Cardinality == CardinalityMany
}

// EntityView is the raw attribute map of one entity at one basis.
// Cardinality-many attributes hold an ir.Set; references hold ir.EntityID.
type EntityView struct {
	ID    ir.EntityID
	Attrs map[ir.Keyword]ir.Value
}

// Get returns the value of attr, or nil when the entity has none.
func (v EntityView) Get(attr ir.Keyword) ir.Value {
	return v.Attrs[attr]
}

// Keys returns the entity's attributes in sorted order.
func (v EntityView) Keys() []ir.Keyword {
	keys := make([]ir.Keyword, 0, len(v.Attrs))
	for k := range v.Attrs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SnapshotID identifies a point-in-time view: which store, as of which basis.
// Two snapshots with equal ids denote the same fact set.
type SnapshotID struct {
	Store  string
	BasisT int64
}

// Snapshot is an immutable view of the store as of one transaction.
type Snapshot interface {
	// ID identifies the snapshot.
	ID() SnapshotID

	// BasisT is the last transaction visible in the snapshot.
	BasisT() int64

	// Entity returns the current attributes of id. The bool is false when
	// the entity has no facts at this basis.
	Entity(id ir.EntityID) (EntityView, bool, error)

	// Attribute returns the definition of an installed attribute.
	Attribute(ident ir.Keyword) (AttributeDef, bool, error)

	// Referrers returns the entities whose attr points at id, in id order.
	Referrers(attr ir.Keyword, id ir.EntityID) ([]ir.EntityID, error)

	// Query executes q and returns the distinct result tuples in a
	// deterministic order.
	Query(ctx context.Context, q queryir.Query) ([]ir.Seq, error)
}

// Conn submits transactions and hands out snapshots.
type Conn interface {
	// Snapshot returns a view as of the latest transaction.
	Snapshot() (Snapshot, error)

	// Transact applies edits atomically. Store-level rejections are
	// returned as *StoreError; other failures as *TransactionFailed.
	Transact(ctx context.Context, edits []ir.Edit) (*TxOutcome, error)
}

// TxOutcome is what a store returns from a successful transaction.
type TxOutcome struct {
	Before  Snapshot
	After   Snapshot
	Data    []ir.Datom
	TempIDs map[ir.TempID]ir.EntityID
}

// TempID returns the temporary id for key in partition. The same
// (partition, key) pair always names the same new entity within one
// transaction.
func TempID(partition ir.Keyword, key string) ir.TempID {
	return ir.TempID{Partition: partition, Key: key}
}

// NewTempID allocates a temporary id in partition with a fresh UUIDv7
// disambiguator.
func NewTempID(partition ir.Keyword) ir.TempID {
	return TempID(partition, uuid.Must(uuid.NewV7()).String())
}

// IsTempID reports whether ref has not been resolved yet.
func IsTempID(ref ir.EntityRef) bool {
	_, ok := ref.(ir.TempID)
	return ok
}
