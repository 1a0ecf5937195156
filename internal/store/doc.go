// Package store is a SQLite-backed fact store implementing fact.Conn.
//
// The store keeps an append-only log of datoms. Every transaction appends
// assertion and retraction rows stamped with a new basis t; nothing is ever
// updated in place. A Snapshot is a basis t: it reads the datoms whose latest
// event at or before t is an assertion, so snapshots are immutable values
// that can be shared freely and cached by (basis, entity).
//
// # Schema
//
// Attributes are entities carrying db/ident, db/valueType and
// db/cardinality (plus optional db/unique and db/doc). The built-in
// attributes and the db.part/db and db.part/user partitions are installed
// when a database is created. Values are type-checked against db/valueType
// on every assertion.
//
// # Transactions
//
// Transact resolves temp ids (each distinct temp id allocates exactly one
// entity), resolves idents used as entities or ref values, retracts the old
// value of cardinality-one attributes, enforces db/unique and rejects
// contradicting edits within one transaction. Rejections are *fact.StoreError
// values whose text follows the conventional Datomic error format; any
// other failure is wrapped in *fact.TransactionFailed.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Every query orders its results explicitly so reads are deterministic.
package store
