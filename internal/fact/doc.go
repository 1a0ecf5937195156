// Package fact defines the contract between dalton and the fact store it
// fronts: connections, immutable snapshots, attribute definitions, transaction
// outcomes and the store's error vocabulary.
//
// The store itself is an external collaborator. internal/store provides a
// SQLite implementation; anything satisfying Conn and Snapshot can replace it.
//
// Snapshots are immutable values pinned to a basis t. They are safe to share
// between goroutines without synchronization, and no snapshot ever observes a
// write made after its basis.
package fact
