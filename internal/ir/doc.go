// Package ir provides the wire-level value model shared by every dalton package.
//
// This package contains type definitions and encodings only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Value is a sealed interface: only the types in this package implement it
//   - Sets are canonical: members are unique and ordered by their canonical encoding
//   - Instants carry millisecond precision only
//   - Canonical encoding is the single identity for values (set membership,
//     storage, query parameters); strings are NFC normalised when encoded
package ir
