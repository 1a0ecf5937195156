// Package queryir is the query intermediate representation used by finders.
//
// A Query is a datalog-style conjunction of clauses over the current datoms
// of one snapshot:
//
//	[:find ?e
//	 :where [?e :blog/type :blog.type/post]
//	        [?e :blog.post/author ?a]
//	        [?a :blog.user/name "ada"]]
//
// Each Clause matches (entity, attribute, value) triples. A term is either a
// variable (Var, spelled with a leading '?') or a constant wire value (Const).
// Variables shared between clauses join them. Attributes must be constant
// keywords; the store does not support attribute variables.
//
// Term is a sealed interface so backends can switch over it exhaustively:
//
//	switch t := term.(type) {
//	case Var:
//	    // bind or join
//	case Const:
//	    // filter
//	}
//
// Queries have set semantics: results are distinct tuples and backends must
// return them in a deterministic order. internal/querysql is the SQLite
// backend.
package queryir
