// Package translate converts between host Go values and fact-store wire values.
//
// Host value space:
//
//	Go type                         wire type
//	-------                         ---------
//	int*, uint8..uint32             ir.Long
//	float32, float64                ir.Double
//	string                          ir.String
//	bool                            ir.Bool
//	nil                             absent (nil)
//	Symbol                          ir.Symbol if it starts with ? or $, else ir.Keyword
//	Set                             ir.Set (element-wise)
//	[]any                           ir.Seq (element-wise, order preserved)
//	time.Time                       ir.Instant (millisecond truncation)
//	EntityRef (handles, instances)  ir.EntityID
//	Referent (pending changers)     ir.TempID or ir.EntityID
//	ir.Value                        itself, never re-wrapped
//
// Decoding reverses the table. An ir.EntityID is promoted to an entity handle
// when the Decoder carries a Promote function; otherwise it is returned as is.
//
// Round-trip law: FromWire(ToWire(v)) == v for every v of a canonical host
// type: int64, float64, string, bool, nil, Symbol, Set, []any, ir.EntityID and
// time.Time in UTC at millisecond precision. Narrower integer and float types
// are accepted on the way in and come back as int64 and float64.
package translate
