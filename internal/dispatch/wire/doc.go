// Package wire encodes delegate requests and responses as CBOR for
// transports that cross a process boundary.
//
// Messages use small integer map keys. Argument and result values must be
// CBOR-encodable; maps decode as map[string]any and integers as int64 or
// uint64, so executors on the receiving side should accept any integer
// type where they expect a number.
package wire
