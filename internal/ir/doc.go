// Package ir holds the data model shared by every layer of the runtime.
//
// It defines node identity and addressing (NodeID, FieldID), the serializable
// records kept by the state store (NodeRecord, RouteRecord, TreeStateRecord),
// the intent step records carried in snapshots, and the constrained value
// model used for every stored field.
//
// ir imports nothing internal. All other internal packages import ir, which
// keeps it the foundational layer.
//
// Value constraints:
//   - no float types; numbers are int64 so snapshots compare byte-for-byte
//   - object keys are emitted in RFC 8785 order
//   - snapshot ordering is by NodeID, never by insertion or wall-clock time
package ir
