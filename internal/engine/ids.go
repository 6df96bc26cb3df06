package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/grove/internal/ir"
)

// IDGenerator allocates NodeIDs for children started in single and union
// routes. Generators must never return ir.RootID or ir.InvalidID.
type IDGenerator interface {
	NewID() ir.NodeID
}

// UUIDv7Generator generates time-sortable UUIDv7 node ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a fresh UUIDv7 as a hyphenated string.
func (UUIDv7Generator) NewID() ir.NodeID {
	return ir.NodeID(uuid.Must(uuid.NewV7()).String())
}

// listNamespace seeds derived list child ids.
var listNamespace = uuid.MustParse("6f1c2d9a-52e4-4b8e-9d0b-3c7a1e5f8b20")

// listChildID derives the NodeID of a keyed list child. The id is a pure
// function of its position in the tree, so a child keeps its id across
// restarts and snapshot restores.
func listChildID(parent ir.NodeID, offset int, nodeType, key string) ir.NodeID {
	name := fmt.Sprintf("%s\x00%d\x00%s\x00%s", parent, offset, nodeType, key)
	return ir.NodeID(uuid.NewSHA1(listNamespace, []byte(name)).String())
}
