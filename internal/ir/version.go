package ir

const (
	// SnapshotVersion is the TreeStateRecord schema version.
	SnapshotVersion = "1"

	// RuntimeVersion is reported by the CLI and stamped into archived snapshots.
	RuntimeVersion = "0.1.0"
)
