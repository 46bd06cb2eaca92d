package collection

// Flags is the insert/update/delete bitset every write path accepts
// (spec.md §6 "Collection flags").
type Flags uint8

const (
	// NoLocktree tells the engine to skip row locks for this write.
	NoLocktree Flags = 1 << 0
	// NoUniqueChecks skips uniqueness enforcement on secondary indexes.
	NoUniqueChecks Flags = 1 << 1
	// KeysUnaffectedHint asserts the caller already knows secondary index
	// keys are unaffected by an update, letting updateObject rewrite only
	// index 0.
	KeysUnaffectedHint Flags = 1 << 2
	// NoPKUniqueChecks skips uniqueness enforcement on index 0.
	NoPKUniqueChecks Flags = 1 << 3
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }
