package errors

import (
	"errors"
)

// Namespace and collection errors
var (
	ErrNamespaceMissing = errors.New("namespace does not exist")
	ErrNamespaceExists  = errors.New("namespace already exists")
	ErrInvalidOptions   = errors.New("invalid collection options")

	// ErrPKInvalidField is returned when a document's primary key contains
	// an undefined value, a regex, or an array.
	ErrPKInvalidField = errors.New("primary key field is undefined, a regex, or an array")

	// ErrPKChanged is returned when an update would change the value of the
	// primary key.
	ErrPKChanged = errors.New("update would change the primary key")

	// ErrDuplicateKey is returned when a uniqueness constraint is violated.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTooManyIndexes is returned when a collection already has 64 indexes.
	ErrTooManyIndexes = errors.New("collection already has the maximum of 64 indexes")

	// ErrIndexBuildInProgress is returned when a second indexer is requested
	// while one is already running on the same collection.
	ErrIndexBuildInProgress = errors.New("an index build is already in progress on this collection")

	// ErrIndexBuildFailed wraps a failure from an index build phase.
	ErrIndexBuildFailed = errors.New("index build failed")

	// ErrBulkLoadConflict is returned when a connection other than the one
	// that began a bulk load attempts to operate on the collection.
	ErrBulkLoadConflict = errors.New("collection is bulk-loading on another connection")

	// ErrCappedSizeViolation is returned when a capped collection's limits
	// cannot be honored for the requested operation.
	ErrCappedSizeViolation = errors.New("capped collection size violation")

	// ErrOperationNotAllowed is returned for operations a collection flavor
	// forbids (e.g. update on a profile collection).
	ErrOperationNotAllowed = errors.New("operation not allowed on this collection")

	// ErrSystemNamespaceProtected is returned when a caller attempts an
	// operation a system namespace forbids directly.
	ErrSystemNamespaceProtected = errors.New("system namespace is protected")

	// ErrStorageError wraps an error surfaced by the underlying dictionary
	// engine.
	ErrStorageError = errors.New("storage engine error")

	// ErrIndexNotFound is returned when dropIndex names an index the
	// collection doesn't have.
	ErrIndexNotFound = errors.New("index not found")

	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotEmpty = errors.New("collection is not empty")

	// ErrInvalidPath / ErrNotJSONObject are raised by the document path
	// traversal helpers.
	ErrInvalidPath   = errors.New("invalid document path")
	ErrNotJSONObject = errors.New("value is not a document")

	// ErrTxNotFound / ErrTxAlreadyClosed are raised by the reference
	// transaction context.
	ErrTxNotFound       = errors.New("transaction not found")
	ErrTxAlreadyClosed  = errors.New("transaction already committed or rolled back")
)
