// Package txnctx is the reference implementation of the transaction
// context the collection core treats as an opaque, out-of-scope
// collaborator: begin/commit/abort plus rollback-hook registration (spec.md
// §6, "Transaction context (consumed)"). A real storage engine would swap
// this for its own transaction manager without the core needing to change.
package txnctx

import (
	"sync"
	"sync/atomic"

	"github.com/kartikbazzad/storedb/internal/errors"
)

// State is a transaction's lifecycle state.
type State int

const (
	Open State = iota
	Committed
	Aborted
)

// Txn is the capability surface the collection core drives a write or an
// index build under. Capped collections use RegisterOnCommit/RegisterOnAbort
// to learn the outcome of the write that inserted or deleted a document
// (spec.md §4.7 rollback hooks); bulk-loaded collections use ConnectionID
// to pin/reject by connection.
type Txn interface {
	ID() uint64
	ConnectionID() uint64
	RegisterOnCommit(fn func())
	RegisterOnAbort(fn func())
}

// txn is the Manager's concrete Txn. Hooks fire in registration order,
// matching the order writes within the transaction occurred.
type txn struct {
	id    uint64
	connID uint64

	mu         sync.Mutex
	state      State
	onCommit   []func()
	onAbort    []func()
}

func (t *txn) ID() uint64           { return t.id }
func (t *txn) ConnectionID() uint64 { return t.connID }

func (t *txn) RegisterOnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, fn)
}

func (t *txn) RegisterOnAbort(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAbort = append(t.onAbort, fn)
}

// Manager begins, commits, and aborts transactions, firing each one's
// registered hooks at the matching lifecycle point. Mirrors the teacher's
// TransactionManager: a mutex-guarded map keyed by monotonic ID.
type Manager struct {
	mu      sync.RWMutex
	txs     map[uint64]*txn
	nextID  atomic.Uint64
}

// NewManager builds an empty transaction manager.
func NewManager() *Manager {
	return &Manager{txs: make(map[uint64]*txn)}
}

// Begin starts a new open transaction pinned to connID.
func (m *Manager) Begin(connID uint64) Txn {
	id := m.nextID.Add(1)
	t := &txn{id: id, connID: connID, state: Open}

	m.mu.Lock()
	m.txs[id] = t
	m.mu.Unlock()

	return t
}

// Commit fires the transaction's onCommit hooks, in registration order, then
// retires it. Commit is idempotent-unsafe: committing twice is a caller bug.
func (m *Manager) Commit(tx Txn) error {
	t, err := m.lookup(tx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.state != Open {
		t.mu.Unlock()
		return errors.ErrTxAlreadyClosed
	}
	t.state = Committed
	hooks := t.onCommit
	t.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	m.retire(t.id)
	return nil
}

// Abort fires the transaction's onAbort hooks, in registration order, then
// retires it.
func (m *Manager) Abort(tx Txn) error {
	t, err := m.lookup(tx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.state != Open {
		t.mu.Unlock()
		return errors.ErrTxAlreadyClosed
	}
	t.state = Aborted
	hooks := t.onAbort
	t.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	m.retire(t.id)
	return nil
}

func (m *Manager) lookup(tx Txn) (*txn, error) {
	t, ok := tx.(*txn)
	if !ok {
		return nil, errors.ErrTxNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, live := m.txs[t.id]; !live {
		return nil, errors.ErrTxNotFound
	}
	return t, nil
}

func (m *Manager) retire(id uint64) {
	m.mu.Lock()
	delete(m.txs, id)
	m.mu.Unlock()
}
