// Package txn tracks open transactions and their staged operations.
package txn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"statehouse/pkg/errdef"
	"statehouse/pkg/logger"
	"statehouse/pkg/types"
)

// StagedOp is one staged write or delete. A nil Value means delete.
type StagedOp struct {
	Namespace string
	AgentID   string
	Key       string
	Value     types.Value
	Delete    bool
}

// Txn is one tracked transaction. State transitions are Open→Committed,
// Open→Aborted, Open→Expired only; terminal entries stay in the table for a
// retention window so late callers get a precise error instead of
// txn-not-found.
type Txn struct {
	mu         sync.Mutex
	id         string
	deadline   time.Time
	state      types.TxnState
	pending    bool // accepted into the commit queue; shields from expiry
	terminalAt time.Time
	ops        []StagedOp
}

func (t *Txn) ID() string { return t.id }

// Table holds transactions keyed by id.
type Table struct {
	mu             sync.RWMutex
	txns           map[string]*Txn
	defaultTimeout time.Duration
	retention      time.Duration
}

func NewTable(defaultTimeout, terminalRetention time.Duration) *Table {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if terminalRetention <= 0 {
		terminalRetention = time.Minute
	}
	return &Table{
		txns:           make(map[string]*Txn),
		defaultTimeout: defaultTimeout,
		retention:      terminalRetention,
	}
}

// Begin allocates a transaction with deadline now+timeout. A zero timeout
// uses the table default.
func (tb *Table) Begin(timeout time.Duration) string {
	if timeout <= 0 {
		timeout = tb.defaultTimeout
	}
	t := &Txn{
		id:       uuid.NewString(),
		deadline: time.Now().Add(timeout),
		state:    types.TxnOpen,
	}
	tb.mu.Lock()
	tb.txns[t.id] = t
	tb.mu.Unlock()
	logger.Debug("txn_begun", "txn_id", t.id, "timeout", timeout.String())
	return t.id
}

func (tb *Table) get(id string) (*Txn, error) {
	tb.mu.RLock()
	t, ok := tb.txns[id]
	tb.mu.RUnlock()
	if !ok {
		return nil, errdef.Newf(errdef.KindTxnNotFound, "transaction %s not found", id)
	}
	return t, nil
}

// stateErr maps a non-open state to the error callers see.
func stateErr(id string, s types.TxnState) error {
	switch s {
	case types.TxnExpired:
		return errdef.Newf(errdef.KindTxnExpired, "transaction %s expired", id)
	default:
		return errdef.Newf(errdef.KindTxnAlreadyCommitted, "transaction %s is %s", id, s)
	}
}

// Stage appends an operation to an open, unexpired transaction.
func (tb *Table) Stage(id string, op StagedOp) error {
	t, err := tb.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == types.TxnOpen && !t.pending && time.Now().After(t.deadline) {
		t.toTerminalLocked(types.TxnExpired)
	}
	if t.state != types.TxnOpen {
		return stateErr(id, t.state)
	}
	t.ops = append(t.ops, op)
	return nil
}

// MarkPending accepts a transaction into the commit queue. The deadline is
// checked here, on the transition into the queue; once pending, the
// transaction no longer expires mid-commit.
func (tb *Table) MarkPending(id string) error {
	t, err := tb.get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == types.TxnOpen && !t.pending && time.Now().After(t.deadline) {
		t.toTerminalLocked(types.TxnExpired)
	}
	if t.state != types.TxnOpen {
		return stateErr(id, t.state)
	}
	t.pending = true
	return nil
}

// UnmarkPending returns a transaction to plain Open after a failed queue
// handoff, so it becomes eligible for expiry again.
func (tb *Table) UnmarkPending(id string) {
	t, err := tb.get(id)
	if err != nil {
		return
	}
	t.mu.Lock()
	if t.state == types.TxnOpen {
		t.pending = false
	}
	t.mu.Unlock()
}

// Take returns the staged ops of a transaction accepted for commit. The
// transaction stays Open; the state machine settles it with Settle after the
// storage batch resolves. Take is only called from the single writer, so no
// second commit can interleave between Take and Settle.
func (tb *Table) Take(id string) ([]StagedOp, error) {
	t, err := tb.get(id)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != types.TxnOpen {
		return nil, stateErr(id, t.state)
	}
	return t.ops, nil
}

// Settle moves a transaction taken for commit into its terminal state.
func (tb *Table) Settle(id string, s types.TxnState) {
	t, err := tb.get(id)
	if err != nil {
		return
	}
	t.mu.Lock()
	if t.state == types.TxnOpen {
		t.toTerminalLocked(s)
	}
	t.mu.Unlock()
}

// Abort discards staged operations. Idempotent: aborting a terminal
// transaction (or an unknown id) is not an error.
func (tb *Table) Abort(id string) {
	t, err := tb.get(id)
	if err != nil {
		return
	}
	t.mu.Lock()
	if t.state == types.TxnOpen {
		t.toTerminalLocked(types.TxnAborted)
		logger.Debug("txn_aborted", "txn_id", id)
	}
	t.mu.Unlock()
}

// State returns the current state of a transaction.
func (tb *Table) State(id string) (types.TxnState, error) {
	t, err := tb.get(id)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == types.TxnOpen && !t.pending && time.Now().After(t.deadline) {
		t.toTerminalLocked(types.TxnExpired)
	}
	return t.state, nil
}

// OpenCount returns the number of open transactions.
func (tb *Table) OpenCount() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	n := 0
	for _, t := range tb.txns {
		t.mu.Lock()
		if t.state == types.TxnOpen {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

func (t *Txn) toTerminalLocked(s types.TxnState) {
	t.state = s
	t.pending = false
	t.terminalAt = time.Now()
	t.ops = nil
}

// Sweep expires transactions past their deadline and evicts terminal
// entries older than the retention window. Returns how many expired.
func (tb *Table) Sweep() int {
	now := time.Now()
	expired := 0
	tb.mu.Lock()
	defer tb.mu.Unlock()
	for id, t := range tb.txns {
		t.mu.Lock()
		if t.state == types.TxnOpen && !t.pending && now.After(t.deadline) {
			t.toTerminalLocked(types.TxnExpired)
			expired++
			logger.Debug("txn_expired", "txn_id", id)
		}
		evict := t.state.Terminal() && now.Sub(t.terminalAt) > tb.retention
		t.mu.Unlock()
		if evict {
			delete(tb.txns, id)
		}
	}
	return expired
}
