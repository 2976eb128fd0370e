package manager

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
)

// TxState 事务状态
type TxState uint8

const (
	TRX_STATE_ACTIVE TxState = iota
	TRX_STATE_COMMITTING
	TRX_STATE_COMMITTED
	TRX_STATE_ABORTING
	TRX_STATE_ABORTED
)

func (s TxState) String() string {
	switch s {
	case TRX_STATE_ACTIVE:
		return "ACTIVE"
	case TRX_STATE_COMMITTING:
		return "COMMITTING"
	case TRX_STATE_COMMITTED:
		return "COMMITTED"
	case TRX_STATE_ABORTING:
		return "ABORTING"
	case TRX_STATE_ABORTED:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// Terminal states are final.
func (s TxState) Terminal() bool {
	return s == TRX_STATE_COMMITTED || s == TRX_STATE_ABORTED
}

// Transaction 表示一个事务. Never reused once terminal.
type Transaction struct {
	ID        basic.TxID
	StartTime time.Time

	mu    sync.Mutex
	state TxState
	// set by a write that failed after touching pages
	rollbackOnly error
}

func (trx *Transaction) State() TxState {
	trx.mu.Lock()
	defer trx.mu.Unlock()
	return trx.state
}

// SetRollbackOnly dooms the transaction: it can still be aborted but never
// committed. The first cause is kept.
func (trx *Transaction) SetRollbackOnly(cause error) {
	trx.mu.Lock()
	defer trx.mu.Unlock()
	if trx.rollbackOnly == nil {
		trx.rollbackOnly = cause
	}
}

// RollbackOnly returns the cause recorded by SetRollbackOnly, or nil.
func (trx *Transaction) RollbackOnly() error {
	trx.mu.Lock()
	defer trx.mu.Unlock()
	return trx.rollbackOnly
}

func (trx *Transaction) String() string {
	return trx.ID.String() + "(" + trx.State().String() + ")"
}

// TransactionManager 事务管理器
type TransactionManager struct {
	mu                 sync.RWMutex
	nextTrxID          uint64
	activeTransactions map[basic.TxID]*Transaction
}

// NewTransactionManager 创建事务管理器
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{
		activeTransactions: make(map[basic.TxID]*Transaction),
	}
}

// AdvancePast makes sure future ids are greater than id.
func (tm *TransactionManager) AdvancePast(id basic.TxID) {
	for {
		cur := atomic.LoadUint64(&tm.nextTrxID)
		if cur >= uint64(id) || atomic.CompareAndSwapUint64(&tm.nextTrxID, cur, uint64(id)) {
			return
		}
	}
}

// Begin 开始新事务
func (tm *TransactionManager) Begin() *Transaction {
	trx := &Transaction{
		ID:        basic.TxID(atomic.AddUint64(&tm.nextTrxID, 1)),
		StartTime: time.Now(),
		state:     TRX_STATE_ACTIVE,
	}
	tm.mu.Lock()
	tm.activeTransactions[trx.ID] = trx
	tm.mu.Unlock()
	return trx
}

func (tm *TransactionManager) transition(trx *Transaction, to TxState, from ...TxState) error {
	trx.mu.Lock()
	defer trx.mu.Unlock()
	if trx.state.Terminal() {
		return jerrors.Annotatef(basic.ErrTxFinished, "%s is %s", trx.ID, trx.state)
	}
	for _, f := range from {
		if trx.state == f {
			trx.state = to
			return nil
		}
	}
	return jerrors.Annotatef(ErrInvalidTrxState, "%s cannot move from %s to %s", trx.ID, trx.state, to)
}

// MarkCommitting moves an active transaction into its commit sequence.
// Rollback-only transactions are refused with ErrRollbackOnly and stay Active.
func (tm *TransactionManager) MarkCommitting(trx *Transaction) error {
	if cause := trx.RollbackOnly(); cause != nil {
		return jerrors.Annotatef(ErrRollbackOnly, "%s after %v", trx.ID, cause)
	}
	return tm.transition(trx, TRX_STATE_COMMITTING, TRX_STATE_ACTIVE)
}

// MarkAborting is allowed from Active and from Committing (a failed commit).
func (tm *TransactionManager) MarkAborting(trx *Transaction) error {
	return tm.transition(trx, TRX_STATE_ABORTING, TRX_STATE_ACTIVE, TRX_STATE_COMMITTING)
}

// Finish moves Committing to Committed or Aborting to Aborted and forgets the
// transaction.
func (tm *TransactionManager) Finish(trx *Transaction) error {
	trx.mu.Lock()
	switch trx.state {
	case TRX_STATE_COMMITTING:
		trx.state = TRX_STATE_COMMITTED
	case TRX_STATE_ABORTING:
		trx.state = TRX_STATE_ABORTED
	default:
		state := trx.state
		trx.mu.Unlock()
		return jerrors.Annotatef(ErrInvalidTrxState, "%s cannot finish from %s", trx.ID, state)
	}
	trx.mu.Unlock()

	tm.mu.Lock()
	delete(tm.activeTransactions, trx.ID)
	tm.mu.Unlock()
	return nil
}

// GetTransaction 获取活跃事务
func (tm *TransactionManager) GetTransaction(id basic.TxID) (*Transaction, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	trx, ok := tm.activeTransactions[id]
	return trx, ok
}

// Active returns the unfinished transactions ordered by id.
func (tm *TransactionManager) Active() []*Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	list := make([]*Transaction, 0, len(tm.activeTransactions))
	for _, trx := range tm.activeTransactions {
		list = append(list, trx)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// ActiveIDs is Active reduced to ids.
func (tm *TransactionManager) ActiveIDs() []basic.TxID {
	active := tm.Active()
	ids := make([]basic.TxID, len(active))
	for i, trx := range active {
		ids[i] = trx.ID
	}
	return ids
}
