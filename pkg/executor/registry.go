package executor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localsql/explorer/server/apierror"
)

// StatementStatus is the lifecycle state of a tracked statement.
type StatementStatus string

const (
	StatementStatusPending   StatementStatus = "pending"
	StatementStatusRunning   StatementStatus = "running"
	StatementStatusSuccess   StatementStatus = "success"
	StatementStatusFailed    StatementStatus = "failed"
	StatementStatusCancelled StatementStatus = "cancelled"
)

func (s StatementStatus) terminal() bool {
	return s == StatementStatusSuccess || s == StatementStatusFailed || s == StatementStatusCancelled
}

// Statement is the tracked record of a submitted statement.
type Statement struct {
	Handle      string
	Status      StatementStatus
	SQL         string
	CreatedOn   time.Time
	CompletedOn *time.Time
	Result      *ExecutionResult
	Err         *apierror.Error

	execHandle string
}

// Registry tracks submitted statements by handle so their outcomes can be
// polled after the fact. Completed statements are evicted after the TTL.
type Registry struct {
	mu         sync.RWMutex
	statements map[string]*Statement
	ttl        time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewRegistry creates a registry and starts its eviction loop.
func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{
		statements: make(map[string]*Statement),
		ttl:        ttl,
		stop:       make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Create records a new pending statement and returns its handle.
func (r *Registry) Create(sqlText string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle := uuid.NewString()
	r.statements[handle] = &Statement{
		Handle:    handle,
		Status:    StatementStatusPending,
		SQL:       sqlText,
		CreatedOn: time.Now(),
	}
	return handle
}

// Get returns a snapshot of a statement.
func (r *Registry) Get(handle string) (Statement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stmt, ok := r.statements[handle]
	if !ok {
		return Statement{}, false
	}
	return *stmt, true
}

// BindExecution associates the executor's job handle with a statement and
// marks it running.
func (r *Registry) BindExecution(handle, execHandle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.statements[handle]
	if !ok || stmt.Status.terminal() {
		return
	}
	stmt.execHandle = execHandle
	stmt.Status = StatementStatusRunning
}

// SetResult records a successful outcome. It is a no-op once the statement
// is terminal, so a racing cancel wins.
func (r *Registry) SetResult(handle string, res *ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.statements[handle]
	if !ok || stmt.Status.terminal() {
		return
	}
	stmt.Result = res
	stmt.Status = StatementStatusSuccess
	now := time.Now()
	stmt.CompletedOn = &now
}

// SetError records a failed outcome. No-op once terminal.
func (r *Registry) SetError(handle string, err *apierror.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.statements[handle]
	if !ok || stmt.Status.terminal() {
		return
	}
	stmt.Err = err
	stmt.Status = StatementStatusFailed
	now := time.Now()
	stmt.CompletedOn = &now
}

// Cancel marks a statement cancelled and returns the executor job handle to
// cancel, if any. Cancelling an already completed statement is a no-op.
func (r *Registry) Cancel(handle string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stmt, ok := r.statements[handle]
	if !ok {
		return "", apierror.NewNotFoundError("statement", handle)
	}
	if stmt.Status.terminal() {
		return "", nil
	}

	stmt.Status = StatementStatusCancelled
	now := time.Now()
	stmt.CompletedOn = &now
	return stmt.execHandle, nil
}

// Delete removes a statement from the registry.
func (r *Registry) Delete(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statements, handle)
}

// Close stops the eviction loop.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for handle, stmt := range r.statements {
		if stmt.CompletedOn != nil && now.Sub(*stmt.CompletedOn) > r.ttl {
			delete(r.statements, handle)
		}
	}
}
