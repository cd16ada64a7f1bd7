// Package memstore is an in-memory store.Store used by service and queue
// tests. Transactions are serialized by a single mutex, which preserves the
// atomicity of the conditional updates without a database. There is no
// rollback; tests do not exercise failing transactions.
package memstore

import (
	"context"
	"sync"

	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
)

type data struct {
	employees      []*model.Employee
	shifts         []*model.Shift
	violations     []*model.ShiftViolation
	pendingActions []*model.PendingAction
	queue          []*model.UpdateQueueEntry
	events         []*model.EventLogEntry

	nextEmployeeID  int64
	nextShiftID     int64
	nextViolationID int64
	nextPendingID   int64
	nextQueueID     int64
	nextEventID     int64
}

type Store struct {
	mu   *sync.Mutex
	d    *data
	inTx bool
}

func New() *Store {
	return &Store{mu: &sync.Mutex{}, d: &data{}}
}

func (s *Store) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *Store) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Store{mu: s.mu, d: s.d, inTx: true})
}

func (s *Store) Employees() store.EmployeeRepository         { return &employeeRepo{s} }
func (s *Store) Shifts() store.ShiftRepository               { return &shiftRepo{s} }
func (s *Store) PendingActions() store.PendingActionRepository { return &pendingRepo{s} }
func (s *Store) Queue() store.QueueRepository                { return &queueRepo{s} }
func (s *Store) EventLog() store.EventLogRepository          { return &eventLogRepo{s} }

// EventLogEntries returns a snapshot of all logged entries, for assertions.
func (s *Store) EventLogEntries() []*model.EventLogEntry {
	s.lock()
	defer s.unlock()
	out := make([]*model.EventLogEntry, len(s.d.events))
	for i, e := range s.d.events {
		copied := *e
		out[i] = &copied
	}
	return out
}

// QueueEntries returns a snapshot of all queue rows, for assertions.
func (s *Store) QueueEntries() []*model.UpdateQueueEntry {
	s.lock()
	defer s.unlock()
	out := make([]*model.UpdateQueueEntry, len(s.d.queue))
	for i, e := range s.d.queue {
		copied := *e
		out[i] = &copied
	}
	return out
}

// SetRoleOverride marks an employee as admin/none directly, standing in for
// the onboarding flow that owns the directory.
func (s *Store) SetRoleOverride(employeeID int64, role model.RoleOverride) {
	s.lock()
	defer s.unlock()
	for _, e := range s.d.employees {
		if e.ID == employeeID {
			e.RoleOverride = role
		}
	}
}

func copyShift(sh *model.Shift) *model.Shift {
	copied := *sh
	return &copied
}

func copyPending(p *model.PendingAction) *model.PendingAction {
	copied := *p
	return &copied
}

var _ store.Store = (*Store)(nil)
