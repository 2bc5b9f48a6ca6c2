// Package memory provides the in-memory persistence implementation used as
// the default store and in tests. Mutations run under a per-key writer lock
// so concurrent read-modify-write calls cannot lose updates; reads return
// deep-copied snapshots and never block behind writers for long.
package memory

import (
	"context"
	"sync"

	"github.com/reviewloop/reviewloop/pkg/persistence"
)

// Persistence implements persistence.Persistence backed by process memory.
type Persistence struct {
	flows       *FlowRepository
	escalations *EscalationRepository
	incentives  *IncentiveRepository
	milestones  *MilestoneRepository
}

// NewPersistence creates an empty in-memory persistence handle.
func NewPersistence() *Persistence {
	return &Persistence{
		flows:       NewFlowRepository(),
		escalations: NewEscalationRepository(),
		incentives:  NewIncentiveRepository(),
		milestones:  NewMilestoneRepository(),
	}
}

func (p *Persistence) Flows() persistence.FlowRepository {
	return p.flows
}

func (p *Persistence) Escalations() persistence.EscalationRepository {
	return p.escalations
}

func (p *Persistence) Incentives() persistence.IncentiveRepository {
	return p.incentives
}

func (p *Persistence) Milestones() persistence.MilestoneRepository {
	return p.milestones
}

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close performs any necessary cleanup. There is nothing to clean up for
// the in-memory store.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// store is the shared keyed-snapshot container behind each repository.
type store[T interface{ Clone() T }] struct {
	mu       sync.RWMutex
	items    map[string]T
	locks    map[string]*sync.Mutex
	notFound error
}

func newStore[T interface{ Clone() T }](notFound error) *store[T] {
	return &store[T]{
		items:    make(map[string]T),
		locks:    make(map[string]*sync.Mutex),
		notFound: notFound,
	}
}

// keyLock returns the writer lock for one entity id, creating it on first
// use. The lock outlives the entity so an update racing a delete stays safe.
func (s *store[T]) keyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}

	return lock
}

func (s *store[T]) list() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]T, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item.Clone())
	}

	return items
}

func (s *store[T]) get(id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		var zero T

		return zero, s.notFound
	}

	return item.Clone(), nil
}

func (s *store[T]) put(id string, item T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[id] = item.Clone()
}

func (s *store[T]) update(id string, mutate func(T) error) (T, error) {
	var zero T

	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.items[id]
	s.mu.RUnlock()

	if !ok {
		return zero, s.notFound
	}

	working := current.Clone()
	if err := mutate(working); err != nil {
		return zero, err
	}

	s.mu.Lock()
	s.items[id] = working
	s.mu.Unlock()

	return working.Clone(), nil
}

func (s *store[T]) delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return s.notFound
	}

	delete(s.items, id)

	return nil
}
