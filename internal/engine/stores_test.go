package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// In-memory port implementations for engine tests. The transaction manager
// snapshots the entity and history stores and restores them when the
// function returns an error, so atomicity behavior can be exercised without
// a database.

type memEntityStore struct {
	mu       sync.Mutex
	entities map[lifecycle.Ref]*lifecycle.Entity
	links    map[lifecycle.Ref][]lifecycle.Ref

	updateErr func(ref lifecycle.Ref) error
}

func newMemEntityStore() *memEntityStore {
	return &memEntityStore{
		entities: make(map[lifecycle.Ref]*lifecycle.Entity),
		links:    make(map[lifecycle.Ref][]lifecycle.Ref),
	}
}

func (s *memEntityStore) Create(ctx context.Context, e *lifecycle.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entities[e.Ref()] = &cp
	return nil
}

func (s *memEntityStore) Get(ctx context.Context, entityType, entityID string) (*lifecycle.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[lifecycle.Ref{EntityType: entityType, EntityID: entityID}]
	if !ok {
		return nil, lifecycle.ErrUnknownEntity
	}
	cp := *e
	if e.Derived != nil {
		cp.Derived = make(map[string]any, len(e.Derived))
		for k, v := range e.Derived {
			cp.Derived[k] = v
		}
	}
	return &cp, nil
}

func (s *memEntityStore) UpdateStatus(ctx context.Context, ref lifecycle.Ref, expected, next lifecycle.State, derived map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		if err := s.updateErr(ref); err != nil {
			return err
		}
	}
	e, ok := s.entities[ref]
	if !ok {
		return lifecycle.ErrUnknownEntity
	}
	if e.Status != expected {
		return lifecycle.ErrConcurrentModification
	}
	e.Status = next
	for k, v := range derived {
		if e.Derived == nil {
			e.Derived = make(map[string]any)
		}
		e.Derived[k] = v
	}
	return nil
}

func (s *memEntityStore) Link(ctx context.Context, link lifecycle.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.Source] = append(s.links[link.Source], link.Target)
	return nil
}

func (s *memEntityStore) ListLinked(ctx context.Context, entityType, entityID, linkedType string) ([]*lifecycle.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*lifecycle.Entity
	for _, target := range s.links[lifecycle.Ref{EntityType: entityType, EntityID: entityID}] {
		if target.EntityType != linkedType {
			continue
		}
		if e, ok := s.entities[target]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// status reads an entity's current state directly, for assertions
func (s *memEntityStore) status(entityType, entityID string) lifecycle.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[lifecycle.Ref{EntityType: entityType, EntityID: entityID}]
	if !ok {
		return ""
	}
	return e.Status
}

func (s *memEntityStore) snapshot() map[lifecycle.Ref]lifecycle.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[lifecycle.Ref]lifecycle.Entity, len(s.entities))
	for ref, e := range s.entities {
		snap[ref] = *e
	}
	return snap
}

func (s *memEntityStore) restore(snap map[lifecycle.Ref]lifecycle.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[lifecycle.Ref]*lifecycle.Entity, len(snap))
	for ref, e := range snap {
		cp := e
		s.entities[ref] = &cp
	}
}

type memHistoryStore struct {
	mu      sync.Mutex
	records []*lifecycle.TransitionRecord

	appendErr error
}

func (s *memHistoryStore) Append(ctx context.Context, rec *lifecycle.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	rec.Seq = int64(len(s.records) + 1)
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *memHistoryStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]*lifecycle.TransitionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*lifecycle.TransitionRecord
	for _, rec := range s.records {
		if rec.EntityType == entityType && rec.EntityID == entityID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *memHistoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memHistoryStore) snapshot() []*lifecycle.TransitionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*lifecycle.TransitionRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *memHistoryStore) restore(snap []*lifecycle.TransitionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = snap
}

type cpKey struct {
	correlationID string
	step          lifecycle.Step
}

type memCheckpointStore struct {
	mu   sync.Mutex
	byID map[cpKey]*lifecycle.Checkpoint
	seq  int64

	appendErr func(cp *lifecycle.Checkpoint) error
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{byID: make(map[cpKey]*lifecycle.Checkpoint)}
}

func (s *memCheckpointStore) Append(ctx context.Context, cp *lifecycle.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		if err := s.appendErr(cp); err != nil {
			return err
		}
	}
	key := cpKey{cp.CorrelationID, cp.Step}
	if _, exists := s.byID[key]; exists {
		return port.ErrDuplicateCheckpoint
	}
	s.seq++
	cp.Seq = s.seq
	stored := *cp
	s.byID[key] = &stored
	return nil
}

func (s *memCheckpointStore) Get(ctx context.Context, correlationID string, step lifecycle.Step) (*lifecycle.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byID[cpKey{correlationID, step}]
	if !ok {
		return nil, nil
	}
	out := *cp
	return &out, nil
}

func (s *memCheckpointStore) Latest(ctx context.Context, correlationID string) (*lifecycle.Checkpoint, error) {
	all, _ := s.List(ctx, correlationID)
	if len(all) == 0 {
		return nil, nil
	}
	return all[len(all)-1], nil
}

func (s *memCheckpointStore) List(ctx context.Context, correlationID string) ([]*lifecycle.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*lifecycle.Checkpoint
	for key, cp := range s.byID {
		if key.correlationID == correlationID {
			c := *cp
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *memCheckpointStore) has(correlationID string, step lifecycle.Step) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[cpKey{correlationID, step}]
	return ok
}

type memFailureStore struct {
	mu       sync.Mutex
	failures []*lifecycle.EffectFailure
}

func (s *memFailureStore) Record(ctx context.Context, f *lifecycle.EffectFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	cp.ID = int64(len(s.failures) + 1)
	s.failures = append(s.failures, &cp)
	return nil
}

func (s *memFailureStore) ListUnresolved(ctx context.Context, limit int) ([]*lifecycle.EffectFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*lifecycle.EffectFailure
	for _, f := range s.failures {
		if f.ResolvedAt.IsZero() {
			cp := *f
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memFailureStore) MarkResolved(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.failures {
		if f.ID == id {
			f.ResolvedAt = time.Now()
			return nil
		}
	}
	return nil
}

func (s *memFailureStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}

// memTx restores the entity and history stores when the wrapped function
// fails, mirroring a database rollback
type memTx struct {
	entities *memEntityStore
	history  *memHistoryStore
}

func (t *memTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	entSnap := t.entities.snapshot()
	histSnap := t.history.snapshot()
	if err := fn(ctx); err != nil {
		t.entities.restore(entSnap)
		t.history.restore(histSnap)
		return err
	}
	return nil
}

var (
	_ port.EntityStore        = (*memEntityStore)(nil)
	_ port.HistoryStore       = (*memHistoryStore)(nil)
	_ port.CheckpointStore    = (*memCheckpointStore)(nil)
	_ port.EffectFailureStore = (*memFailureStore)(nil)
	_ port.TransactionManager = (*memTx)(nil)
)
