// Package memory implements the repository port with an in-process store.
// It reproduces the observable semantics of the real backend adapters
// (identity, uniqueness, not-found behavior, update atomicity, insertion
// order, snapshot isolation) without any external dependency, so tests
// written against it behave identically when pointed at a real database.
// State is volatile: process termination discards everything.
package memory

import (
	"context"
	"sort"
	"sync"

	"infrakit/repository"
)

// Config carries the construction options for one store instance.
type Config[T repository.Entity[ID], ID comparable] struct {
	// NewID generates a fresh identifier for entities inserted with the zero
	// ID. When nil, such entities are rejected with a ValidationError.
	NewID func() ID

	// SetID returns a copy of the entity carrying the given identifier.
	// Required when NewID is set.
	SetID func(T, ID) T

	// Validate rejects malformed entities before any mutation. A non-nil
	// return is wrapped into a repository.ValidationError.
	Validate func(T) error

	// Clone deep-copies an entity. Value copies are used when nil, which is
	// sufficient unless T holds pointers, slices, or maps.
	Clone func(T) T
}

type slot[T any] struct {
	entity   T
	revision uint64
}

// Store is an in-memory repository for one entity type. A single mutex
// guards the ordered index, so every operation is one atomic step; stores
// for different entity types never contend.
type Store[T repository.Entity[ID], ID comparable] struct {
	mu sync.Mutex
	tb table[T, ID]
}

var (
	_ repository.Repository[entityStub, string]    = (*Store[entityStub, string])(nil)
	_ repository.Versioned[string]                 = (*Store[entityStub, string])(nil)
	_ repository.Transactional[entityStub, string] = (*Store[entityStub, string])(nil)
)

// entityStub anchors the compile-time contract assertions above.
type entityStub struct{ ID string }

func (e entityStub) EntityID() string { return e.ID }

// New creates an empty store.
func New[T repository.Entity[ID], ID comparable](cfg Config[T, ID]) *Store[T, ID] {
	return &Store[T, ID]{tb: newTable[T, ID](cfg)}
}

// InsertOne stores a new entity, assigning a fresh identifier when the
// entity's ID is the zero value and a generator is configured.
func (s *Store[T, ID]) InsertOne(ctx context.Context, entity T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tb.insertOne(entity)
}

// InsertMany stores a batch atomically: a duplicate against the store or
// within the batch means nothing is inserted.
func (s *Store[T, ID]) InsertMany(ctx context.Context, entities []T) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tb.insertMany(entities)
}

// GetByID returns a copy of the entity with the given identifier.
func (s *Store[T, ID]) GetByID(ctx context.Context, id ID) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tb.getByID(id)
}

// GetAll materializes a snapshot in insertion order, then filters, orders,
// and paginates it. Later mutations never affect a returned slice.
func (s *Store[T, ID]) GetAll(ctx context.Context, opts repository.ListOptions[T]) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tb.getAll(opts)
}

// Update atomically replaces the stored entity sharing the given entity's
// identifier and bumps its revision. The record keeps its insertion slot.
func (s *Store[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tb.update(entity)
}

// DeleteByID removes the entity with the given identifier.
func (s *Store[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tb.deleteByID(id)
}

// DeleteAll removes every entity.
func (s *Store[T, ID]) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tb.deleteAll()
	return nil
}

// Revision reports the revision counter of the record with the given id.
func (s *Store[T, ID]) Revision(ctx context.Context, id ID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tb.revision(id)
}

// table holds the store state and the lock-free operation bodies shared
// between Store and Tx. Callers must hold the owning mutex.
type table[T repository.Entity[ID], ID comparable] struct {
	cfg   Config[T, ID]
	name  string
	order []ID
	slots map[ID]*slot[T]
}

func newTable[T repository.Entity[ID], ID comparable](cfg Config[T, ID]) table[T, ID] {
	return table[T, ID]{
		cfg:   cfg,
		name:  repository.EntityName[T](),
		slots: make(map[ID]*slot[T]),
	}
}

func (t *table[T, ID]) clone(entity T) T {
	if t.cfg.Clone != nil {
		return t.cfg.Clone(entity)
	}
	return entity
}

// prepare assigns a fresh identifier when needed, then validates. Assignment
// runs first so a required id field does not reject entities the adapter is
// supposed to identify itself.
func (t *table[T, ID]) prepare(entity T) (T, error) {
	var zero T
	var zeroID ID
	if entity.EntityID() == zeroID {
		if t.cfg.NewID == nil {
			return zero, &repository.ValidationError{Entity: t.name, Cause: errIDRequired}
		}
		entity = t.cfg.SetID(entity, t.cfg.NewID())
	}
	if t.cfg.Validate != nil {
		if err := t.cfg.Validate(entity); err != nil {
			return zero, &repository.ValidationError{Entity: t.name, Cause: err}
		}
	}
	return entity, nil
}

func (t *table[T, ID]) insertOne(entity T) (T, error) {
	var zero T
	entity, err := t.prepare(entity)
	if err != nil {
		return zero, err
	}
	id := entity.EntityID()
	if _, ok := t.slots[id]; ok {
		return zero, &repository.DuplicateKeyError{Entity: t.name, ID: idString(id)}
	}
	t.slots[id] = &slot[T]{entity: t.clone(entity), revision: 1}
	t.order = append(t.order, id)
	return entity, nil
}

func (t *table[T, ID]) insertMany(entities []T) ([]T, error) {
	if len(entities) == 0 {
		return []T{}, nil
	}
	// Validate the whole batch before touching the index so a failure
	// anywhere inserts nothing.
	prepared := make([]T, 0, len(entities))
	seen := make(map[ID]struct{}, len(entities))
	for _, entity := range entities {
		entity, err := t.prepare(entity)
		if err != nil {
			return nil, err
		}
		id := entity.EntityID()
		if _, ok := t.slots[id]; ok {
			return nil, &repository.DuplicateKeyError{Entity: t.name, ID: idString(id)}
		}
		if _, ok := seen[id]; ok {
			return nil, &repository.DuplicateKeyError{Entity: t.name, ID: idString(id)}
		}
		seen[id] = struct{}{}
		prepared = append(prepared, entity)
	}
	for _, entity := range prepared {
		id := entity.EntityID()
		t.slots[id] = &slot[T]{entity: t.clone(entity), revision: 1}
		t.order = append(t.order, id)
	}
	return prepared, nil
}

func (t *table[T, ID]) getByID(id ID) (T, error) {
	var zero T
	sl, ok := t.slots[id]
	if !ok {
		return zero, &repository.NotFoundError{Entity: t.name, ID: idString(id)}
	}
	return t.clone(sl.entity), nil
}

func (t *table[T, ID]) getAll(opts repository.ListOptions[T]) ([]T, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	snapshot := make([]T, 0, len(t.order))
	for _, id := range t.order {
		entity := t.clone(t.slots[id].entity)
		if opts.Filter != nil && !opts.Filter(entity) {
			continue
		}
		snapshot = append(snapshot, entity)
	}
	if opts.OrderBy != nil {
		sort.SliceStable(snapshot, func(i, j int) bool {
			return opts.OrderBy(snapshot[i], snapshot[j])
		})
	}
	return repository.Paginate(snapshot, opts.Limit, opts.Offset), nil
}

func (t *table[T, ID]) update(entity T) (T, error) {
	var zero T
	if t.cfg.Validate != nil {
		if err := t.cfg.Validate(entity); err != nil {
			return zero, &repository.ValidationError{Entity: t.name, Cause: err}
		}
	}
	id := entity.EntityID()
	sl, ok := t.slots[id]
	if !ok {
		return zero, &repository.NotFoundError{Entity: t.name, ID: idString(id)}
	}
	sl.entity = t.clone(entity)
	sl.revision++
	return entity, nil
}

func (t *table[T, ID]) deleteByID(id ID) error {
	if _, ok := t.slots[id]; !ok {
		return &repository.NotFoundError{Entity: t.name, ID: idString(id)}
	}
	delete(t.slots, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (t *table[T, ID]) deleteAll() {
	t.order = nil
	t.slots = make(map[ID]*slot[T])
}

func (t *table[T, ID]) revision(id ID) (uint64, error) {
	sl, ok := t.slots[id]
	if !ok {
		return 0, &repository.NotFoundError{Entity: t.name, ID: idString(id)}
	}
	return sl.revision, nil
}

// snapshot deep-copies the table for transaction staging.
func (t *table[T, ID]) snapshot() table[T, ID] {
	copied := table[T, ID]{
		cfg:   t.cfg,
		name:  t.name,
		order: append([]ID(nil), t.order...),
		slots: make(map[ID]*slot[T], len(t.slots)),
	}
	for id, sl := range t.slots {
		copied.slots[id] = &slot[T]{entity: t.clone(sl.entity), revision: sl.revision}
	}
	return copied
}
