package memory

import (
	"context"
	"errors"
	"fmt"

	"infrakit/repository"
)

var errIDRequired = errors.New("id is required and no generator is configured")

func idString(id any) string { return fmt.Sprint(id) }

// Tx is a staged transaction over a Store. It operates on a deep copy of the
// store state; Commit swaps the copy in atomically, Rollback discards it.
// Changes are invisible to other callers until committed.
type Tx[T repository.Entity[ID], ID comparable] struct {
	store  *Store[T, ID]
	staged table[T, ID]
	done   bool
}

var _ repository.Tx[entityStub, string] = (*Tx[entityStub, string])(nil)

// Begin starts a transaction by snapshotting the current store state.
func (s *Store[T, ID]) Begin(ctx context.Context) (repository.Tx[T, ID], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Tx[T, ID]{store: s, staged: s.tb.snapshot()}, nil
}

// Commit replaces the store state with the staged state. All changes across
// the transaction become visible together.
func (tx *Tx[T, ID]) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.done {
		return repository.ErrTxDone
	}
	tx.done = true
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.tb = tx.staged
	return nil
}

// Rollback discards all staged changes.
func (tx *Tx[T, ID]) Rollback(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.done {
		return repository.ErrTxDone
	}
	tx.done = true
	tx.staged = table[T, ID]{}
	return nil
}

func (tx *Tx[T, ID]) InsertOne(ctx context.Context, entity T) (T, error) {
	var zero T
	if err := tx.usable(ctx); err != nil {
		return zero, err
	}
	return tx.staged.insertOne(entity)
}

func (tx *Tx[T, ID]) InsertMany(ctx context.Context, entities []T) ([]T, error) {
	if err := tx.usable(ctx); err != nil {
		return nil, err
	}
	return tx.staged.insertMany(entities)
}

func (tx *Tx[T, ID]) GetByID(ctx context.Context, id ID) (T, error) {
	var zero T
	if err := tx.usable(ctx); err != nil {
		return zero, err
	}
	return tx.staged.getByID(id)
}

func (tx *Tx[T, ID]) GetAll(ctx context.Context, opts repository.ListOptions[T]) ([]T, error) {
	if err := tx.usable(ctx); err != nil {
		return nil, err
	}
	return tx.staged.getAll(opts)
}

func (tx *Tx[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	if err := tx.usable(ctx); err != nil {
		return zero, err
	}
	return tx.staged.update(entity)
}

func (tx *Tx[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	if err := tx.usable(ctx); err != nil {
		return err
	}
	return tx.staged.deleteByID(id)
}

func (tx *Tx[T, ID]) DeleteAll(ctx context.Context) error {
	if err := tx.usable(ctx); err != nil {
		return err
	}
	tx.staged.deleteAll()
	return nil
}

func (tx *Tx[T, ID]) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.done {
		return repository.ErrTxDone
	}
	return nil
}
