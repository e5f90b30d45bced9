// Package repository defines the generic repository port: a backend-agnostic
// contract for CRUD access to a single entity type. Concrete adapters live in
// the memory and sqlite subpackages; application code holds only the
// Repository interface and never a concrete store.
package repository

import (
	"context"
	"fmt"
	"strings"
)

// Entity constrains repository records to expose a comparable identifier.
// The repository layer never inspects any other field.
type Entity[ID comparable] interface {
	EntityID() ID
}

// Repository is the uniform operation set every backend adapter must satisfy.
// For a fixed logical state, every adapter produces the same success or error
// outcome for the same call; the conformance package certifies this.
type Repository[T Entity[ID], ID comparable] interface {
	// InsertOne stores a new entity. The entity's identifier must not already
	// exist; adapters configured with an ID generator assign a fresh one when
	// the identifier is the zero value. Returns the stored entity.
	InsertOne(ctx context.Context, entity T) (T, error)

	// InsertMany stores a batch atomically: if any entity collides with the
	// store or with another entity in the batch, nothing is inserted.
	InsertMany(ctx context.Context, entities []T) ([]T, error)

	// GetByID returns the entity with the given identifier.
	GetByID(ctx context.Context, id ID) (T, error)

	// GetAll returns a snapshot of entities in insertion order, filtered,
	// ordered, and paginated per opts. An empty result is not an error.
	GetAll(ctx context.Context, opts ListOptions[T]) ([]T, error)

	// Update replaces the stored entity that shares the given entity's
	// identifier. The replace is atomic and preserves the record's position
	// in the default iteration order. Returns the post-update entity.
	Update(ctx context.Context, entity T) (T, error)

	// DeleteByID removes the entity with the given identifier.
	DeleteByID(ctx context.Context, id ID) error

	// DeleteAll removes every entity in the repository.
	DeleteAll(ctx context.Context) error
}

// Versioned is an optional adapter extension exposing the per-record revision
// counter. Revisions start at 1 on insert and increment on every update,
// supporting optimistic-concurrency schemes layered above the port.
type Versioned[ID comparable] interface {
	Revision(ctx context.Context, id ID) (uint64, error)
}

// Tx is a transaction scope over a repository. Operations performed through
// a Tx are invisible to other callers until Commit; Rollback discards them.
type Tx[T Entity[ID], ID comparable] interface {
	Repository[T, ID]
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transactional is implemented by adapters that support transaction scopes.
type Transactional[T Entity[ID], ID comparable] interface {
	Begin(ctx context.Context) (Tx[T, ID], error)
}

// ListOptions controls GetAll. The zero value returns every entity in
// insertion order.
type ListOptions[T any] struct {
	// Filter keeps only entities for which the predicate returns true.
	// It is evaluated over the snapshot, never the underlying index, so the
	// semantics are identical across backends. Nil keeps everything.
	Filter func(T) bool

	// OrderBy sorts the result with a stable sort. Nil keeps insertion order.
	OrderBy func(a, b T) bool

	// Limit caps the result length. Nil means unbounded; zero yields an empty
	// result; negative values are rejected.
	Limit *int

	// Offset skips that many entities before collecting results. Negative
	// values are rejected.
	Offset int
}

// Limit is a convenience for building ListOptions literals.
func Limit(n int) *int { return &n }

// Validate rejects negative pagination parameters before any backend work.
func (o ListOptions[T]) Validate() error {
	if o.Limit != nil && *o.Limit < 0 {
		return &PaginationError{Param: "limit", Value: *o.Limit}
	}
	if o.Offset < 0 {
		return &PaginationError{Param: "offset", Value: o.Offset}
	}
	return nil
}

// Paginate applies offset and limit to an already filtered, ordered snapshot.
// Shared by adapters so pagination arithmetic cannot drift between backends.
func Paginate[T any](entities []T, limit *int, offset int) []T {
	if offset >= len(entities) {
		return []T{}
	}
	entities = entities[offset:]
	if limit != nil && *limit < len(entities) {
		entities = entities[:*limit]
	}
	return entities
}

// EntityName derives a short type name for error messages, e.g. "User".
func EntityName[T any]() string {
	var zero T
	name := fmt.Sprintf("%T", zero)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimPrefix(name, "*")
}
