// Package conformance is a reusable contract suite certifying that a
// repository adapter, in-memory or real, exposes the exact observable
// semantics of the repository port. It is run once per adapter.
//
// Every mutation is verified twice: once through the repository's reported
// outcome and once through a GroundTruth handle reading the backend's native
// surface (direct slot access for the memory adapter, raw SQL for SQLite).
// Verification never shares a code path with the operations under test, so a
// self-consistent but externally wrong implementation cannot pass.
package conformance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrakit/repository"
)

// GroundTruth reads and writes the backend bypassing the repository
// abstraction. Used exclusively for test setup and verification.
type GroundTruth[T repository.Entity[ID], ID comparable] interface {
	// Seed inserts entities directly into the backend.
	Seed(t *testing.T, entities []T)
	// Exists reports whether a record with the id is present.
	Exists(t *testing.T, id ID) bool
	// Count reports the number of live records.
	Count(t *testing.T) int
	// Fetch reads the record with the id, reporting presence.
	Fetch(t *testing.T, id ID) (T, bool)
}

// Factory builds a fresh, empty repository plus its ground-truth handle for
// one test. Each invocation must yield independent state.
type Factory[T repository.Entity[ID], ID comparable] func(t *testing.T) (repository.Repository[T, ID], GroundTruth[T, ID])

// Suite is a backend-parametrized battery of contract scenarios.
type Suite[T repository.Entity[ID], ID comparable] struct {
	// Factory builds the adapter under test.
	Factory Factory[T, ID]

	// Make returns a deterministic entity for index i: same i, same
	// identifier and payload. Distinct i never collide.
	Make func(i int) T

	// Mutate returns a changed copy of the entity keeping its identifier.
	Mutate func(T) T

	// Equal reports semantic equality of two entities.
	Equal func(a, b T) bool

	// FreshID returns an identifier Make never produces.
	FreshID func() ID

	// ClearID returns a copy of the entity with the zero identifier. Leave
	// nil for adapters constructed without an ID generator; the
	// ID-assignment scenario is skipped.
	ClearID func(T) T
}

const seedCount = 10

func (s Suite[T, ID]) seeded(t *testing.T) (repository.Repository[T, ID], GroundTruth[T, ID], []T) {
	t.Helper()
	repo, truth := s.Factory(t)
	entities := make([]T, 0, seedCount)
	for i := 0; i < seedCount; i++ {
		entities = append(entities, s.Make(i))
	}
	truth.Seed(t, entities)
	return repo, truth, entities
}

// Run replays every contract scenario against the adapter.
func (s Suite[T, ID]) Run(t *testing.T) {
	ctx := context.Background()

	t.Run("GetByID", func(t *testing.T) {
		t.Run("Found", func(t *testing.T) {
			repo, _, entities := s.seeded(t)
			got, err := repo.GetByID(ctx, entities[0].EntityID())
			require.NoError(t, err)
			assert.True(t, s.Equal(entities[0], got))
		})
		t.Run("NotFound", func(t *testing.T) {
			repo, _ := s.Factory(t)
			_, err := repo.GetByID(ctx, s.FreshID())
			assert.ErrorIs(t, err, repository.ErrNotFound)
		})
	})

	t.Run("GetAll", func(t *testing.T) {
		t.Run("All", func(t *testing.T) {
			repo, _, _ := s.seeded(t)
			all, err := repo.GetAll(ctx, repository.ListOptions[T]{})
			require.NoError(t, err)
			assert.Len(t, all, seedCount)
		})
		t.Run("EmptyStoreIsNotAnError", func(t *testing.T) {
			repo, _ := s.Factory(t)
			all, err := repo.GetAll(ctx, repository.ListOptions[T]{})
			require.NoError(t, err)
			assert.Empty(t, all)
		})
		t.Run("InsertionOrder", func(t *testing.T) {
			repo, _, entities := s.seeded(t)
			all, err := repo.GetAll(ctx, repository.ListOptions[T]{})
			require.NoError(t, err)
			require.Len(t, all, seedCount)
			for i, entity := range all {
				assert.Equal(t, entities[i].EntityID(), entity.EntityID())
			}
		})
		t.Run("Pagination", func(t *testing.T) {
			tests := []struct {
				name    string
				limit   *int
				offset  int
				wantLen int
			}{
				{"Limit0", repository.Limit(0), 0, 0},
				{"Limit5", repository.Limit(5), 0, 5},
				{"LimitBeyondLen", repository.Limit(15), 0, seedCount},
				{"Offset6", nil, 6, 4},
				{"OffsetBeyondLen", nil, 15, 0},
				{"Limit5Offset2", repository.Limit(5), 2, 5},
				{"Limit5Offset8", repository.Limit(5), 8, 2},
				{"Limit5Offset10", repository.Limit(5), 10, 0},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					repo, _, _ := s.seeded(t)
					all, err := repo.GetAll(ctx, repository.ListOptions[T]{Limit: tt.limit, Offset: tt.offset})
					require.NoError(t, err)
					assert.Len(t, all, tt.wantLen)
				})
			}
		})
		t.Run("NegativeLimit", func(t *testing.T) {
			repo, _, _ := s.seeded(t)
			_, err := repo.GetAll(ctx, repository.ListOptions[T]{Limit: repository.Limit(-1)})
			assert.ErrorIs(t, err, repository.ErrValidation)
		})
		t.Run("NegativeOffset", func(t *testing.T) {
			repo, _, _ := s.seeded(t)
			_, err := repo.GetAll(ctx, repository.ListOptions[T]{Offset: -1})
			assert.ErrorIs(t, err, repository.ErrValidation)
		})
		t.Run("PaginationStable", func(t *testing.T) {
			repo, _, _ := s.seeded(t)
			opts := repository.ListOptions[T]{Limit: repository.Limit(4), Offset: 3}
			first, err := repo.GetAll(ctx, opts)
			require.NoError(t, err)
			second, err := repo.GetAll(ctx, opts)
			require.NoError(t, err)
			require.Len(t, second, len(first))
			for i := range first {
				assert.Equal(t, first[i].EntityID(), second[i].EntityID())
			}
		})
		t.Run("Filter", func(t *testing.T) {
			repo, _, entities := s.seeded(t)
			want := entities[3].EntityID()
			all, err := repo.GetAll(ctx, repository.ListOptions[T]{
				Filter: func(e T) bool { return e.EntityID() == want },
			})
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, want, all[0].EntityID())
		})
		t.Run("OrderBy", func(t *testing.T) {
			repo, _, _ := s.seeded(t)
			less := func(a, b T) bool {
				return fmt.Sprint(a.EntityID()) > fmt.Sprint(b.EntityID())
			}
			all, err := repo.GetAll(ctx, repository.ListOptions[T]{OrderBy: less})
			require.NoError(t, err)
			require.Len(t, all, seedCount)
			for i := 1; i < len(all); i++ {
				assert.False(t, less(all[i], all[i-1]), "result not sorted at index %d", i)
			}
		})
	})

	t.Run("InsertOne", func(t *testing.T) {
		t.Run("Success", func(t *testing.T) {
			repo, truth := s.Factory(t)
			entity := s.Make(0)
			got, err := repo.InsertOne(ctx, entity)
			require.NoError(t, err)
			assert.True(t, s.Equal(entity, got))
			assert.True(t, truth.Exists(t, entity.EntityID()))
			assert.Equal(t, 1, truth.Count(t))
		})
		t.Run("ReadAfterWrite", func(t *testing.T) {
			repo, _ := s.Factory(t)
			entity := s.Make(0)
			_, err := repo.InsertOne(ctx, entity)
			require.NoError(t, err)
			got, err := repo.GetByID(ctx, entity.EntityID())
			require.NoError(t, err)
			assert.True(t, s.Equal(entity, got))
		})
		t.Run("Duplicate", func(t *testing.T) {
			repo, truth, entities := s.seeded(t)
			_, err := repo.InsertOne(ctx, s.Mutate(entities[0]))
			assert.ErrorIs(t, err, repository.ErrDuplicateKey)
			assert.Equal(t, seedCount, truth.Count(t))
		})
		if s.ClearID != nil {
			t.Run("AssignsID", func(t *testing.T) {
				repo, truth := s.Factory(t)
				var zeroID ID
				got, err := repo.InsertOne(ctx, s.ClearID(s.Make(0)))
				require.NoError(t, err)
				assert.NotEqual(t, zeroID, got.EntityID())
				assert.True(t, truth.Exists(t, got.EntityID()))
			})
		}
	})

	t.Run("InsertMany", func(t *testing.T) {
		t.Run("Success", func(t *testing.T) {
			repo, truth, _ := s.seeded(t)
			batch := []T{s.Make(20), s.Make(21), s.Make(22), s.Make(23), s.Make(24)}
			got, err := repo.InsertMany(ctx, batch)
			require.NoError(t, err)
			assert.Len(t, got, len(batch))
			assert.Equal(t, seedCount+len(batch), truth.Count(t))
		})
		t.Run("DuplicateExisting", func(t *testing.T) {
			repo, truth, entities := s.seeded(t)
			_, err := repo.InsertMany(ctx, []T{s.Mutate(entities[0])})
			assert.ErrorIs(t, err, repository.ErrDuplicateKey)
			assert.Equal(t, seedCount, truth.Count(t))
		})
		t.Run("DuplicateWithinBatch", func(t *testing.T) {
			repo, truth := s.Factory(t)
			_, err := repo.InsertMany(ctx, []T{s.Make(0), s.Mutate(s.Make(0))})
			assert.ErrorIs(t, err, repository.ErrDuplicateKey)
			assert.Equal(t, 0, truth.Count(t))
		})
		t.Run("Atomicity", func(t *testing.T) {
			repo, truth, entities := s.seeded(t)
			batch := []T{s.Make(30), s.Mutate(entities[0])}
			_, err := repo.InsertMany(ctx, batch)
			assert.ErrorIs(t, err, repository.ErrDuplicateKey)
			assert.Equal(t, seedCount, truth.Count(t))
			assert.False(t, truth.Exists(t, s.Make(30).EntityID()))
		})
		t.Run("Empty", func(t *testing.T) {
			repo, truth := s.Factory(t)
			got, err := repo.InsertMany(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, got)
			assert.Equal(t, 0, truth.Count(t))
		})
	})

	t.Run("Update", func(t *testing.T) {
		t.Run("Success", func(t *testing.T) {
			repo, truth, entities := s.seeded(t)
			changed := s.Mutate(entities[0])
			got, err := repo.Update(ctx, changed)
			require.NoError(t, err)
			assert.True(t, s.Equal(changed, got))
			stored, ok := truth.Fetch(t, changed.EntityID())
			require.True(t, ok)
			assert.True(t, s.Equal(changed, stored))
		})
		t.Run("NotFound", func(t *testing.T) {
			repo, _ := s.Factory(t)
			_, err := repo.Update(ctx, s.Make(0))
			assert.ErrorIs(t, err, repository.ErrNotFound)
		})
		t.Run("PreservesOrder", func(t *testing.T) {
			repo, _, entities := s.seeded(t)
			_, err := repo.Update(ctx, s.Mutate(entities[4]))
			require.NoError(t, err)
			all, err := repo.GetAll(ctx, repository.ListOptions[T]{})
			require.NoError(t, err)
			require.Len(t, all, seedCount)
			for i, entity := range all {
				assert.Equal(t, entities[i].EntityID(), entity.EntityID())
			}
		})
		t.Run("BumpsRevision", func(t *testing.T) {
			repo, _ := s.Factory(t)
			versioned, ok := repo.(repository.Versioned[ID])
			if !ok {
				t.Skip("adapter does not expose revisions")
			}
			entity, err := repo.InsertOne(ctx, s.Make(0))
			require.NoError(t, err)
			before, err := versioned.Revision(ctx, entity.EntityID())
			require.NoError(t, err)
			_, err = repo.Update(ctx, s.Mutate(entity))
			require.NoError(t, err)
			after, err := versioned.Revision(ctx, entity.EntityID())
			require.NoError(t, err)
			assert.Equal(t, before+1, after)
		})
	})

	t.Run("DeleteByID", func(t *testing.T) {
		t.Run("Success", func(t *testing.T) {
			repo, truth, entities := s.seeded(t)
			require.NoError(t, repo.DeleteByID(ctx, entities[0].EntityID()))
			assert.False(t, truth.Exists(t, entities[0].EntityID()))
			assert.Equal(t, seedCount-1, truth.Count(t))
		})
		t.Run("NotFound", func(t *testing.T) {
			repo, _ := s.Factory(t)
			err := repo.DeleteByID(ctx, s.FreshID())
			assert.ErrorIs(t, err, repository.ErrNotFound)
		})
		t.Run("ThenGetNotFound", func(t *testing.T) {
			repo, _, entities := s.seeded(t)
			require.NoError(t, repo.DeleteByID(ctx, entities[2].EntityID()))
			_, err := repo.GetByID(ctx, entities[2].EntityID())
			assert.ErrorIs(t, err, repository.ErrNotFound)
		})
	})

	t.Run("DeleteAll", func(t *testing.T) {
		repo, truth, _ := s.seeded(t)
		require.NoError(t, repo.DeleteAll(ctx))
		assert.Equal(t, 0, truth.Count(t))
	})

	t.Run("Uniqueness", func(t *testing.T) {
		repo, truth, entities := s.seeded(t)
		for _, entity := range entities {
			_, err := repo.InsertOne(ctx, s.Mutate(entity))
			assert.ErrorIs(t, err, repository.ErrDuplicateKey)
		}
		assert.Equal(t, seedCount, truth.Count(t))
		all, err := repo.GetAll(ctx, repository.ListOptions[T]{})
		require.NoError(t, err)
		seen := make(map[ID]struct{}, len(all))
		for _, entity := range all {
			_, dup := seen[entity.EntityID()]
			assert.False(t, dup, "duplicate id %v", entity.EntityID())
			seen[entity.EntityID()] = struct{}{}
		}
	})

	t.Run("Scenario", func(t *testing.T) {
		// Insert, read back, collide, replace, delete, miss: the canonical
		// life of one record.
		repo, _ := s.Factory(t)
		entity := s.Make(0)

		inserted, err := repo.InsertOne(ctx, entity)
		require.NoError(t, err)
		require.True(t, s.Equal(entity, inserted))

		got, err := repo.GetByID(ctx, entity.EntityID())
		require.NoError(t, err)
		require.True(t, s.Equal(entity, got))

		_, err = repo.InsertOne(ctx, s.Mutate(entity))
		require.ErrorIs(t, err, repository.ErrDuplicateKey)

		changed := s.Mutate(entity)
		updated, err := repo.Update(ctx, changed)
		require.NoError(t, err)
		require.True(t, s.Equal(changed, updated))

		require.NoError(t, repo.DeleteByID(ctx, entity.EntityID()))

		_, err = repo.GetByID(ctx, entity.EntityID())
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("Concurrent", func(t *testing.T) {
		s.runConcurrent(t)
	})
}

const concurrentWriters = 16

func (s Suite[T, ID]) runConcurrent(t *testing.T) {
	ctx := context.Background()

	t.Run("DistinctInserts", func(t *testing.T) {
		repo, truth := s.Factory(t)
		var wg sync.WaitGroup
		errs := make([]error, concurrentWriters)
		for i := 0; i < concurrentWriters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.InsertOne(ctx, s.Make(i))
			}(i)
		}
		wg.Wait()
		for i, err := range errs {
			assert.NoError(t, err, "writer %d", i)
		}
		assert.Equal(t, concurrentWriters, truth.Count(t))
	})

	t.Run("DuplicateInserts", func(t *testing.T) {
		// Check-then-insert must be one atomic step: exactly one of the
		// racing writers may win.
		repo, truth := s.Factory(t)
		var wg sync.WaitGroup
		errs := make([]error, concurrentWriters)
		for i := 0; i < concurrentWriters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.InsertOne(ctx, s.Make(0))
			}(i)
		}
		wg.Wait()
		var won int
		for _, err := range errs {
			if err == nil {
				won++
			} else {
				assert.True(t, errors.Is(err, repository.ErrDuplicateKey), "unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, won)
		assert.Equal(t, 1, truth.Count(t))
	})

	t.Run("Updates", func(t *testing.T) {
		// Concurrent whole-entity replaces never interleave: the final state
		// is one of the fully-applied writes.
		repo, truth := s.Factory(t)
		entity, err := repo.InsertOne(ctx, s.Make(0))
		require.NoError(t, err)
		first := s.Mutate(entity)
		second := s.Mutate(first)

		var wg sync.WaitGroup
		for _, candidate := range []T{first, second} {
			wg.Add(1)
			go func(candidate T) {
				defer wg.Done()
				_, err := repo.Update(ctx, candidate)
				assert.NoError(t, err)
			}(candidate)
		}
		wg.Wait()

		stored, ok := truth.Fetch(t, entity.EntityID())
		require.True(t, ok)
		assert.True(t, s.Equal(first, stored) || s.Equal(second, stored),
			"final state is not a fully-applied write")
	})
}
