package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrakit/repository"
	"infrakit/validator"
)

func TestOpen_UncreatableDirectory(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	// A regular file where a directory is needed makes MkdirAll fail.
	blocker := filepath.Join(tmpDir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err = Open(Config{Path: filepath.Join(blocker, "data", "test.db")})
	assert.ErrorIs(t, err, repository.ErrBackendUnavailable)
}

func TestNewStore_InvalidTableName(t *testing.T) {
	_, db, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := NewStore(db, StoreConfig[user, string]{Table: "users; DROP TABLE users"})
	assert.Error(t, err)
}

func TestStore_DuplicateKeyFromUniqueConstraint(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.InsertOne(ctx, user{ID: "u1", Name: "Alice"})
	require.NoError(t, err)

	_, err = store.InsertOne(ctx, user{ID: "u1", Name: "Bob"})
	require.ErrorIs(t, err, repository.ErrDuplicateKey)

	var dup *repository.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "u1", dup.ID)
	assert.Equal(t, "user", dup.Entity)
}

func TestStore_PersistsAcrossStoreInstances(t *testing.T) {
	store, db, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.InsertOne(ctx, user{ID: "u1", Name: "Alice"})
	require.NoError(t, err)

	reopened, err := NewStore(db, StoreConfig[user, string]{Table: "users"})
	require.NoError(t, err)

	got, err := reopened.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
}

func TestStore_RevisionColumn(t *testing.T) {
	store, db, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.InsertOne(ctx, user{ID: "u1", Name: "Alice"})
	require.NoError(t, err)

	rev, err := store.Revision(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	_, err = store.Update(ctx, user{ID: "u1", Name: "Bob"})
	require.NoError(t, err)

	// The reported revision must agree with the raw column.
	var stored uint64
	require.NoError(t, db.QueryRow("SELECT revision FROM users WHERE id = ?", "u1").Scan(&stored))
	rev, err = store.Revision(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, stored, rev)
	assert.Equal(t, uint64(2), rev)

	_, err = store.Revision(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_ValidateHook(t *testing.T) {
	_, db, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	v := validator.New()
	store, err := NewStore(db, StoreConfig[user, string]{
		Table:    "validated_users",
		Validate: func(u user) error { return v.Validate(u) },
	})
	require.NoError(t, err)

	_, err = store.InsertOne(ctx, user{ID: "u1"})
	require.ErrorIs(t, err, repository.ErrValidation)
	assert.Contains(t, err.Error(), "name is required")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM validated_users").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestTx_CommitMakesChangesVisible(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertOne(ctx, user{ID: "u1", Name: "Alice"})
	require.NoError(t, err)

	// Uncommitted rows are invisible outside the transaction.
	_, err = store.GetByID(ctx, "u1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, tx.Commit(ctx))

	got, err := store.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
}

func TestTx_RollbackDiscardsChanges(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.InsertOne(ctx, user{ID: "u1", Name: "Alice"})
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Update(ctx, user{ID: "u1", Name: "Bob"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	got, err := store.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
}

func TestTx_FailedBatchDoesNotPoisonTransaction(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.InsertOne(ctx, user{ID: "a", Name: "Alice"})
	require.NoError(t, err)

	// Batch fails on the duplicate; the savepoint confines the damage.
	_, err = tx.InsertMany(ctx, []user{
		{ID: "b", Name: "Bob"},
		{ID: "a", Name: "Duplicate"},
	})
	require.ErrorIs(t, err, repository.ErrDuplicateKey)

	_, err = tx.InsertOne(ctx, user{ID: "c", Name: "Carol"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	all, err := store.GetAll(ctx, repository.ListOptions[user]{})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, u := range all {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestTx_DoneTransactionRejectsOperations(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = tx.InsertOne(ctx, user{ID: "u1", Name: "Alice"})
	assert.ErrorIs(t, err, repository.ErrTxDone)
	assert.ErrorIs(t, tx.Commit(ctx), repository.ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(ctx), repository.ErrTxDone)
}
