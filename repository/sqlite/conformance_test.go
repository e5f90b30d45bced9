package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"infrakit/repository"
	"infrakit/repository/conformance"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required"`
}

func (u user) EntityID() string { return u.ID }

func setupTestStore(t *testing.T) (*Store[user, string], *DB, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)

	db, err := Open(Config{Path: filepath.Join(tmpDir, "test.db")})
	require.NoError(t, err)

	store, err := NewStore(db, StoreConfig[user, string]{
		Table: "users",
		NewID: func() string { return uuid.New().String() },
		SetID: func(u user, id string) user {
			u.ID = id
			return u
		},
	})
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return store, db, cleanup
}

// sqlTruth verifies store state with plain SQL against the backing table,
// never through the repository operations under test.
type sqlTruth struct {
	db    *sql.DB
	table string
}

func (g *sqlTruth) Seed(t *testing.T, entities []user) {
	t.Helper()
	for _, entity := range entities {
		data, err := json.Marshal(entity)
		require.NoError(t, err)
		_, err = g.db.Exec(
			fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?)", g.table),
			entity.ID, string(data),
		)
		require.NoError(t, err)
	}
}

func (g *sqlTruth) Exists(t *testing.T, id string) bool {
	t.Helper()
	var count int
	err := g.db.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", g.table), id,
	).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func (g *sqlTruth) Count(t *testing.T) int {
	t.Helper()
	var count int
	err := g.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", g.table)).Scan(&count)
	require.NoError(t, err)
	return count
}

func (g *sqlTruth) Fetch(t *testing.T, id string) (user, bool) {
	t.Helper()
	var data string
	err := g.db.QueryRow(
		fmt.Sprintf("SELECT data FROM %s WHERE id = ?", g.table), id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return user{}, false
	}
	require.NoError(t, err)
	var entity user
	require.NoError(t, json.Unmarshal([]byte(data), &entity))
	return entity, true
}

func TestConformance(t *testing.T) {
	suite := conformance.Suite[user, string]{
		Factory: func(t *testing.T) (repository.Repository[user, string], conformance.GroundTruth[user, string]) {
			store, db, cleanup := setupTestStore(t)
			t.Cleanup(cleanup)
			return store, &sqlTruth{db: db.DB, table: "users"}
		},
		Make: func(i int) user {
			return user{ID: fmt.Sprintf("user-%03d", i), Name: fmt.Sprintf("User %d", i)}
		},
		Mutate: func(u user) user {
			u.Name += "*"
			return u
		},
		Equal:   func(a, b user) bool { return a == b },
		FreshID: func() string { return uuid.New().String() },
		ClearID: func(u user) user {
			u.ID = ""
			return u
		},
	}
	suite.Run(t)
}
