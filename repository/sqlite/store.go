package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	sqlite3 "github.com/mattn/go-sqlite3"

	"infrakit/repository"
)

// StoreConfig carries the construction options for one store instance.
type StoreConfig[T repository.Entity[ID], ID comparable] struct {
	// Table is the backing table name. One store owns one table.
	Table string

	// NewID generates a fresh identifier for entities inserted with the zero
	// ID. When nil, such entities are rejected with a ValidationError.
	NewID func() ID

	// SetID returns a copy of the entity carrying the given identifier.
	// Required when NewID is set.
	SetID func(T, ID) T

	// Validate rejects malformed entities before any mutation.
	Validate func(T) error
}

// Store is a SQLite-backed repository for one entity type.
type Store[T repository.Entity[ID], ID comparable] struct {
	db *DB
	q  queries[T, ID]
}

var (
	_ repository.Repository[entityStub, string]    = (*Store[entityStub, string])(nil)
	_ repository.Versioned[string]                 = (*Store[entityStub, string])(nil)
	_ repository.Transactional[entityStub, string] = (*Store[entityStub, string])(nil)
)

type entityStub struct{ ID string }

func (e entityStub) EntityID() string { return e.ID }

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewStore creates the backing table if needed and returns a ready store.
func NewStore[T repository.Entity[ID], ID comparable](db *DB, cfg StoreConfig[T, ID]) (*Store[T, ID], error) {
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	s := &Store[T, ID]{
		db: db,
		q: queries[T, ID]{
			cfg:  cfg,
			name: repository.EntityName[T](),
		},
	}
	if _, err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			position INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			revision INTEGER NOT NULL DEFAULT 1,
			data TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, cfg.Table)); err != nil {
		return nil, &repository.BackendUnavailableError{Op: "migrate", Cause: err}
	}
	return s, nil
}

func (s *Store[T, ID]) InsertOne(ctx context.Context, entity T) (T, error) {
	return s.q.insertOne(ctx, s.db, entity)
}

// InsertMany stores a batch inside one transaction so a duplicate anywhere
// in the batch inserts nothing.
func (s *Store[T, ID]) InsertMany(ctx context.Context, entities []T) ([]T, error) {
	if len(entities) == 0 {
		return []T{}, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &repository.BackendUnavailableError{Op: "insert many", Cause: err}
	}
	inserted, err := s.q.insertMany(ctx, tx, entities)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, s.q.mapError("insert many", "", err)
	}
	return inserted, nil
}

func (s *Store[T, ID]) GetByID(ctx context.Context, id ID) (T, error) {
	return s.q.getByID(ctx, s.db, id)
}

func (s *Store[T, ID]) GetAll(ctx context.Context, opts repository.ListOptions[T]) ([]T, error) {
	return s.q.getAll(ctx, s.db, opts)
}

func (s *Store[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	return s.q.update(ctx, s.db, entity)
}

func (s *Store[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	return s.q.deleteByID(ctx, s.db, id)
}

func (s *Store[T, ID]) DeleteAll(ctx context.Context) error {
	return s.q.deleteAll(ctx, s.db)
}

func (s *Store[T, ID]) Revision(ctx context.Context, id ID) (uint64, error) {
	return s.q.revision(ctx, s.db, id)
}

// Begin starts a transaction scope backed by *sql.Tx.
func (s *Store[T, ID]) Begin(ctx context.Context) (repository.Tx[T, ID], error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &repository.BackendUnavailableError{Op: "begin", Cause: err}
	}
	return &Tx[T, ID]{tx: tx, q: s.q}, nil
}

// Tx runs repository operations inside a SQLite transaction.
type Tx[T repository.Entity[ID], ID comparable] struct {
	tx   *sql.Tx
	q    queries[T, ID]
	done bool
}

var _ repository.Tx[entityStub, string] = (*Tx[entityStub, string])(nil)

func (t *Tx[T, ID]) Commit(ctx context.Context) error {
	if t.done {
		return repository.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return t.q.mapError("commit", "", err)
	}
	return nil
}

func (t *Tx[T, ID]) Rollback(ctx context.Context) error {
	if t.done {
		return repository.ErrTxDone
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return t.q.mapError("rollback", "", err)
	}
	return nil
}

func (t *Tx[T, ID]) InsertOne(ctx context.Context, entity T) (T, error) {
	var zero T
	if t.done {
		return zero, repository.ErrTxDone
	}
	return t.q.insertOne(ctx, t.tx, entity)
}

func (t *Tx[T, ID]) InsertMany(ctx context.Context, entities []T) ([]T, error) {
	if t.done {
		return nil, repository.ErrTxDone
	}
	if len(entities) == 0 {
		return []T{}, nil
	}
	// Already inside a transaction; savepoints bound the batch so a failed
	// batch does not poison the surrounding scope.
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT insert_many"); err != nil {
		return nil, t.q.mapError("insert many", "", err)
	}
	inserted, err := t.q.insertMany(ctx, t.tx, entities)
	if err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT insert_many"); rbErr != nil {
			return nil, t.q.mapError("insert many", "", rbErr)
		}
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT insert_many"); err != nil {
		return nil, t.q.mapError("insert many", "", err)
	}
	return inserted, nil
}

func (t *Tx[T, ID]) GetByID(ctx context.Context, id ID) (T, error) {
	var zero T
	if t.done {
		return zero, repository.ErrTxDone
	}
	return t.q.getByID(ctx, t.tx, id)
}

func (t *Tx[T, ID]) GetAll(ctx context.Context, opts repository.ListOptions[T]) ([]T, error) {
	if t.done {
		return nil, repository.ErrTxDone
	}
	return t.q.getAll(ctx, t.tx, opts)
}

func (t *Tx[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	if t.done {
		return zero, repository.ErrTxDone
	}
	return t.q.update(ctx, t.tx, entity)
}

func (t *Tx[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	if t.done {
		return repository.ErrTxDone
	}
	return t.q.deleteByID(ctx, t.tx, id)
}

func (t *Tx[T, ID]) DeleteAll(ctx context.Context) error {
	if t.done {
		return repository.ErrTxDone
	}
	return t.q.deleteAll(ctx, t.tx)
}

// runner abstracts *sql.DB and *sql.Tx so the operation bodies below serve
// both the store and its transactions.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries[T repository.Entity[ID], ID comparable] struct {
	cfg  StoreConfig[T, ID]
	name string
}

// prepare assigns a fresh identifier when needed, then validates. Assignment
// runs first so a required id field does not reject entities the adapter is
// supposed to identify itself.
func (q queries[T, ID]) prepare(entity T) (T, error) {
	var zero T
	var zeroID ID
	if entity.EntityID() == zeroID {
		if q.cfg.NewID == nil {
			return zero, &repository.ValidationError{Entity: q.name, Cause: errIDRequired}
		}
		entity = q.cfg.SetID(entity, q.cfg.NewID())
	}
	if q.cfg.Validate != nil {
		if err := q.cfg.Validate(entity); err != nil {
			return zero, &repository.ValidationError{Entity: q.name, Cause: err}
		}
	}
	return entity, nil
}

var errIDRequired = errors.New("id is required and no generator is configured")

func (q queries[T, ID]) insertOne(ctx context.Context, r runner, entity T) (T, error) {
	var zero T
	entity, err := q.prepare(entity)
	if err != nil {
		return zero, err
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return zero, &repository.ValidationError{Entity: q.name, Cause: err}
	}
	id := idString(entity.EntityID())
	query := fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?)", q.cfg.Table)
	if _, err := r.ExecContext(ctx, query, id, string(data)); err != nil {
		return zero, q.mapError("insert", id, err)
	}
	return entity, nil
}

func (q queries[T, ID]) insertMany(ctx context.Context, r runner, entities []T) ([]T, error) {
	inserted := make([]T, 0, len(entities))
	for _, entity := range entities {
		entity, err := q.insertOne(ctx, r, entity)
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, entity)
	}
	return inserted, nil
}

func (q queries[T, ID]) getByID(ctx context.Context, r runner, id ID) (T, error) {
	var zero T
	var data string
	query := fmt.Sprintf("SELECT data FROM %s WHERE id = ?", q.cfg.Table)
	err := r.QueryRowContext(ctx, query, idString(id)).Scan(&data)
	if err == sql.ErrNoRows {
		return zero, &repository.NotFoundError{Entity: q.name, ID: idString(id)}
	}
	if err != nil {
		return zero, q.mapError("get", idString(id), err)
	}
	var entity T
	if err := json.Unmarshal([]byte(data), &entity); err != nil {
		return zero, fmt.Errorf("decode %s row: %w", q.name, err)
	}
	return entity, nil
}

func (q queries[T, ID]) getAll(ctx context.Context, r runner, opts repository.ListOptions[T]) ([]T, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT data FROM %s ORDER BY position ASC", q.cfg.Table)
	rows, err := r.QueryContext(ctx, query)
	if err != nil {
		return nil, q.mapError("get all", "", err)
	}
	defer rows.Close()

	// Filtering happens over the decoded snapshot, not in SQL, so the
	// predicate semantics match the in-memory adapter exactly.
	snapshot := make([]T, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, q.mapError("get all", "", err)
		}
		var entity T
		if err := json.Unmarshal([]byte(data), &entity); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", q.name, err)
		}
		if opts.Filter != nil && !opts.Filter(entity) {
			continue
		}
		snapshot = append(snapshot, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, q.mapError("get all", "", err)
	}
	if opts.OrderBy != nil {
		sort.SliceStable(snapshot, func(i, j int) bool {
			return opts.OrderBy(snapshot[i], snapshot[j])
		})
	}
	return repository.Paginate(snapshot, opts.Limit, opts.Offset), nil
}

func (q queries[T, ID]) update(ctx context.Context, r runner, entity T) (T, error) {
	var zero T
	if q.cfg.Validate != nil {
		if err := q.cfg.Validate(entity); err != nil {
			return zero, &repository.ValidationError{Entity: q.name, Cause: err}
		}
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return zero, &repository.ValidationError{Entity: q.name, Cause: err}
	}
	id := idString(entity.EntityID())
	query := fmt.Sprintf(`
		UPDATE %s SET
			data = ?,
			revision = revision + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, q.cfg.Table)
	res, err := r.ExecContext(ctx, query, string(data), id)
	if err != nil {
		return zero, q.mapError("update", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return zero, q.mapError("update", id, err)
	}
	if affected == 0 {
		return zero, &repository.NotFoundError{Entity: q.name, ID: id}
	}
	return entity, nil
}

func (q queries[T, ID]) deleteByID(ctx context.Context, r runner, id ID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", q.cfg.Table)
	res, err := r.ExecContext(ctx, query, idString(id))
	if err != nil {
		return q.mapError("delete", idString(id), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return q.mapError("delete", idString(id), err)
	}
	if affected == 0 {
		return &repository.NotFoundError{Entity: q.name, ID: idString(id)}
	}
	return nil
}

func (q queries[T, ID]) deleteAll(ctx context.Context, r runner) error {
	query := fmt.Sprintf("DELETE FROM %s", q.cfg.Table)
	if _, err := r.ExecContext(ctx, query); err != nil {
		return q.mapError("delete all", "", err)
	}
	return nil
}

func (q queries[T, ID]) revision(ctx context.Context, r runner, id ID) (uint64, error) {
	var revision uint64
	query := fmt.Sprintf("SELECT revision FROM %s WHERE id = ?", q.cfg.Table)
	err := r.QueryRowContext(ctx, query, idString(id)).Scan(&revision)
	if err == sql.ErrNoRows {
		return 0, &repository.NotFoundError{Entity: q.name, ID: idString(id)}
	}
	if err != nil {
		return 0, q.mapError("revision", idString(id), err)
	}
	return revision, nil
}

// mapError translates driver failures into the port's error taxonomy.
// Unique-constraint violations on the id column become DuplicateKeyError;
// anything else is treated as backend unavailability and propagated
// unchanged inside the wrapper, never retried here.
func (q queries[T, ID]) mapError(op, id string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return &repository.DuplicateKeyError{Entity: q.name, ID: id}
		}
	}
	if errors.Is(err, sql.ErrTxDone) {
		return repository.ErrTxDone
	}
	return &repository.BackendUnavailableError{Op: op, Cause: err}
}

func idString(id any) string { return fmt.Sprint(id) }
