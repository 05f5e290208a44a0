package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/fitting"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps jobs in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at path, applying pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.InvalidArgument("OpenSQLite", "database path is required")
	}
	if err := Migrate(path); err != nil {
		return nil, err
	}

	db, err := open(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "configure database: %s", pragma)
		}
	}
	return db, nil
}

// Migrate applies the embedded schema migrations to the database at path.
// It uses its own connection because the migrator closes it.
func Migrate(path string) error {
	db, err := open(path)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		db.Close()
		return errors.Wrap(err, "load migrations")
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{DatabaseName: "main"})
	if err != nil {
		db.Close()
		return errors.Wrap(err, "create migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		db.Close()
		return errors.Wrap(err, "create migrator")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, j *Job) error {
	if j == nil || j.ID == "" {
		return errors.InvalidArgument("Save", "job needs an id")
	}

	var result sql.NullString
	if j.Result != nil {
		data, err := json.Marshal(j.Result)
		if err != nil {
			return errors.Wrapf(err, "encode result of job %s", j.ID)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fits (id, model, state, result, error, created_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			state = excluded.state,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at,
			finished_at = excluded.finished_at`,
		j.ID, j.Model, string(j.State), result, j.Error,
		j.CreatedAt.UnixNano(), j.UpdatedAt.UnixNano(), nullTime(j.FinishedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "save job %s", j.ID)
	}
	return nil
}

const selectJob = `SELECT id, model, state, result, error, created_at, updated_at, finished_at FROM fits`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id)
	j, err := scanJob(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJob+` ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "list jobs")
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "list jobs")
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fits WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "delete job %s", id)
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j                Job
		state            string
		result           sql.NullString
		created, updated int64
		finished         sql.NullInt64
	)
	if err := row.Scan(&j.ID, &j.Model, &state, &result, &j.Error, &created, &updated, &finished); err != nil {
		return nil, err
	}
	j.State = State(state)
	j.CreatedAt = time.Unix(0, created).UTC()
	j.UpdatedAt = time.Unix(0, updated).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		j.FinishedAt = &t
	}
	if result.Valid {
		var r fitting.Result
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", j.ID, err)
		}
		j.Result = &r
	}
	return &j, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
