package vbox

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// registryFile is the session registry's file name inside the base directory.
const registryFile = "sessions.db"

// record is one row of the session registry.
type record struct {
	ID         string
	Name       string
	Parameters *params.Set
	Local      *params.Set
	State      hypervisor.State
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// registry persists sessions in SQLite so other processes can find them.
type registry struct {
	db   *sql.DB
	path string
}

// openRegistry opens (creating if needed) the registry database at path and
// brings its schema up to date.
func openRegistry(ctx context.Context, path string) (*registry, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	r := &registry{db: db, path: path}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *registry) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("registry migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("registry migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("registry migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("registry migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *registry) Close() error {
	return r.db.Close()
}

// list returns every session in creation order.
func (r *registry) list(ctx context.Context) ([]*record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, parameters, local, state, created_at, updated_at
		FROM sessions
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*record
	for rows.Next() {
		var (
			rec        record
			paramsJSON string
			localJSON  string
			stateName  string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &paramsJSON, &localJSON, &stateName, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.Parameters = params.New()
		if err := json.Unmarshal([]byte(paramsJSON), rec.Parameters); err != nil {
			return nil, fmt.Errorf("session %s parameters: %w", rec.ID, err)
		}
		rec.Local = params.New()
		if err := json.Unmarshal([]byte(localJSON), rec.Local); err != nil {
			return nil, fmt.Errorf("session %s local: %w", rec.ID, err)
		}
		rec.State = parseState(stateName)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// insert adds rec. A name already taken by another session is rejected.
func (r *registry) insert(ctx context.Context, rec *record) error {
	p, l, err := encodeSets(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, parameters, local, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Name, p, l, rec.State.String(), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// update stores rec's mutable columns.
func (r *registry) update(ctx context.Context, rec *record) error {
	p, l, err := encodeSets(rec)
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET name = ?, parameters = ?, local = ?, state = ?, updated_at = ?
		WHERE id = ?
	`, rec.Name, p, l, rec.State.String(), rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRow(result, rec.ID)
}

// exists reports whether a session with id is registered.
func (r *registry) exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("find session: %w", err)
	}
	return n > 0, nil
}

// delete removes the session with id.
func (r *registry) delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", hypervisor.ErrSessionNotFound, id)
	}
	return nil
}

func encodeSets(rec *record) (string, string, error) {
	p, err := json.Marshal(rec.Parameters)
	if err != nil {
		return "", "", fmt.Errorf("encode parameters: %w", err)
	}
	l, err := json.Marshal(rec.Local)
	if err != nil {
		return "", "", fmt.Errorf("encode local: %w", err)
	}
	return string(p), string(l), nil
}

func parseState(name string) hypervisor.State {
	for st := hypervisor.StateAllocated; st <= hypervisor.StateDestroyed; st++ {
		if st.String() == name {
			return st
		}
	}
	return hypervisor.StateUnknown
}
