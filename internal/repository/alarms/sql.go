package alarms

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Register the postgres driver.
	_ "github.com/lib/pq"
	// Register the sqlite driver.
	_ "modernc.org/sqlite"

	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

const (
	// DriverSQLite selects modernc.org/sqlite.
	DriverSQLite = "sqlite"
	// DriverPostgres selects github.com/lib/pq.
	DriverPostgres = "postgres"
)

const createSchemaQuery = `CREATE TABLE IF NOT EXISTS alarms (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	fire_at_ms BIGINT
)`

// SQL keeps the registry in a relational table. It has no push channel,
// so sessions poll it.
type SQL struct {
	// db is the connection pool.
	db *sql.DB
	// driver picks the placeholder dialect.
	driver string
}

// OpenSQL opens and pings a database for driver.
func OpenSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	return db, nil
}

// NewSQL wraps an open database.
func NewSQL(db *sql.DB, driver string) *SQL {
	return &SQL{
		db:     db,
		driver: driver,
	}
}

// CreateSchema creates the alarms table if it is missing.
func (s *SQL) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchemaQuery); err != nil {
		return fmt.Errorf("create alarms table: %w", err)
	}

	return nil
}

// CurrentAlarms reads every row ordered by id.
func (s *SQL) CurrentAlarms(ctx context.Context) ([]domain.Alarm, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, state, fire_at_ms FROM alarms ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var result []domain.Alarm

	for rows.Next() {
		var (
			id, state string
			fireAt    sql.NullInt64
		)

		if err = rows.Scan(&id, &state, &fireAt); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}

		parsed, err := domain.ParseState(state)
		if err != nil {
			return nil, fmt.Errorf("alarm %q: %w", id, err)
		}

		a := domain.Alarm{ID: id, State: parsed}
		if fireAt.Valid {
			a.FireDate = domain.TimePtr(time.UnixMilli(fireAt.Int64).UTC())
		}

		result = append(result, a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alarms: %w", err)
	}

	return result, nil
}

// Put inserts or updates a row.
func (s *SQL) Put(ctx context.Context, a domain.Alarm) error {
	var fireAt sql.NullInt64
	if a.FireDate != nil {
		fireAt = sql.NullInt64{Int64: a.FireDate.UnixMilli(), Valid: true}
	}

	query := s.rebind(`INSERT INTO alarms (id, state, fire_at_ms) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET state = excluded.state, fire_at_ms = excluded.fire_at_ms`)

	if _, err := s.db.ExecContext(ctx, query, a.ID, a.State.String(), fireAt); err != nil {
		return fmt.Errorf("store alarm %q: %w", a.ID, err)
	}

	return nil
}

// Delete removes a row. Missing rows are not an error.
func (s *SQL) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM alarms WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete alarm %q: %w", id, err)
	}

	return nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQL) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	out := make([]byte, 0, len(query)+8)
	n := 0

	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			out = append(out, query[i])
			continue
		}

		n++
		out = append(out, '$')
		out = fmt.Appendf(out, "%d", n)
	}

	return string(out)
}
