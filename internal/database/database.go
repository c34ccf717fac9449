package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/models"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps the SQL database with the ticket store operations
type DB struct {
	*sql.DB
	driver string
}

// New creates a new database connection
func New(driver, dataSourceName string) (*DB, error) {
	const op = "database.New"

	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%s: unsupported driver %q", op, driver)
	}
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection also keeps
		// in-memory databases alive across calls.
		db.SetMaxOpenConns(1)
	}
	return Wrap(db, driver), nil
}

// Wrap adopts an already opened handle.
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{DB: db, driver: driver}
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	const op = "database.InitSchema"

	statements := []string{
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			ticket_number BIGINT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			phone TEXT NOT NULL,
			email TEXT NOT NULL,
			status TEXT NOT NULL,
			position INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			called_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status, ticket_number)`,
		`CREATE TABLE IF NOT EXISTS queue_settings (
			id INTEGER PRIMARY KEY,
			current_ticket TEXT,
			last_ticket_number BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
		`INSERT INTO queue_settings (id, last_ticket_number, updated_at)
		VALUES (1, 0, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO NOTHING`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

const ticketColumns = `id, ticket_number, name, phone, email, status, position, created_at, called_at, completed_at`

// Enroll inserts a waiting ticket. Counter read, waiting count, insert and
// counter update share one transaction.
func (db *DB) Enroll(ctx context.Context, nt models.NewTicket) (*models.Ticket, error) {
	const op = "database.Enroll"

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	var lastNumber int64
	err = tx.QueryRowContext(ctx, db.rebind(
		"SELECT last_ticket_number FROM queue_settings WHERE id = 1"+db.forUpdate(),
	)).Scan(&lastNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("queue settings", "")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read counter: %w", op, err)
	}

	var waiting int
	err = tx.QueryRowContext(ctx, db.rebind(
		"SELECT COUNT(*) FROM tickets WHERE status = ?",
	), models.StatusWaiting).Scan(&waiting)
	if err != nil {
		return nil, fmt.Errorf("%s: count waiting: %w", op, err)
	}

	ticket := &models.Ticket{
		ID:           nt.ID,
		TicketNumber: lastNumber + 1,
		Name:         nt.Name,
		Phone:        nt.Phone,
		Email:        nt.Email,
		Status:       models.StatusWaiting,
		Position:     waiting,
		CreatedAt:    nt.CreatedAt,
	}

	_, err = tx.ExecContext(ctx, db.rebind(`
		INSERT INTO tickets (id, ticket_number, name, phone, email, status, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), ticket.ID, ticket.TicketNumber, ticket.Name, ticket.Phone, ticket.Email,
		ticket.Status, ticket.Position, ticket.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: insert ticket: %w", op, err)
	}

	_, err = tx.ExecContext(ctx, db.rebind(
		"UPDATE queue_settings SET last_ticket_number = ?, updated_at = ? WHERE id = 1",
	), ticket.TicketNumber, nt.CreatedAt)
	if err != nil {
		// The insert is rolled back with the counter.
		return nil, fmt.Errorf("%s: update counter after insert, rolled back: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return ticket, nil
}

// GetTicket retrieves a ticket by its ID
func (db *DB) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	const op = "database.GetTicket"

	row := db.QueryRowContext(ctx, db.rebind("SELECT "+ticketColumns+" FROM tickets WHERE id = ?"), id)
	ticket, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("ticket", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ticket, nil
}

// ListByStatus retrieves tickets with the given status in arrival order
func (db *DB) ListByStatus(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	const op = "database.ListByStatus"

	rows, err := db.QueryContext(ctx, db.rebind(
		"SELECT "+ticketColumns+" FROM tickets WHERE status = ? ORDER BY ticket_number ASC",
	), status)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		tickets = append(tickets, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tickets, nil
}

// ClaimNext atomically completes the current ticket and calls the next one
func (db *DB) ClaimNext(ctx context.Context, now time.Time) (*models.Ticket, error) {
	const op = "database.ClaimNext"

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	current, err := db.lockSettings(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// The row lock makes a concurrent Abandon wait for this transaction.
	row := tx.QueryRowContext(ctx, db.rebind(
		"SELECT "+ticketColumns+" FROM tickets WHERE status = ? ORDER BY ticket_number ASC LIMIT 1"+db.forUpdate(),
	), models.StatusWaiting)
	next, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: select next: %w", op, err)
	}

	if current != "" {
		if _, err := db.completeTicket(ctx, tx, current, now); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	res, err := tx.ExecContext(ctx, db.rebind(
		"UPDATE tickets SET status = ?, called_at = ? WHERE id = ? AND status = ?",
	), models.StatusBeingServed, now, next.ID, models.StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("%s: call ticket: %w", op, err)
	}
	if err := expectOneRow(res); err != nil {
		return nil, fmt.Errorf("%s: call ticket %s: %w", op, next.ID, err)
	}

	if err := db.setCurrent(ctx, tx, next.ID, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	calledAt := now
	next.Status = models.StatusBeingServed
	next.CalledAt = &calledAt
	return next, nil
}

// CompleteCurrent finishes the ticket being served, if any
func (db *DB) CompleteCurrent(ctx context.Context, now time.Time) (*models.Ticket, error) {
	const op = "database.CompleteCurrent"

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	current, err := db.lockSettings(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if current == "" {
		return nil, nil
	}

	completed, err := db.completeTicket(ctx, tx, current, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.setCurrent(ctx, tx, "", now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !completed {
		// A stale pointer is cleared; there was nothing to complete.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%s: commit: %w", op, err)
		}
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, db.rebind("SELECT "+ticketColumns+" FROM tickets WHERE id = ?"), current)
	ticket, err := scanTicket(row)
	if err != nil {
		return nil, fmt.Errorf("%s: reload: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}
	return ticket, nil
}

// Abandon marks a waiting ticket as abandoned
func (db *DB) Abandon(ctx context.Context, id string) (*models.Ticket, error) {
	const op = "database.Abandon"

	res, err := db.ExecContext(ctx, db.rebind(
		"UPDATE tickets SET status = ? WHERE id = ? AND status = ?",
	), models.StatusAbandoned, id, models.StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return nil, errs.NotFound("waiting ticket", id)
	}
	return db.GetTicket(ctx, id)
}

// Settings reads the singleton settings row
func (db *DB) Settings(ctx context.Context) (*models.QueueSettings, error) {
	const op = "database.Settings"

	var settings models.QueueSettings
	var current sql.NullString
	err := db.QueryRowContext(ctx,
		"SELECT current_ticket, last_ticket_number, updated_at FROM queue_settings WHERE id = 1",
	).Scan(&current, &settings.LastTicketNumber, &settings.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("queue settings", "")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	settings.CurrentTicketID = current.String
	return &settings, nil
}

func (db *DB) lockSettings(ctx context.Context, tx *sql.Tx) (string, error) {
	var current sql.NullString
	err := tx.QueryRowContext(ctx,
		"SELECT current_ticket FROM queue_settings WHERE id = 1"+db.forUpdate(),
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.NotFound("queue settings", "")
	}
	if err != nil {
		return "", fmt.Errorf("lock settings: %w", err)
	}
	return current.String, nil
}

// completeTicket reports whether the ticket was being served and is now
// completed.
func (db *DB) completeTicket(ctx context.Context, tx *sql.Tx, id string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, db.rebind(
		"UPDATE tickets SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
	), models.StatusCompleted, now, id, models.StatusBeingServed)
	if err != nil {
		return false, fmt.Errorf("complete ticket %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete ticket %s: %w", id, err)
	}
	return n == 1, nil
}

var errTicketChanged = errors.New("ticket changed status concurrently")

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return errTicketChanged
	}
	return nil
}

func (db *DB) setCurrent(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	_, err := tx.ExecContext(ctx, db.rebind(
		"UPDATE queue_settings SET current_ticket = ?, updated_at = ? WHERE id = 1",
	), nullString(id), now)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// forUpdate locks the selected rows on Postgres. SQLite transactions are
// opened with _txlock=immediate and already hold the write lock.
func (db *DB) forUpdate() string {
	if db.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// rebind rewrites ? placeholders to $n for Postgres.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*models.Ticket, error) {
	var t models.Ticket
	var calledAt, completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.TicketNumber, &t.Name, &t.Phone, &t.Email, &t.Status,
		&t.Position, &t.CreatedAt, &calledAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if calledAt.Valid {
		v := calledAt.Time
		t.CalledAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
