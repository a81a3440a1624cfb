// Package history persists the durable per-order record behind the
// history API and post-mortem debugging. Postgres is the production
// driver; SQLite serves development and tests with identical semantics.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	log "github.com/sirupsen/logrus"

	// Database drivers are selected by name at Open.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/riptidelabs/orderflow/go/order"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Entry is one element of an order's status history.
type Entry struct {
	Status     order.Status `json:"status"`
	Detail     string       `json:"detail,omitempty"`
	Link       string       `json:"link,omitempty"`
	RecordedAt time.Time    `json:"recordedAt"`
}

// Record is a full order row as served by the history API.
type Record struct {
	OrderID        string         `db:"order_id" json:"orderId"`
	OrderType      string         `db:"order_type" json:"orderType"`
	TokenIn        string         `db:"token_in" json:"tokenIn"`
	TokenOut       string         `db:"token_out" json:"tokenOut"`
	Amount         int64          `db:"amount" json:"amount"`
	Status         order.Status   `db:"status" json:"status"`
	Venue          *string        `db:"venue" json:"venue,omitempty"`
	TxHash         *string        `db:"tx_hash" json:"txHash,omitempty"`
	ExecutedAmount *int64         `db:"executed_amount" json:"executedAmount,omitempty"`
	QuoteResponse  types.JSONText `db:"quote_response" json:"quoteResponse"`
	StatusHistory  types.JSONText `db:"status_history" json:"statusHistory"`
	LastError      *string        `db:"last_error" json:"lastError,omitempty"`
	ExplorerLink   *string        `db:"explorer_link" json:"explorerLink,omitempty"`
	ReceivedAt     time.Time      `db:"received_at" json:"receivedAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}

// Update mutates an order row as it advances. Empty string fields leave
// the stored value untouched; a nil ExecutedAmount does likewise.
type Update struct {
	OrderID        string
	Status         order.Status
	Detail         string
	Link           string
	Venue          string
	TxHash         string
	ExplorerLink   string
	ExecutedAmount *int64
	LastError      string
	At             time.Time
}

// Query selects a history page: newest first, strictly older than Cursor
// when set.
type Query struct {
	Limit  int
	Cursor *time.Time
}

// Page is one slice of history plus the pagination envelope.
type Page struct {
	Data       []Record
	Limit      int
	NextCursor *time.Time
	HasMore    bool
}

// Store wraps the order_history table.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects, configures the pool, and verifies the database is
// reachable. driver is DriverPostgres or DriverSQLite.
func Open(ctx context.Context, driver, dsn string, poolMax int, idleTimeout time.Duration) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if poolMax > 0 {
		db.SetMaxOpenConns(poolMax)
	}
	if idleTimeout > 0 {
		db.SetConnMaxIdleTime(idleTimeout)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", driver, err)
	}
	return &Store{db: db, driver: driver}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the order_history table and its indexes when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	var ddl string
	switch s.driver {
	case DriverPostgres:
		ddl = `
		CREATE TABLE IF NOT EXISTS order_history (
			order_id        TEXT PRIMARY KEY,
			order_type      TEXT NOT NULL,
			token_in        TEXT NOT NULL,
			token_out       TEXT NOT NULL,
			amount          BIGINT NOT NULL,
			status          TEXT NOT NULL,
			venue           TEXT,
			tx_hash         TEXT,
			executed_amount BIGINT,
			quote_response  JSONB NOT NULL DEFAULT 'null'::jsonb,
			status_history  JSONB NOT NULL DEFAULT '[]'::jsonb,
			last_error      TEXT,
			explorer_link   TEXT,
			received_at     TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`
	case DriverSQLite:
		ddl = `
		CREATE TABLE IF NOT EXISTS order_history (
			order_id        TEXT PRIMARY KEY,
			order_type      TEXT NOT NULL,
			token_in        TEXT NOT NULL,
			token_out       TEXT NOT NULL,
			amount          INTEGER NOT NULL,
			status          TEXT NOT NULL,
			venue           TEXT,
			tx_hash         TEXT,
			executed_amount INTEGER,
			quote_response  TEXT NOT NULL DEFAULT 'null',
			status_history  TEXT NOT NULL DEFAULT '[]',
			last_error      TEXT,
			explorer_link   TEXT,
			received_at     TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL
		)`
	default:
		return fmt.Errorf("unsupported history driver %q", s.driver)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating order_history: %w", err)
	}
	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_order_history_updated_at ON order_history (updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_order_history_status ON order_history (status)`,
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// Insert seeds the row for a freshly accepted order in pending status.
// Redelivered inserts of the same order are no-ops.
func (s *Store) Insert(ctx context.Context, job *order.Job, detail string) error {
	var at = job.ReceivedAt.UTC()
	seed, err := json.Marshal([]Entry{{
		Status:     order.StatusPending,
		Detail:     detail,
		RecordedAt: at,
	}})
	if err != nil {
		return fmt.Errorf("encoding initial status history: %w", err)
	}

	var q = s.db.Rebind(`
	INSERT INTO order_history
		(order_id, order_type, token_in, token_out, amount, status, status_history, received_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ` + s.jsonParam() + `, ?, ?)
	ON CONFLICT (order_id) DO NOTHING`)

	if _, err = s.db.ExecContext(ctx, q,
		job.OrderID, string(job.OrderType), job.TokenIn, job.TokenOut,
		int64(job.Amount), string(order.StatusPending), string(seed), at, at,
	); err != nil {
		return fmt.Errorf("inserting order %s: %w", job.OrderID, err)
	}
	return nil
}

// AppendStatus advances an order: sets the current status, appends one
// status-history entry, bumps updated_at, and fills any side fields the
// update carries. An unknown order logs a warning and returns nil, since
// a redelivered job may race deletion or a mis-seeded environment.
func (s *Store) AppendStatus(ctx context.Context, u Update) error {
	if u.At.IsZero() {
		u.At = time.Now()
	}
	u.At = u.At.UTC()

	var entry = Entry{Status: u.Status, Detail: u.Detail, Link: u.Link, RecordedAt: u.At}
	var appendArg []byte
	var appendExpr string
	var err error
	switch s.driver {
	case DriverPostgres:
		// Concatenate a single-element array onto the stored array.
		if appendArg, err = json.Marshal([]Entry{entry}); err == nil {
			appendExpr = `status_history || ?::jsonb`
		}
	case DriverSQLite:
		if appendArg, err = json.Marshal(entry); err == nil {
			appendExpr = `json_insert(status_history, '$[#]', json(?))`
		}
	default:
		return fmt.Errorf("unsupported history driver %q", s.driver)
	}
	if err != nil {
		return fmt.Errorf("encoding status entry: %w", err)
	}

	var q = s.db.Rebind(`
	UPDATE order_history SET
		status          = ?,
		status_history  = ` + appendExpr + `,
		venue           = COALESCE(NULLIF(?, ''), venue),
		tx_hash         = COALESCE(NULLIF(?, ''), tx_hash),
		explorer_link   = COALESCE(NULLIF(?, ''), explorer_link),
		executed_amount = COALESCE(?, executed_amount),
		last_error      = COALESCE(NULLIF(?, ''), last_error),
		updated_at      = ?
	WHERE order_id = ?`)

	res, err := s.db.ExecContext(ctx, q,
		string(u.Status), string(appendArg),
		u.Venue, u.TxHash, u.ExplorerLink, u.ExecutedAmount, u.LastError,
		u.At, u.OrderID,
	)
	if err != nil {
		return fmt.Errorf("updating order %s to %s: %w", u.OrderID, u.Status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		log.WithFields(log.Fields{"orderId": u.OrderID, "status": u.Status}).
			Warn("status update for an order with no history row")
	}
	return nil
}

// RecordRoutingDecision stores the winning venue and the full quote
// payload for later inspection. It intentionally doesn't bump updated_at;
// the surrounding status transitions do that.
func (s *Store) RecordRoutingDecision(ctx context.Context, orderID, venue string, quote any) error {
	quoteJSON, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("encoding quote for order %s: %w", orderID, err)
	}
	var q = s.db.Rebind(`
	UPDATE order_history SET venue = ?, quote_response = ` + s.jsonParam() + `
	WHERE order_id = ?`)
	if _, err = s.db.ExecContext(ctx, q, venue, string(quoteJSON), orderID); err != nil {
		return fmt.Errorf("recording routing decision for order %s: %w", orderID, err)
	}
	return nil
}

// Get fetches one order's record.
func (s *Store) Get(ctx context.Context, orderID string) (*Record, error) {
	var rec Record
	var q = s.db.Rebind(selectColumns + ` WHERE order_id = ?`)
	if err := s.db.GetContext(ctx, &rec, q, orderID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching order %s: %w", orderID, err)
	}
	return &rec, nil
}

const selectColumns = `
SELECT order_id, order_type, token_in, token_out, amount, status,
       venue, tx_hash, executed_amount, quote_response, status_history,
       last_error, explorer_link, received_at, updated_at
FROM order_history`

// List returns a page of history, newest first. Limits outside [1, 200]
// are clamped; zero means the default of 50. NextCursor points past the
// page iff the page came back full.
func (s *Store) List(ctx context.Context, query Query) (Page, error) {
	var limit = query.Limit
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}

	var rows []Record
	var err error
	if query.Cursor != nil {
		var q = s.db.Rebind(selectColumns + `
		WHERE updated_at < ? ORDER BY updated_at DESC, order_id DESC LIMIT ?`)
		err = s.db.SelectContext(ctx, &rows, q, query.Cursor.UTC(), limit)
	} else {
		var q = s.db.Rebind(selectColumns + `
		ORDER BY updated_at DESC, order_id DESC LIMIT ?`)
		err = s.db.SelectContext(ctx, &rows, q, limit)
	}
	if err != nil {
		return Page{}, fmt.Errorf("listing order history: %w", err)
	}

	var page = Page{Data: rows, Limit: limit}
	if len(rows) == limit {
		var last = rows[len(rows)-1].UpdatedAt
		page.NextCursor = &last
		page.HasMore = true
	}
	return page, nil
}

// jsonParam renders a placeholder which coerces a JSON string argument
// into the column's JSON representation.
func (s *Store) jsonParam() string {
	if s.driver == DriverPostgres {
		return `?::jsonb`
	}
	return `json(?)`
}
