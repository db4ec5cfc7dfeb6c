package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Suitable for
// single-process deployments and tests; the balance CAS works the same
// way as in Postgres, via a versioned UPDATE.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Serialize writers at the driver level; the CAS handles logical races.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id            TEXT PRIMARY KEY,
	balance            INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	total_purchased    INTEGER NOT NULL DEFAULT 0,
	total_spent        INTEGER NOT NULL DEFAULT 0,
	starter_grant_used INTEGER NOT NULL DEFAULT 0,
	plan               TEXT NOT NULL DEFAULT 'free',
	version            INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	archived_at        DATETIME
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	transaction_id  TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES accounts(user_id),
	type            TEXT NOT NULL,
	amount          INTEGER NOT NULL,
	balance_after   INTEGER NOT NULL,
	request_id      TEXT,
	source_event_id TEXT UNIQUE,
	description     TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS webhook_events (
	event_id       TEXT PRIMARY KEY,
	provider       TEXT NOT NULL,
	processed      INTEGER NOT NULL DEFAULT 0,
	transaction_id TEXT,
	received_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	processed_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_request ON ledger_transactions(request_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureAccount(ctx context.Context, userID string, plan model.Plan) (*model.CreditAccount, error) {
	if plan == "" {
		plan = model.PlanFree
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, plan, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET plan = excluded.plan, updated_at = excluded.updated_at`,
		userID, string(plan), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: ensure account %s", userID)
	}
	return s.GetAccount(ctx, userID)
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, balance, total_purchased, total_spent, starter_grant_used, plan,
		        version, created_at, updated_at, archived_at
		 FROM accounts WHERE user_id = ?`,
		userID,
	)

	var a model.CreditAccount
	var archived sql.NullTime
	err := row.Scan(&a.UserID, &a.Balance, &a.TotalPurchased, &a.TotalSpent,
		&a.StarterGrantUsed, &a.Plan, &a.Version, &a.CreatedAt, &a.UpdatedAt, &archived)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get account %s", userID)
	}
	if archived.Valid {
		a.ArchivedAt = &archived.Time
	}
	return &a, nil
}

func (s *SQLiteStore) ArchiveAccount(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET archived_at = ?, updated_at = ? WHERE user_id = ? AND archived_at IS NULL`,
		time.Now().UTC(), time.Now().UTC(), userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: archive account %s", userID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *SQLiteStore) ApplyTransaction(ctx context.Context, tx model.LedgerTransaction, expectedVersion int64, opts ApplyOptions) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer dbTx.Rollback()

	starterUsed := 0
	if opts.MarkStarterUsed {
		starterUsed = 1
	}
	res, err := dbTx.ExecContext(ctx,
		`UPDATE accounts
		 SET balance = ?, total_purchased = total_purchased + ?, total_spent = total_spent + ?,
		     starter_grant_used = CASE WHEN ? = 1 THEN 1 ELSE starter_grant_used END,
		     version = version + 1, updated_at = ?
		 WHERE user_id = ? AND version = ?`,
		tx.BalanceAfter, opts.PurchasedDelta, opts.SpentDelta, starterUsed,
		time.Now().UTC(), tx.UserID, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update balance %s", tx.UserID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrVersionConflict
	}

	var sourceEvent any
	if tx.SourceEventID != "" {
		sourceEvent = tx.SourceEventID
	}
	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO ledger_transactions
		 (transaction_id, user_id, type, amount, balance_after, request_id, source_event_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.TransactionID, tx.UserID, string(tx.Type), tx.Amount, tx.BalanceAfter,
		tx.RequestID, sourceEvent, tx.Description, tx.CreatedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return eris.Wrapf(err, "sqlite: insert transaction %s", tx.TransactionID)
	}

	return eris.Wrap(dbTx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, transactionID string) (*model.LedgerTransaction, error) {
	return s.scanTransaction(s.db.QueryRowContext(ctx,
		selectTransactionSQLite+` WHERE transaction_id = ?`, transactionID))
}

func (s *SQLiteStore) GetTransactionBySourceEvent(ctx context.Context, sourceEventID string) (*model.LedgerTransaction, error) {
	return s.scanTransaction(s.db.QueryRowContext(ctx,
		selectTransactionSQLite+` WHERE source_event_id = ?`, sourceEventID))
}

const selectTransactionSQLite = `SELECT transaction_id, user_id, type, amount, balance_after,
	request_id, source_event_id, description, created_at FROM ledger_transactions`

func (s *SQLiteStore) scanTransaction(row *sql.Row) (*model.LedgerTransaction, error) {
	var t model.LedgerTransaction
	var requestID, sourceEvent, description sql.NullString
	err := row.Scan(&t.TransactionID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter,
		&requestID, &sourceEvent, &description, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan transaction")
	}
	t.RequestID = requestID.String
	t.SourceEventID = sourceEvent.String
	t.Description = description.String
	return &t, nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.LedgerTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectTransactionSQLite+` WHERE user_id = ? ORDER BY created_at DESC, transaction_id LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list transactions %s", userID)
	}
	defer rows.Close()

	var out []model.LedgerTransaction
	for rows.Next() {
		var t model.LedgerTransaction
		var requestID, sourceEvent, description sql.NullString
		if err := rows.Scan(&t.TransactionID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter,
			&requestID, &sourceEvent, &description, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transaction")
		}
		t.RequestID = requestID.String
		t.SourceEventID = sourceEvent.String
		t.Description = description.String
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list transactions iterate")
}

func (s *SQLiteStore) GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEventRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT event_id, provider, processed, transaction_id, received_at, processed_at
		 FROM webhook_events WHERE event_id = ?`,
		eventID,
	)

	var rec model.WebhookEventRecord
	var txID sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&rec.EventID, &rec.Provider, &rec.Processed, &txID, &rec.ReceivedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get webhook event %s", eventID)
	}
	rec.TransactionID = txID.String
	if processedAt.Valid {
		rec.ProcessedAt = &processedAt.Time
	}
	return &rec, nil
}

func (s *SQLiteStore) RecordWebhookEvent(ctx context.Context, rec model.WebhookEventRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, provider, processed, transaction_id, received_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET
		   processed = excluded.processed,
		   transaction_id = excluded.transaction_id,
		   processed_at = excluded.processed_at`,
		rec.EventID, rec.Provider, rec.Processed, nullIfEmpty(rec.TransactionID),
		rec.ReceivedAt, rec.ProcessedAt,
	)
	return eris.Wrapf(err, "sqlite: record webhook event %s", rec.EventID)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
