package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/promptforge-ai/demon-engine/internal/db"
	"github.com/promptforge-ai/demon-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hottest queries to prepare on each new
// connection. The debit path runs get_account + the CAS update on every
// execute request.
var preparedStatements = map[string]string{
	"get_account": `SELECT user_id, balance, total_purchased, total_spent, starter_grant_used, plan,
		version, created_at, updated_at, archived_at FROM accounts WHERE user_id = $1`,
	"cas_balance": `UPDATE accounts
		SET balance = $1, total_purchased = total_purchased + $2, total_spent = total_spent + $3,
		    starter_grant_used = starter_grant_used OR $4, version = version + 1, updated_at = now()
		WHERE user_id = $5 AND version = $6`,
	"insert_transaction": `INSERT INTO ledger_transactions
		(transaction_id, user_id, type, amount, balance_after, request_id, source_event_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id            TEXT PRIMARY KEY,
	balance            BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	total_purchased    BIGINT NOT NULL DEFAULT 0,
	total_spent        BIGINT NOT NULL DEFAULT 0,
	starter_grant_used BOOLEAN NOT NULL DEFAULT false,
	plan               TEXT NOT NULL DEFAULT 'free',
	version            BIGINT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	archived_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	transaction_id  TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES accounts(user_id),
	type            TEXT NOT NULL,
	amount          BIGINT NOT NULL,
	balance_after   BIGINT NOT NULL,
	request_id      TEXT,
	source_event_id TEXT UNIQUE,
	description     TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_events (
	event_id       TEXT PRIMARY KEY,
	provider       TEXT NOT NULL,
	processed      BOOLEAN NOT NULL DEFAULT false,
	transaction_id TEXT,
	received_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_request ON ledger_transactions(request_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, userID string, plan model.Plan) (*model.CreditAccount, error) {
	if plan == "" {
		plan = model.PlanFree
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, plan) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET plan = excluded.plan, updated_at = now()`,
		userID, string(plan),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: ensure account %s", userID)
	}
	return s.GetAccount(ctx, userID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, balance, total_purchased, total_spent, starter_grant_used, plan,
		        version, created_at, updated_at, archived_at
		 FROM accounts WHERE user_id = $1`,
		userID,
	)

	var a model.CreditAccount
	err := row.Scan(&a.UserID, &a.Balance, &a.TotalPurchased, &a.TotalSpent,
		&a.StarterGrantUsed, &a.Plan, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.ArchivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get account %s", userID)
	}
	return &a, nil
}

func (s *PostgresStore) ArchiveAccount(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET archived_at = now(), updated_at = now()
		 WHERE user_id = $1 AND archived_at IS NULL`,
		userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: archive account %s", userID)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) ApplyTransaction(ctx context.Context, tx model.LedgerTransaction, expectedVersion int64, opts ApplyOptions) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer dbTx.Rollback(ctx)

	tag, err := dbTx.Exec(ctx,
		`UPDATE accounts
		 SET balance = $1, total_purchased = total_purchased + $2, total_spent = total_spent + $3,
		     starter_grant_used = starter_grant_used OR $4, version = version + 1, updated_at = now()
		 WHERE user_id = $5 AND version = $6`,
		tx.BalanceAfter, opts.PurchasedDelta, opts.SpentDelta, opts.MarkStarterUsed,
		tx.UserID, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update balance %s", tx.UserID)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	var sourceEvent any
	if tx.SourceEventID != "" {
		sourceEvent = tx.SourceEventID
	}
	_, err = dbTx.Exec(ctx,
		`INSERT INTO ledger_transactions
		 (transaction_id, user_id, type, amount, balance_after, request_id, source_event_id, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.TransactionID, tx.UserID, string(tx.Type), tx.Amount, tx.BalanceAfter,
		tx.RequestID, sourceEvent, tx.Description, tx.CreatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return eris.Wrapf(err, "postgres: insert transaction %s", tx.TransactionID)
	}

	return eris.Wrap(dbTx.Commit(ctx), "postgres: commit")
}

const selectTransactionPG = `SELECT transaction_id, user_id, type, amount, balance_after,
	COALESCE(request_id, ''), COALESCE(source_event_id, ''), COALESCE(description, ''), created_at
	FROM ledger_transactions`

func (s *PostgresStore) GetTransaction(ctx context.Context, transactionID string) (*model.LedgerTransaction, error) {
	return scanPGTransaction(s.pool.QueryRow(ctx,
		selectTransactionPG+` WHERE transaction_id = $1`, transactionID))
}

func (s *PostgresStore) GetTransactionBySourceEvent(ctx context.Context, sourceEventID string) (*model.LedgerTransaction, error) {
	return scanPGTransaction(s.pool.QueryRow(ctx,
		selectTransactionPG+` WHERE source_event_id = $1`, sourceEventID))
}

func scanPGTransaction(row pgx.Row) (*model.LedgerTransaction, error) {
	var t model.LedgerTransaction
	err := row.Scan(&t.TransactionID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter,
		&t.RequestID, &t.SourceEventID, &t.Description, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan transaction")
	}
	return &t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.LedgerTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		selectTransactionPG+` WHERE user_id = $1 ORDER BY created_at DESC, transaction_id LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list transactions %s", userID)
	}
	defer rows.Close()

	var out []model.LedgerTransaction
	for rows.Next() {
		var t model.LedgerTransaction
		if err := rows.Scan(&t.TransactionID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter,
			&t.RequestID, &t.SourceEventID, &t.Description, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transaction")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list transactions iterate")
}

func (s *PostgresStore) GetWebhookEvent(ctx context.Context, eventID string) (*model.WebhookEventRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT event_id, provider, processed, COALESCE(transaction_id, ''), received_at, processed_at
		 FROM webhook_events WHERE event_id = $1`,
		eventID,
	)

	var rec model.WebhookEventRecord
	err := row.Scan(&rec.EventID, &rec.Provider, &rec.Processed, &rec.TransactionID,
		&rec.ReceivedAt, &rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get webhook event %s", eventID)
	}
	return &rec, nil
}

func (s *PostgresStore) RecordWebhookEvent(ctx context.Context, rec model.WebhookEventRecord) error {
	var txID any
	if rec.TransactionID != "" {
		txID = rec.TransactionID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (event_id, provider, processed, transaction_id, received_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (event_id) DO UPDATE SET
		   processed = excluded.processed,
		   transaction_id = excluded.transaction_id,
		   processed_at = excluded.processed_at`,
		rec.EventID, rec.Provider, rec.Processed, txID, rec.ReceivedAt, rec.ProcessedAt,
	)
	return eris.Wrapf(err, "postgres: record webhook event %s", rec.EventID)
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
