package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Driver SQLite (pure Go)

	"github.com/xKoRx/echo-bridge/sdk/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    account_id      TEXT PRIMARY KEY,
    nickname        TEXT    NOT NULL DEFAULT '',
    broker          TEXT    NOT NULL DEFAULT '',
    server          TEXT    NOT NULL DEFAULT '',
    symbol          TEXT    NOT NULL DEFAULT '',
    status          TEXT    NOT NULL,
    symbol_received INTEGER NOT NULL DEFAULT 0,
    ea_version      TEXT    NOT NULL DEFAULT '',
    balance         REAL    NOT NULL DEFAULT 0,
    equity          REAL    NOT NULL DEFAULT 0,
    last_seen_ms    INTEGER NOT NULL DEFAULT 0,
    created_at_ms   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS copy_pairs (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    master_account TEXT    NOT NULL,
    slave_account  TEXT    NOT NULL,
    enabled        INTEGER NOT NULL DEFAULT 1,
    created_at_ms  INTEGER NOT NULL,
    UNIQUE (master_account, slave_account)
);

CREATE INDEX IF NOT EXISTS idx_pairs_master ON copy_pairs(master_account, enabled);
`

// SQLiteStore persiste cuentas y copy pairs en un archivo SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite abre (o crea) la base en path y aplica el schema.
// Acepta ":memory:" para pruebas.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// SQLite es single-writer; con :memory: además cada conexión sería otra base
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Accounts retorna el repositorio de cuentas.
func (s *SQLiteStore) Accounts() domain.AccountRepository {
	return &sqliteAccountRepo{db: s.db}
}

// CopyPairs retorna el repositorio de copy pairs.
func (s *SQLiteStore) CopyPairs() domain.CopyPairRepository {
	return &sqliteCopyPairRepo{db: s.db}
}

// Close cierra la base.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ===========================================================================
// sqliteAccountRepo
// ===========================================================================

type sqliteAccountRepo struct {
	db *sql.DB
}

func (r *sqliteAccountRepo) Upsert(ctx context.Context, account *domain.SlaveAccount) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			account_id, nickname, broker, server, symbol, status, symbol_received,
			ea_version, balance, equity, last_seen_ms, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			nickname = excluded.nickname,
			broker = excluded.broker,
			server = excluded.server,
			symbol = excluded.symbol,
			status = excluded.status,
			symbol_received = excluded.symbol_received,
			ea_version = excluded.ea_version,
			balance = excluded.balance,
			equity = excluded.equity,
			last_seen_ms = excluded.last_seen_ms
	`,
		account.AccountID,
		account.Nickname,
		account.Broker,
		account.Server,
		account.Symbol,
		string(account.Status),
		boolToInt(account.SymbolReceived),
		account.EAVersion,
		account.Balance,
		account.Equity,
		toMillis(account.LastSeen),
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", account.AccountID, err)
	}
	return nil
}

func (r *sqliteAccountRepo) Get(ctx context.Context, accountID string) (*domain.SlaveAccount, error) {
	row := r.db.QueryRowContext(ctx, accountColumns+` WHERE account_id = ?`, accountID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}
	return account, nil
}

func (r *sqliteAccountRepo) List(ctx context.Context) ([]*domain.SlaveAccount, error) {
	rows, err := r.db.QueryContext(ctx, accountColumns+` ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.SlaveAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return accounts, nil
}

func (r *sqliteAccountRepo) Delete(ctx context.Context, accountID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM copy_pairs WHERE master_account = ? OR slave_account = ?`, accountID, accountID); err != nil {
		return fmt.Errorf("failed to delete pairs of %s: %w", accountID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to delete account %s: %w", accountID, err)
	}
	return tx.Commit()
}

const accountColumns = `SELECT account_id, nickname, broker, server, symbol, status, symbol_received,
	ea_version, balance, equity, last_seen_ms, created_at_ms FROM accounts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*domain.SlaveAccount, error) {
	var (
		a              domain.SlaveAccount
		status         string
		symbolReceived int
		lastSeenMs     int64
		createdAtMs    int64
	)
	if err := row.Scan(
		&a.AccountID,
		&a.Nickname,
		&a.Broker,
		&a.Server,
		&a.Symbol,
		&status,
		&symbolReceived,
		&a.EAVersion,
		&a.Balance,
		&a.Equity,
		&lastSeenMs,
		&createdAtMs,
	); err != nil {
		return nil, err
	}
	parsed, ok := domain.ParseAccountStatus(status)
	if !ok {
		parsed = domain.AccountStatusAwaitingActivation
	}
	a.Status = parsed
	a.SymbolReceived = symbolReceived != 0
	a.LastSeen = fromMillis(lastSeenMs)
	a.CreatedAt = fromMillis(createdAtMs)
	return &a, nil
}

// ===========================================================================
// sqliteCopyPairRepo
// ===========================================================================

type sqliteCopyPairRepo struct {
	db *sql.DB
}

func (r *sqliteCopyPairRepo) Create(ctx context.Context, pair *domain.CopyPair) (*domain.CopyPair, error) {
	if pair == nil {
		return nil, fmt.Errorf("nil copy pair")
	}
	createdAt := pair.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO copy_pairs (master_account, slave_account, enabled, created_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(master_account, slave_account) DO NOTHING
	`, pair.MasterAccount, pair.SlaveAccount, boolToInt(pair.Enabled), toMillis(createdAt)); err != nil {
		return nil, fmt.Errorf("failed to create copy pair %s->%s: %w", pair.MasterAccount, pair.SlaveAccount, err)
	}

	stored, err := r.query(ctx, pairColumns+` WHERE master_account = ? AND slave_account = ?`,
		pair.MasterAccount, pair.SlaveAccount)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("copy pair %s->%s missing after insert", pair.MasterAccount, pair.SlaveAccount)
	}
	return stored[0], nil
}

func (r *sqliteCopyPairRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE copy_pairs SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to update copy pair %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewError(domain.ErrUnknownPair, fmt.Sprintf("copy pair %d not found", id))
	}
	return nil
}

func (r *sqliteCopyPairRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM copy_pairs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete copy pair %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewError(domain.ErrUnknownPair, fmt.Sprintf("copy pair %d not found", id))
	}
	return nil
}

func (r *sqliteCopyPairRepo) ListByMaster(ctx context.Context, masterAccount string) ([]*domain.CopyPair, error) {
	return r.query(ctx, pairColumns+` WHERE master_account = ? AND enabled = 1 ORDER BY id`, masterAccount)
}

func (r *sqliteCopyPairRepo) List(ctx context.Context) ([]*domain.CopyPair, error) {
	return r.query(ctx, pairColumns+` ORDER BY id`)
}

const pairColumns = `SELECT id, master_account, slave_account, enabled, created_at_ms FROM copy_pairs`

func (r *sqliteCopyPairRepo) query(ctx context.Context, query string, args ...interface{}) ([]*domain.CopyPair, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query copy pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*domain.CopyPair
	for rows.Next() {
		var (
			p           domain.CopyPair
			enabled     int
			createdAtMs int64
		)
		if err := rows.Scan(&p.ID, &p.MasterAccount, &p.SlaveAccount, &enabled, &createdAtMs); err != nil {
			return nil, fmt.Errorf("failed to scan copy pair: %w", err)
		}
		p.Enabled = enabled != 0
		p.CreatedAt = fromMillis(createdAtMs)
		pairs = append(pairs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return pairs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
