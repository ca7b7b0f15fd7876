package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pointgrid/pointsledger/internal/app/domain/account"
	"github.com/pointgrid/pointsledger/internal/app/domain/ledger"
	"github.com/pointgrid/pointsledger/internal/app/storage"
)

// Store implements storage.LedgerStore backed by PostgreSQL. Every Apply runs
// in one transaction so a failure partway leaves balances, log and aggregates
// untouched.
type Store struct {
	db *sql.DB
}

var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL DEFAULT '',
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence_id     BIGSERIAL PRIMARY KEY,
	account_id      TEXT NOT NULL REFERENCES accounts(id),
	counterparty_id TEXT NOT NULL DEFAULT '',
	correlation_id  TEXT NOT NULL DEFAULT '',
	amount          BIGINT NOT NULL CHECK (amount > 0),
	kind            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	balance_after   BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_seq
	ON ledger_entries (account_id, sequence_id DESC);

CREATE TABLE IF NOT EXISTS account_stats (
	account_id   TEXT PRIMARY KEY REFERENCES accounts(id),
	total_earned BIGINT NOT NULL DEFAULT 0,
	total_spent  BIGINT NOT NULL DEFAULT 0,
	earn_count   BIGINT NOT NULL DEFAULT 0,
	spend_count  BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS supply (
	singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	issued    BIGINT NOT NULL DEFAULT 0 CHECK (issued >= 0)
);

INSERT INTO supply (singleton, issued) VALUES (TRUE, 0) ON CONFLICT DO NOTHING;
`

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id)

	var acct account.Account
	if err := row.Scan(&acct.ID, &acct.Owner, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, fmt.Errorf("account %s: %w", id, ledger.ErrNotFound)
		}
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	now := time.Now().UTC()
	createdAt := acct.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	// DO NOTHING plus RETURNING: a conflicting row yields no result row, so
	// a concurrent insert surfaces as ErrAccountExists instead of an update.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, owner, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING id, owner, balance, created_at, updated_at
	`, acct.ID, acct.Owner, acct.Balance, createdAt, now)

	var created account.Account
	if err := row.Scan(&created.ID, &created.Owner, &created.Balance, &created.CreatedAt, &created.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, ledger.ErrAccountExists)
		}
		return account.Account{}, err
	}
	return created, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, balance, created_at, updated_at
		FROM accounts
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []account.Account
	for rows.Next() {
		var acct account.Account
		if err := rows.Scan(&acct.ID, &acct.Owner, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

func (s *Store) QueryEntries(ctx context.Context, accountID string, limit, offset int) (int64, []ledger.Entry, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return 0, nil, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1
	`, accountID).Scan(&total); err != nil {
		return 0, nil, err
	}

	if limit <= 0 || offset < 0 {
		return total, nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_id, account_id, counterparty_id, correlation_id,
		       amount, kind, description, balance_after, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY sequence_id DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.SequenceID, &e.AccountID, &e.CounterpartyID, &e.CorrelationID,
			&e.Amount, &e.Kind, &e.Description, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return 0, nil, err
		}
		entries = append(entries, e)
	}
	return total, entries, rows.Err()
}

func (s *Store) GetStats(ctx context.Context, accountID string) (ledger.Stats, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return ledger.Stats{}, err
	}

	st := ledger.Stats{AccountID: accountID, CurrentBalance: acct.Balance}
	err = s.db.QueryRowContext(ctx, `
		SELECT total_earned, total_spent, earn_count, spend_count
		FROM account_stats
		WHERE account_id = $1
	`, accountID).Scan(&st.TotalEarned, &st.TotalSpent, &st.EarnCount, &st.SpendCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ledger.Stats{}, err
	}
	return st, nil
}

func (s *Store) TotalIssued(ctx context.Context) (int64, error) {
	var issued int64
	err := s.db.QueryRowContext(ctx, `SELECT issued FROM supply`).Scan(&issued)
	return issued, err
}

func (s *Store) Apply(ctx context.Context, m storage.Mutation) ([]ledger.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Lock touched rows in ascending ID order so concurrent engine instances
	// sharing this database cannot deadlock.
	ids := make([]string, 0, len(m.Accounts))
	for _, acct := range m.Accounts {
		ids = append(ids, acct.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	for _, acct := range m.Accounts {
		createdAt := acct.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, owner, balance, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		`, acct.ID, acct.Owner, acct.Balance, createdAt, now)
		if err != nil {
			return nil, err
		}
	}

	committed := make([]ledger.Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO ledger_entries
				(account_id, counterparty_id, correlation_id, amount, kind, description, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING sequence_id
		`, e.AccountID, e.CounterpartyID, e.CorrelationID, e.Amount, string(e.Kind), e.Description, e.BalanceAfter, createdAt).Scan(&e.SequenceID)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt
		committed = append(committed, e)
	}

	for _, d := range m.Deltas {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO account_stats (account_id, total_earned, total_spent, earn_count, spend_count)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (account_id) DO UPDATE
			SET total_earned = account_stats.total_earned + EXCLUDED.total_earned,
			    total_spent  = account_stats.total_spent + EXCLUDED.total_spent,
			    earn_count   = account_stats.earn_count + EXCLUDED.earn_count,
			    spend_count  = account_stats.spend_count + EXCLUDED.spend_count
		`, d.AccountID, d.Earned, d.Spent, d.EarnCount, d.SpendCount)
		if err != nil {
			return nil, err
		}
	}

	if m.IssuanceDelta != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE supply SET issued = issued + $1`, m.IssuanceDelta); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
