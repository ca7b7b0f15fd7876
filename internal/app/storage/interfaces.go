package storage

import (
	"context"

	"github.com/pointgrid/pointsledger/internal/app/domain/account"
	"github.com/pointgrid/pointsledger/internal/app/domain/ledger"
)

// Mutation is the atomic unit of a ledger operation: account upserts, log
// appends and aggregate deltas commit together or not at all. Accounts carry
// the already-computed new balances; entry sequence IDs are assigned by the
// store at commit time, in slice order.
type Mutation struct {
	Accounts      []account.Account
	Entries       []ledger.Entry
	Deltas        []ledger.StatsDelta
	IssuanceDelta int64
}

// LedgerStore persists accounts, the append-only transaction log and the
// per-account aggregates. Read methods never block writers beyond the
// store's own isolation; Apply is the only write path.
type LedgerStore interface {
	GetAccount(ctx context.Context, id string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)

	// CreateAccount inserts a brand-new account. It never updates an
	// existing row: a taken ID fails with ledger.ErrAccountExists, even
	// when the row was committed concurrently.
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)

	// QueryEntries returns the full match count for the account plus one
	// page ordered by sequence ID descending.
	QueryEntries(ctx context.Context, accountID string, limit, offset int) (int64, []ledger.Entry, error)

	GetStats(ctx context.Context, accountID string) (ledger.Stats, error)

	// TotalIssued is the sum of all balances, maintained alongside the log.
	TotalIssued(ctx context.Context) (int64, error)

	// Apply commits the mutation atomically and returns the entries with
	// their assigned sequence IDs. A failed Apply leaves no trace.
	Apply(ctx context.Context, m Mutation) ([]ledger.Entry, error)

	Ping(ctx context.Context) error
}
