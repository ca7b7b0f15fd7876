package account

import "time"

// Account holds the authoritative point balance for one holder. Balances are
// whole points and never go negative; mutation happens only through the
// ledger engine's locked commit path.
type Account struct {
	ID        string
	Owner     string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
