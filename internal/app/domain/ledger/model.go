package ledger

import "time"

// EntryKind classifies a ledger entry by the operation that produced it.
type EntryKind string

const (
	KindEarn        EntryKind = "earn"
	KindSpend       EntryKind = "spend"
	KindTransferOut EntryKind = "transfer_out"
	KindTransferIn  EntryKind = "transfer_in"
)

// MaxDescriptionLen bounds caller-supplied entry descriptions, in runes.
const MaxDescriptionLen = 200

// Entry is one immutable record in the transaction log. SequenceID is
// assigned by the store at commit time and is strictly increasing across the
// whole log; entries are never updated or deleted.
type Entry struct {
	SequenceID     int64
	AccountID      string
	CounterpartyID string // set for transfer entries
	CorrelationID  string // shared by the two halves of a transfer
	Amount         int64  // magnitude, always positive
	Kind           EntryKind
	Description    string
	BalanceAfter   int64
	CreatedAt      time.Time
}

// Signed returns the entry amount with the sign implied by its kind.
func (e Entry) Signed() int64 {
	switch e.Kind {
	case KindSpend, KindTransferOut:
		return -e.Amount
	default:
		return e.Amount
	}
}

// Credits reports whether the kind increases a balance.
func (k EntryKind) Credits() bool {
	return k == KindEarn || k == KindTransferIn
}

// Stats summarises the committed entries of one account. It is maintained in
// the same atomic commit as the log append, so it never lags the log.
type Stats struct {
	AccountID      string
	CurrentBalance int64
	TotalEarned    int64
	TotalSpent     int64
	EarnCount      int64
	SpendCount     int64
}

// StatsDelta is the aggregate adjustment one committed entry contributes.
type StatsDelta struct {
	AccountID  string
	Earned     int64
	Spent      int64
	EarnCount  int64
	SpendCount int64
}

// DeltaFor derives the stats adjustment for an entry about to be committed.
func DeltaFor(e Entry) StatsDelta {
	d := StatsDelta{AccountID: e.AccountID}
	if e.Kind.Credits() {
		d.Earned = e.Amount
		d.EarnCount = 1
	} else {
		d.Spent = e.Amount
		d.SpendCount = 1
	}
	return d
}

// MutationResult reports a committed single-account operation.
type MutationResult struct {
	SequenceID    int64
	AccountID     string
	BalanceBefore int64
	BalanceAfter  int64
}

// TransferResult reports a committed two-sided transfer.
type TransferResult struct {
	CorrelationID string
	OutSequenceID int64
	InSequenceID  int64
	FromAccountID string
	ToAccountID   string
	FromBalance   int64
	ToBalance     int64
}

// Page is one slice of an account's history, newest first, together with the
// total number of matching entries regardless of paging.
type Page struct {
	Total   int64
	Limit   int
	Offset  int
	Entries []Entry
}
