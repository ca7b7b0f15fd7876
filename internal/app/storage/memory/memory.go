package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pointgrid/pointsledger/internal/app/domain/account"
	"github.com/pointgrid/pointsledger/internal/app/domain/ledger"
	"github.com/pointgrid/pointsledger/internal/app/storage"
)

// Store is an in-memory implementation of storage.LedgerStore. It is safe
// for concurrent use and is primarily intended for tests and local runs.
type Store struct {
	mu       sync.RWMutex
	nextSeq  int64
	issued   int64
	accounts map[string]account.Account
	entries  map[string][]ledger.Entry // accountID -> entries, oldest first
	stats    map[string]ledger.Stats
}

var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextSeq:  1,
		accounts: make(map[string]account.Account),
		entries:  make(map[string][]ledger.Entry),
		stats:    make(map[string]ledger.Stats),
	}
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, ledger.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; ok {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, ledger.ErrAccountExists)
	}

	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now
	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct)
	}
	// Newest first; ID as tiebreaker for a stable order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) QueryEntries(_ context.Context, accountID string, limit, offset int) (int64, []ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return 0, nil, fmt.Errorf("account %s: %w", accountID, ledger.ErrNotFound)
	}

	all := s.entries[accountID]
	total := int64(len(all))

	if limit <= 0 || offset < 0 || offset >= len(all) {
		return total, nil, nil
	}

	// Entries are stored oldest first; page from the tail.
	page := make([]ledger.Entry, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(page) < limit; i-- {
		page = append(page, all[i])
	}
	return total, page, nil
}

func (s *Store) GetStats(_ context.Context, accountID string) (ledger.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return ledger.Stats{}, fmt.Errorf("account %s: %w", accountID, ledger.ErrNotFound)
	}

	st := s.stats[accountID]
	st.AccountID = accountID
	st.CurrentBalance = acct.Balance
	return st, nil
}

func (s *Store) TotalIssued(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.issued, nil
}

func (s *Store) Apply(_ context.Context, m storage.Mutation) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	// Validate before touching state so a rejected mutation leaves no trace.
	for _, acct := range m.Accounts {
		if acct.Balance < 0 {
			return nil, fmt.Errorf("refusing negative balance for account %s", acct.ID)
		}
	}

	for _, acct := range m.Accounts {
		existing, ok := s.accounts[acct.ID]
		if ok {
			acct.CreatedAt = existing.CreatedAt
		} else if acct.CreatedAt.IsZero() {
			acct.CreatedAt = now
		}
		acct.UpdatedAt = now
		s.accounts[acct.ID] = acct
	}

	committed := make([]ledger.Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		e.SequenceID = s.nextSeq
		s.nextSeq++
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.entries[e.AccountID] = append(s.entries[e.AccountID], e)
		committed = append(committed, e)
	}

	for _, d := range m.Deltas {
		st := s.stats[d.AccountID]
		st.TotalEarned += d.Earned
		st.TotalSpent += d.Spent
		st.EarnCount += d.EarnCount
		st.SpendCount += d.SpendCount
		s.stats[d.AccountID] = st
	}

	s.issued += m.IssuanceDelta
	return committed, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }
