// Package ledger implements the point ledger engine: balance mutation with
// per-account locking, the append-only transaction log, supply enforcement
// and the read surface built on top of both.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pointgrid/pointsledger/internal/app/domain/account"
	domain "github.com/pointgrid/pointsledger/internal/app/domain/ledger"
	"github.com/pointgrid/pointsledger/internal/app/metrics"
	"github.com/pointgrid/pointsledger/internal/app/storage"
	"github.com/pointgrid/pointsledger/pkg/logger"
)

// DefaultMaxSupply caps total issuance when no limit is configured.
const DefaultMaxSupply = 1_000_000

// DefaultHistoryLimit is the page size used when a caller does not specify
// one.
const DefaultHistoryLimit = 10

// MaxHistoryLimit bounds a single history page.
const MaxHistoryLimit = 100

// Service is the ledger engine. Every mutating operation validates input,
// consults the authorizer, takes the per-account locks in ascending ID order
// and commits balance update, log append and aggregate update as one
// storage.Mutation. A failed operation leaves no observable state change.
type Service struct {
	store     storage.LedgerStore
	authz     Authorizer
	maxSupply int64
	log       *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// supplyMu serialises credits so the issuance ceiling check and the
	// commit it guards cannot interleave with another credit.
	supplyMu sync.Mutex
}

// New constructs the engine. A nil authorizer falls back to RoleAuthorizer
// and a non-positive maxSupply to DefaultMaxSupply.
func New(store storage.LedgerStore, authz Authorizer, maxSupply int64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if authz == nil {
		authz = RoleAuthorizer{}
	}
	if maxSupply <= 0 {
		maxSupply = DefaultMaxSupply
	}
	return &Service{
		store:     store,
		authz:     authz,
		maxSupply: maxSupply,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
	}
}

// MaxSupply returns the configured issuance ceiling.
func (s *Service) MaxSupply() int64 { return s.maxSupply }

// accountLock returns the mutation mutex for one account, creating it on
// first use. The map grows with every distinct ID ever locked and entries
// are never evicted; a retention policy is needed before account
// cardinality becomes unbounded.
func (s *Service) accountLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// lockAccounts acquires the exclusive mutation locks for the given accounts
// in ascending ID order, regardless of argument order, and returns the
// matching unlock.
func (s *Service) lockAccounts(ids ...string) func() {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)

	held := make([]*sync.Mutex, 0, len(unique))
	for _, id := range unique {
		l := s.accountLock(id)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func validAmount(amount int64) error {
	if amount <= 0 {
		return &domain.InvalidInputError{Field: "amount", Reason: "must be positive"}
	}
	return nil
}

func validDescription(description string) error {
	if utf8.RuneCountInString(description) > domain.MaxDescriptionLen {
		return &domain.InvalidInputError{
			Field:  "description",
			Reason: fmt.Sprintf("exceeds %d characters", domain.MaxDescriptionLen),
		}
	}
	return nil
}

func validAccountID(field, id string) error {
	if id == "" {
		return &domain.InvalidInputError{Field: field, Reason: "is required"}
	}
	return nil
}

// transient wraps unexpected store failures in the retryable class while
// letting domain errors pass through untouched.
func transient(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return &domain.TransientError{Op: op, Err: err}
}

// getOrCreate fetches the account, materialising it with balance zero on
// first reference. The caller must hold the account's lock.
func (s *Service) getOrCreate(ctx context.Context, id string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err == nil {
		return acct, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return account.Account{ID: id}, nil
	}
	return account.Account{}, transient("get account", err)
}

// Earn credits an account. Owner-only; creates the account on first touch and
// rejects the credit when it would push total issuance past the ceiling.
func (s *Service) Earn(ctx context.Context, accountID string, amount int64, description string, actor domain.Actor) (domain.MutationResult, error) {
	start := time.Now()
	res, err := s.earn(ctx, accountID, amount, description, actor)
	metrics.RecordLedgerOperation("earn", outcome(err), time.Since(start))
	return res, err
}

func (s *Service) earn(ctx context.Context, accountID string, amount int64, description string, actor domain.Actor) (domain.MutationResult, error) {
	if err := validAccountID("account_id", accountID); err != nil {
		return domain.MutationResult{}, err
	}
	if err := validAmount(amount); err != nil {
		return domain.MutationResult{}, err
	}
	if err := validDescription(description); err != nil {
		return domain.MutationResult{}, err
	}
	if err := s.authz.AuthorizeEarn(actor); err != nil {
		return domain.MutationResult{}, err
	}

	s.supplyMu.Lock()
	defer s.supplyMu.Unlock()
	unlock := s.lockAccounts(accountID)
	defer unlock()

	acct, err := s.getOrCreate(ctx, accountID)
	if err != nil {
		return domain.MutationResult{}, err
	}

	issued, err := s.store.TotalIssued(ctx)
	if err != nil {
		return domain.MutationResult{}, transient("read issuance", err)
	}
	// Subtraction form: issued never exceeds maxSupply, so this cannot
	// overflow the way issued+amount can.
	if amount > s.maxSupply-issued {
		return domain.MutationResult{}, fmt.Errorf("issuance %d + %d over %d: %w",
			issued, amount, s.maxSupply, domain.ErrSupplyExceeded)
	}

	before := acct.Balance
	acct.Balance += amount

	entry := domain.Entry{
		AccountID:    accountID,
		Amount:       amount,
		Kind:         domain.KindEarn,
		Description:  description,
		BalanceAfter: acct.Balance,
	}

	committed, err := s.store.Apply(ctx, storage.Mutation{
		Accounts:      []account.Account{acct},
		Entries:       []domain.Entry{entry},
		Deltas:        []domain.StatsDelta{domain.DeltaFor(entry)},
		IssuanceDelta: amount,
	})
	if err != nil {
		return domain.MutationResult{}, transient("commit earn", err)
	}

	metrics.RecordEntry(string(domain.KindEarn), amount)
	s.log.WithField("account_id", accountID).
		WithField("amount", amount).
		WithField("sequence_id", committed[0].SequenceID).
		Info("points earned")

	return domain.MutationResult{
		SequenceID:    committed[0].SequenceID,
		AccountID:     accountID,
		BalanceBefore: before,
		BalanceAfter:  acct.Balance,
	}, nil
}

// Spend debits an account. Holder-only; the account must exist and hold at
// least the requested amount.
func (s *Service) Spend(ctx context.Context, accountID string, amount int64, description string, actor domain.Actor) (domain.MutationResult, error) {
	start := time.Now()
	res, err := s.spend(ctx, accountID, amount, description, actor)
	metrics.RecordLedgerOperation("spend", outcome(err), time.Since(start))
	return res, err
}

func (s *Service) spend(ctx context.Context, accountID string, amount int64, description string, actor domain.Actor) (domain.MutationResult, error) {
	if err := validAccountID("account_id", accountID); err != nil {
		return domain.MutationResult{}, err
	}
	if err := validAmount(amount); err != nil {
		return domain.MutationResult{}, err
	}
	if err := validDescription(description); err != nil {
		return domain.MutationResult{}, err
	}
	if err := s.authz.AuthorizeSpend(actor, accountID); err != nil {
		return domain.MutationResult{}, err
	}

	unlock := s.lockAccounts(accountID)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.MutationResult{}, transient("get account", err)
	}

	if acct.Balance < amount {
		return domain.MutationResult{}, &domain.InsufficientBalanceError{
			AccountID: accountID,
			Required:  amount,
			Available: acct.Balance,
		}
	}

	before := acct.Balance
	acct.Balance -= amount

	entry := domain.Entry{
		AccountID:    accountID,
		Amount:       amount,
		Kind:         domain.KindSpend,
		Description:  description,
		BalanceAfter: acct.Balance,
	}

	committed, err := s.store.Apply(ctx, storage.Mutation{
		Accounts:      []account.Account{acct},
		Entries:       []domain.Entry{entry},
		Deltas:        []domain.StatsDelta{domain.DeltaFor(entry)},
		IssuanceDelta: -amount,
	})
	if err != nil {
		return domain.MutationResult{}, transient("commit spend", err)
	}

	metrics.RecordEntry(string(domain.KindSpend), amount)
	s.log.WithField("account_id", accountID).
		WithField("amount", amount).
		WithField("sequence_id", committed[0].SequenceID).
		Info("points spent")

	return domain.MutationResult{
		SequenceID:    committed[0].SequenceID,
		AccountID:     accountID,
		BalanceBefore: before,
		BalanceAfter:  acct.Balance,
	}, nil
}

// Transfer moves points between two accounts as one atomic unit, producing a
// linked transfer_out/transfer_in pair sharing one correlation ID.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount int64, actor domain.Actor) (domain.TransferResult, error) {
	start := time.Now()
	res, err := s.transfer(ctx, fromID, toID, amount, actor)
	metrics.RecordLedgerOperation("transfer", outcome(err), time.Since(start))
	return res, err
}

func (s *Service) transfer(ctx context.Context, fromID, toID string, amount int64, actor domain.Actor) (domain.TransferResult, error) {
	if err := validAccountID("from_account_id", fromID); err != nil {
		return domain.TransferResult{}, err
	}
	if err := validAccountID("to_account_id", toID); err != nil {
		return domain.TransferResult{}, err
	}
	if fromID == toID {
		return domain.TransferResult{}, &domain.InvalidInputError{
			Field: "to_account_id", Reason: "must differ from the source account",
		}
	}
	if err := validAmount(amount); err != nil {
		return domain.TransferResult{}, err
	}
	if err := s.authz.AuthorizeTransfer(actor, fromID); err != nil {
		return domain.TransferResult{}, err
	}

	unlock := s.lockAccounts(fromID, toID)
	defer unlock()

	from, err := s.store.GetAccount(ctx, fromID)
	if err != nil {
		return domain.TransferResult{}, transient("get source account", err)
	}
	if from.Balance < amount {
		return domain.TransferResult{}, &domain.InsufficientBalanceError{
			AccountID: fromID,
			Required:  amount,
			Available: from.Balance,
		}
	}

	to, err := s.getOrCreate(ctx, toID)
	if err != nil {
		return domain.TransferResult{}, err
	}

	from.Balance -= amount
	to.Balance += amount

	correlationID := uuid.NewString()
	out := domain.Entry{
		AccountID:      fromID,
		CounterpartyID: toID,
		CorrelationID:  correlationID,
		Amount:         amount,
		Kind:           domain.KindTransferOut,
		BalanceAfter:   from.Balance,
	}
	in := domain.Entry{
		AccountID:      toID,
		CounterpartyID: fromID,
		CorrelationID:  correlationID,
		Amount:         amount,
		Kind:           domain.KindTransferIn,
		BalanceAfter:   to.Balance,
	}

	committed, err := s.store.Apply(ctx, storage.Mutation{
		Accounts: []account.Account{from, to},
		Entries:  []domain.Entry{out, in},
		Deltas:   []domain.StatsDelta{domain.DeltaFor(out), domain.DeltaFor(in)},
	})
	if err != nil {
		return domain.TransferResult{}, transient("commit transfer", err)
	}

	metrics.RecordEntry(string(domain.KindTransferOut), amount)
	s.log.WithField("from", fromID).
		WithField("to", toID).
		WithField("amount", amount).
		WithField("correlation_id", correlationID).
		Info("points transferred")

	return domain.TransferResult{
		CorrelationID: correlationID,
		OutSequenceID: committed[0].SequenceID,
		InSequenceID:  committed[1].SequenceID,
		FromAccountID: fromID,
		ToAccountID:   toID,
		FromBalance:   from.Balance,
		ToBalance:     to.Balance,
	}, nil
}

// BatchEarn credits several accounts in one atomic unit. The whole batch is
// validated against the issuance ceiling up front; either every credit lands
// or none does.
func (s *Service) BatchEarn(ctx context.Context, accountIDs []string, amounts []int64, description string, actor domain.Actor) ([]domain.MutationResult, error) {
	start := time.Now()
	res, err := s.batchEarn(ctx, accountIDs, amounts, description, actor)
	metrics.RecordLedgerOperation("batch_earn", outcome(err), time.Since(start))
	return res, err
}

func (s *Service) batchEarn(ctx context.Context, accountIDs []string, amounts []int64, description string, actor domain.Actor) ([]domain.MutationResult, error) {
	if len(accountIDs) != len(amounts) {
		return nil, &domain.InvalidInputError{Field: "amounts", Reason: "array length mismatch"}
	}
	if len(accountIDs) == 0 {
		return nil, &domain.InvalidInputError{Field: "account_ids", Reason: "must not be empty"}
	}
	for i, id := range accountIDs {
		if err := validAccountID("account_ids", id); err != nil {
			return nil, err
		}
		if err := validAmount(amounts[i]); err != nil {
			return nil, err
		}
	}
	if err := validDescription(description); err != nil {
		return nil, err
	}
	if err := s.authz.AuthorizeEarn(actor); err != nil {
		return nil, err
	}

	s.supplyMu.Lock()
	defer s.supplyMu.Unlock()
	unlock := s.lockAccounts(accountIDs...)
	defer unlock()

	// Accumulate against the remaining headroom so neither the running sum
	// nor the final check can overflow.
	var batchTotal int64
	for _, a := range amounts {
		if a > s.maxSupply-batchTotal {
			return nil, fmt.Errorf("batch total over %d: %w",
				s.maxSupply, domain.ErrSupplyExceeded)
		}
		batchTotal += a
	}

	issued, err := s.store.TotalIssued(ctx)
	if err != nil {
		return nil, transient("read issuance", err)
	}
	if batchTotal > s.maxSupply-issued {
		return nil, fmt.Errorf("issuance %d + %d over %d: %w",
			issued, batchTotal, s.maxSupply, domain.ErrSupplyExceeded)
	}

	// An account may appear more than once in a batch; track running
	// balances so each entry snapshots the balance it actually produced.
	balances := make(map[string]account.Account, len(accountIDs))
	for _, id := range accountIDs {
		if _, ok := balances[id]; ok {
			continue
		}
		acct, err := s.getOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
		balances[id] = acct
	}

	entries := make([]domain.Entry, 0, len(accountIDs))
	deltas := make([]domain.StatsDelta, 0, len(accountIDs))
	results := make([]domain.MutationResult, len(accountIDs))
	for i, id := range accountIDs {
		acct := balances[id]
		results[i] = domain.MutationResult{
			AccountID:     id,
			BalanceBefore: acct.Balance,
		}
		acct.Balance += amounts[i]
		results[i].BalanceAfter = acct.Balance
		balances[id] = acct

		entry := domain.Entry{
			AccountID:    id,
			Amount:       amounts[i],
			Kind:         domain.KindEarn,
			Description:  description,
			BalanceAfter: acct.Balance,
		}
		entries = append(entries, entry)
		deltas = append(deltas, domain.DeltaFor(entry))
	}

	accounts := make([]account.Account, 0, len(balances))
	for _, acct := range balances {
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	committed, err := s.store.Apply(ctx, storage.Mutation{
		Accounts:      accounts,
		Entries:       entries,
		Deltas:        deltas,
		IssuanceDelta: batchTotal,
	})
	if err != nil {
		return nil, transient("commit batch earn", err)
	}

	for i := range results {
		results[i].SequenceID = committed[i].SequenceID
		metrics.RecordEntry(string(domain.KindEarn), committed[i].Amount)
	}

	s.log.WithField("accounts", len(accountIDs)).
		WithField("total", batchTotal).
		Info("batch earn committed")

	return results, nil
}

// GetAccount returns the current state of one account.
func (s *Service) GetAccount(ctx context.Context, accountID string) (account.Account, error) {
	if err := validAccountID("account_id", accountID); err != nil {
		return account.Account{}, err
	}
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return account.Account{}, transient("get account", err)
	}
	return acct, nil
}

// ListAccounts returns every account, newest first.
func (s *Service) ListAccounts(ctx context.Context) ([]account.Account, error) {
	accts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, transient("list accounts", err)
	}
	return accts, nil
}

// GetHistory returns one page of an account's entries, newest first, plus
// the total match count.
func (s *Service) GetHistory(ctx context.Context, accountID string, limit, offset int) (domain.Page, error) {
	if err := validAccountID("account_id", accountID); err != nil {
		return domain.Page{}, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	total, entries, err := s.store.QueryEntries(ctx, accountID, limit, offset)
	if err != nil {
		return domain.Page{}, transient("query entries", err)
	}
	return domain.Page{Total: total, Limit: limit, Offset: offset, Entries: entries}, nil
}

// GetStats returns the per-account summary maintained alongside the log.
func (s *Service) GetStats(ctx context.Context, accountID string) (domain.Stats, error) {
	if err := validAccountID("account_id", accountID); err != nil {
		return domain.Stats{}, err
	}
	st, err := s.store.GetStats(ctx, accountID)
	if err != nil {
		return domain.Stats{}, transient("get stats", err)
	}
	return st, nil
}

// Ping reports whether the underlying store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case domain.IsTransient(err):
		return "transient"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrSupplyExceeded):
		return "supply_exceeded"
	default:
		var insufficient *domain.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			return "insufficient_balance"
		}
		return "invalid_input"
	}
}
