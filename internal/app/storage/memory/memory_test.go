package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pointgrid/pointsledger/internal/app/domain/account"
	"github.com/pointgrid/pointsledger/internal/app/domain/ledger"
	"github.com/pointgrid/pointsledger/internal/app/storage"
)

func TestApplyAssignsSequenceIDs(t *testing.T) {
	store := New()
	ctx := context.Background()

	committed, err := store.Apply(ctx, storage.Mutation{
		Accounts: []account.Account{{ID: "alice", Balance: 30}},
		Entries: []ledger.Entry{
			{AccountID: "alice", Amount: 10, Kind: ledger.KindEarn, BalanceAfter: 10},
			{AccountID: "alice", Amount: 20, Kind: ledger.KindEarn, BalanceAfter: 30},
		},
		IssuanceDelta: 30,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(committed) != 2 {
		t.Fatalf("expected 2 committed entries, got %d", len(committed))
	}
	if committed[0].SequenceID != 1 || committed[1].SequenceID != 2 {
		t.Fatalf("sequence ids = %d, %d", committed[0].SequenceID, committed[1].SequenceID)
	}
	if committed[0].CreatedAt.IsZero() {
		t.Fatalf("expected timestamps to be assigned")
	}

	issued, err := store.TotalIssued(ctx)
	if err != nil {
		t.Fatalf("total issued: %v", err)
	}
	if issued != 30 {
		t.Fatalf("issued = %d, want 30", issued)
	}
}

func TestApplyRejectsNegativeBalance(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.Apply(ctx, storage.Mutation{
		Accounts: []account.Account{
			{ID: "alice", Balance: 10},
			{ID: "bob", Balance: -1},
		},
		Entries:       []ledger.Entry{{AccountID: "alice", Amount: 10, Kind: ledger.KindEarn}},
		IssuanceDelta: 10,
	})
	if err == nil {
		t.Fatalf("expected rejection")
	}

	// Nothing from the rejected mutation may be visible.
	if _, err := store.GetAccount(ctx, "alice"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("alice must not exist, got %v", err)
	}
	issued, err := store.TotalIssued(ctx)
	if err != nil {
		t.Fatalf("total issued: %v", err)
	}
	if issued != 0 {
		t.Fatalf("issued = %d, want 0", issued)
	}
}

func TestCreateAccountInsertOnly(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateAccount(ctx, account.Account{ID: "alice", Owner: "operator"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be assigned: %+v", created)
	}

	if _, err := store.CreateAccount(ctx, account.Account{ID: "alice"}); !errors.Is(err, ledger.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	// An account materialised by Apply also blocks registration.
	if _, err := store.Apply(ctx, storage.Mutation{
		Accounts: []account.Account{{ID: "bob", Balance: 5}},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := store.CreateAccount(ctx, account.Account{ID: "bob"}); !errors.Is(err, ledger.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists after apply, got %v", err)
	}
	acct, err := store.GetAccount(ctx, "bob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.Balance != 5 {
		t.Fatalf("balance = %d, want 5", acct.Balance)
	}
}

func TestApplyPreservesCreatedAt(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Apply(ctx, storage.Mutation{
		Accounts: []account.Account{{ID: "alice", Balance: 1}},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	first, err := store.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	time.Sleep(time.Millisecond)
	if _, err := store.Apply(ctx, storage.Mutation{
		Accounts: []account.Account{{ID: "alice", Balance: 2}},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	second, err := store.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created at changed across updates")
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("updated at did not advance")
	}
}

func TestQueryEntriesPagesNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	mut := storage.Mutation{Accounts: []account.Account{{ID: "alice", Balance: 6}}}
	for i := int64(1); i <= 3; i++ {
		mut.Entries = append(mut.Entries, ledger.Entry{AccountID: "alice", Amount: i, Kind: ledger.KindEarn})
	}
	if _, err := store.Apply(ctx, mut); err != nil {
		t.Fatalf("apply: %v", err)
	}

	total, page, err := store.QueryEntries(ctx, "alice", 2, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("total=%d len=%d", total, len(page))
	}
	if page[0].Amount != 3 || page[1].Amount != 2 {
		t.Fatalf("expected newest first, got %d, %d", page[0].Amount, page[1].Amount)
	}

	total, page, err = store.QueryEntries(ctx, "alice", 2, 2)
	if err != nil {
		t.Fatalf("query with offset: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].Amount != 1 {
		t.Fatalf("unexpected tail page: total=%d len=%d", total, len(page))
	}

	if _, _, err := store.QueryEntries(ctx, "ghost", 10, 0); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatsAccumulate(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Apply(ctx, storage.Mutation{
		Accounts: []account.Account{{ID: "alice", Balance: 70}},
		Deltas: []ledger.StatsDelta{
			{AccountID: "alice", Earned: 100, EarnCount: 1},
			{AccountID: "alice", Spent: 30, SpendCount: 1},
		},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	st, err := store.GetStats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.CurrentBalance != 70 || st.TotalEarned != 100 || st.TotalSpent != 30 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.EarnCount != 1 || st.SpendCount != 1 {
		t.Fatalf("unexpected counts: %+v", st)
	}

	if _, err := store.GetStats(ctx, "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
