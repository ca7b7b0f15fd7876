package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pointgrid/pointsledger/internal/app/domain/ledger"
	ledgersvc "github.com/pointgrid/pointsledger/internal/app/services/ledger"
	"github.com/pointgrid/pointsledger/internal/app/storage/memory"
)

func TestService(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)

	acct, err := svc.Create(context.Background(), "alice", "operator")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acct.ID != "alice" || acct.Owner != "operator" {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if acct.Balance != 0 {
		t.Fatalf("new account must start at zero, got %d", acct.Balance)
	}

	if _, err := svc.Create(context.Background(), "alice", "other"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := svc.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "alice" {
		t.Fatalf("get returned %q", got.ID)
	}

	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 account, got %d", len(list))
	}
}

func TestCreateGeneratesID(t *testing.T) {
	svc := New(memory.New(), nil)

	acct, err := svc.Create(context.Background(), "", "operator")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acct.ID == "" {
		t.Fatalf("expected id to be generated")
	}
}

func TestCreateCannotResetCommittedBalance(t *testing.T) {
	store := memory.New()
	acctSvc := New(store, nil)
	engine := ledgersvc.New(store, nil, 0, nil)
	ctx := context.Background()

	ownerActor := ledger.Actor{Subject: "owner", Role: ledger.RoleOwner}
	if _, err := engine.Earn(ctx, "alice", 100, "first credit", ownerActor); err != nil {
		t.Fatalf("earn: %v", err)
	}

	// Registration losing the race to a first credit must fail, not upsert
	// the balance back to zero.
	if _, err := acctSvc.Create(ctx, "alice", "operator"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	acct, err := engine.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Balance != 100 {
		t.Fatalf("balance = %d, want 100", acct.Balance)
	}
}

func TestConcurrentCreatesSingleWinner(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, "alice", "operator")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful registration, got %d", wins)
	}
}

func TestGetUnknown(t *testing.T) {
	svc := New(memory.New(), nil)

	if _, err := svc.Get(context.Background(), "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
