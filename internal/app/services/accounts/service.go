// Package accounts manages explicit account registration. Accounts are also
// materialised implicitly by the ledger engine on first credit; this service
// exists so holders can be registered with owner metadata up front.
package accounts

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/pointgrid/pointsledger/internal/app/domain/account"
	domain "github.com/pointgrid/pointsledger/internal/app/domain/ledger"
	"github.com/pointgrid/pointsledger/internal/app/storage"
	"github.com/pointgrid/pointsledger/pkg/logger"
)

// ErrAlreadyExists is returned when registering an ID that is taken.
var ErrAlreadyExists = domain.ErrAccountExists

// Service provides account registration and lookups.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger
}

// New constructs an account service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, log: log}
}

// Create registers a new account with balance zero. An empty ID gets a
// generated one.
func (s *Service) Create(ctx context.Context, id, owner string) (account.Account, error) {
	id = strings.TrimSpace(id)
	owner = strings.TrimSpace(owner)
	if id == "" {
		id = uuid.NewString()
	}

	// The store insert is atomic and never updates an existing row, so a
	// registration racing a first credit on the same ID cannot reset the
	// committed balance; the loser sees ErrAlreadyExists.
	created, err := s.store.CreateAccount(ctx, account.Account{ID: id, Owner: owner})
	if err != nil {
		return account.Account{}, err
	}

	s.log.WithField("account_id", id).Info("account registered")
	return created, nil
}

// Get fetches one account.
func (s *Service) Get(ctx context.Context, id string) (account.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// List returns all accounts, newest first.
func (s *Service) List(ctx context.Context) ([]account.Account, error) {
	return s.store.ListAccounts(ctx)
}
