package app

import (
	"context"
	"fmt"

	"github.com/pointgrid/pointsledger/internal/app/services/accounts"
	ledgersvc "github.com/pointgrid/pointsledger/internal/app/services/ledger"
	"github.com/pointgrid/pointsledger/internal/app/storage"
	"github.com/pointgrid/pointsledger/internal/app/storage/memory"
	"github.com/pointgrid/pointsledger/internal/app/system"
	"github.com/pointgrid/pointsledger/pkg/logger"
)

// Options tunes application construction. A nil Store defaults to the
// in-memory implementation; MaxSupply zero falls back to the engine default.
type Options struct {
	Store      storage.LedgerStore
	MaxSupply  int64
	Authorizer ledgersvc.Authorizer
}

// Application ties the ledger services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store    storage.LedgerStore
	Accounts *accounts.Service
	Ledger   *ledgersvc.Service
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	store := opts.Store
	if store == nil {
		store = memory.New()
	}

	manager := system.NewManager()

	acctService := accounts.New(store, log)
	engine := ledgersvc.New(store, opts.Authorizer, opts.MaxSupply, log)

	for _, name := range []string{"accounts", "ledger"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Store:    store,
		Accounts: acctService,
		Ledger:   engine,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
