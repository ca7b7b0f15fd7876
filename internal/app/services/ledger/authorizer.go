package ledger

import (
	"fmt"

	domain "github.com/pointgrid/pointsledger/internal/app/domain/ledger"
)

// Authorizer decides whether an actor may perform a requested mutation.
type Authorizer interface {
	AuthorizeEarn(actor domain.Actor) error
	AuthorizeSpend(actor domain.Actor, accountID string) error
	AuthorizeTransfer(actor domain.Actor, fromID string) error
}

// RoleAuthorizer is the default gate: only the owner mints points, and only
// an account's own holder debits or transfers out of it.
type RoleAuthorizer struct{}

var _ Authorizer = RoleAuthorizer{}

func (RoleAuthorizer) AuthorizeEarn(actor domain.Actor) error {
	if !actor.IsOwner() {
		return fmt.Errorf("earn requires the owner role: %w", domain.ErrUnauthorized)
	}
	return nil
}

func (RoleAuthorizer) AuthorizeSpend(actor domain.Actor, accountID string) error {
	if actor.Subject == "" || actor.Subject != accountID {
		return fmt.Errorf("spend on %s requires its holder: %w", accountID, domain.ErrUnauthorized)
	}
	return nil
}

func (RoleAuthorizer) AuthorizeTransfer(actor domain.Actor, fromID string) error {
	if actor.Subject == "" || actor.Subject != fromID {
		return fmt.Errorf("transfer from %s requires its holder: %w", fromID, domain.ErrUnauthorized)
	}
	return nil
}
