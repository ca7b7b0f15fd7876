package ledger

// Roles recognised by the authorization gate.
const (
	RoleOwner  = "owner"  // may mint points (earn, batch earn)
	RoleHolder = "holder" // may spend and transfer from its own account
)

// Actor identifies the caller of a ledger operation. Subject is the account
// ID the actor controls; the owner's subject is empty unless the owner also
// holds an account.
type Actor struct {
	Subject string
	Role    string
}

// IsOwner reports whether the actor carries the privileged minting role.
func (a Actor) IsOwner() bool { return a.Role == RoleOwner }
