// Package app composes the points ledger into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── account/        # Point-holding accounts
//	│   └── ledger/         # Ledger entries, stats, errors, actors
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # LedgerStore and the atomic Mutation unit
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── accounts/       # Account registration and lookup
//	│   └── ledger/         # The ledger engine: earn, spend, transfer, batch
//	├── httpapi/            # HTTP API handlers, middleware, audit log
//	├── auth/               # Credential store and JWT tokens
//	├── system/             # Service lifecycle management
//	├── metrics/            # Prometheus metrics
//	└── runtime/            # Config-driven assembly and the HTTP server
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing the services with their storage and auth dependencies
//   - Defining the storage interface the engine depends on
//   - Providing domain models shared across services
//   - Exposing HTTP API endpoints for external access
//
// Business rules (authorization, balance and supply invariants, sequencing)
// live under internal/app/services/ledger; storage implementations only
// guarantee that a Mutation commits atomically.
package app
