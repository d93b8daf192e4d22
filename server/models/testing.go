package models

import "github.com/Daskott/guardian/shared"

// OpenTestStore returns a migrated store backed by an in-memory sqlite db.
// Every call gets its own empty database.
func OpenTestStore() (*Store, error) {
	return Open(shared.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
}
