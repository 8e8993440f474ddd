package activitypub

import (
	"github.com/deemkeen/tusk/db"
)

// DBWrapper adapts *db.DB to the Database interface.
// Every method except Transaction is promoted from the embedded DB.
type DBWrapper struct {
	*db.DB
}

// NewDBWrapper creates a new database wrapper
func NewDBWrapper(database *db.DB) *DBWrapper {
	return &DBWrapper{DB: database}
}

// Transaction runs fn with a wrapper bound to a single sqlite transaction
func (w *DBWrapper) Transaction(fn func(tx Database) error) error {
	return w.DB.Transaction(func(tx *db.DB) error {
		return fn(&DBWrapper{DB: tx})
	})
}

var _ Database = (*DBWrapper)(nil)
