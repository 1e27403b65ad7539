package store

import (
	"database/sql"
	"fmt"
)

// OpenInMemory opens a migrated in-memory database.
// This is only intended for use in tests.
func OpenInMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	// Every pooled connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)

	if err := prepare(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{sqlDB}, nil
}
