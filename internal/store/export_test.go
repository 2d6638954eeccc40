package store

import "database/sql"

// DB exposes the underlying handle for tests that shape raw rows directly.
func (s *Store) DB() *sql.DB {
	return s.db
}
