package postgres

import (
	"database/sql"
	"fmt"

	"github.com/pragma-node/oracle-node/internal/registry"
)

// GetPublisher implements registry.Store against the publisher table.
func (s *Store) GetPublisher(name string) (registry.Publisher, error) {
	var p registry.Publisher
	row := s.db.QueryRow(`
		SELECT name, master_key, active_key, account_address, active
		FROM publisher WHERE name = $1
	`, name)

	err := row.Scan(&p.Name, &p.MasterKey, &p.ActiveKey, &p.AccountAddress, &p.Active)
	if err == sql.ErrNoRows {
		return registry.Publisher{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Publisher{}, fmt.Errorf("postgres: fetching publisher %q: %w", name, err)
	}
	return p, nil
}
