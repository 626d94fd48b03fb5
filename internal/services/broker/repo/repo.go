// Package repo resolves broker settings out of postgres
package repo

import (
	"context"

	"takt/internal/modkit/repokit"
)

type (
	pg     struct{ q repokit.Queryer }
	binder struct{}
)

// NewPG constructs a repo binder for postgres
func NewPG() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &pg{q: q} }

// Storage is the broker settings read surface
type Storage interface {
	// BrokerName returns the configured broker profile name, empty when
	// no row exists
	BrokerName(ctx context.Context) (string, error)
}

// BrokerName implements Storage
func (s *pg) BrokerName(ctx context.Context) (string, error) {
	const sql = `SELECT broker_name FROM broker_settings LIMIT 1`

	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var name string
	if rows.Next() {
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
	}
	return name, rows.Err()
}
