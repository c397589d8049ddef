package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

type EnvironmentStore struct {
	db DB
}

func NewEnvironmentStore(db DB) *EnvironmentStore {
	if db == nil {
		return nil
	}
	return &EnvironmentStore{db: db}
}

// Get resolves an environment by id first and falls back to a
// case-insensitive name match, since definitions reference environments
// either way.
func (s *EnvironmentStore) Get(ctx context.Context, idOrName string) (repo.EnvironmentRecord, error) {
	if s == nil || s.db == nil {
		return repo.EnvironmentRecord{}, fmt.Errorf("environment store not initialized")
	}
	idOrName = strings.TrimSpace(idOrName)
	if idOrName == "" {
		return repo.EnvironmentRecord{}, fmt.Errorf("environment reference is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT environment_id, name
		 FROM environments
		 WHERE environment_id = $1 OR lower(name) = lower($1)
		 ORDER BY (environment_id = $1) DESC
		 LIMIT 1`,
		idOrName,
	)
	var record repo.EnvironmentRecord
	if err := row.Scan(&record.ID, &record.Name); err != nil {
		return repo.EnvironmentRecord{}, handleNotFound(err)
	}
	connectors, err := s.listConnectors(ctx, record.ID)
	if err != nil {
		return repo.EnvironmentRecord{}, err
	}
	record.Connectors = connectors
	return record, nil
}

func (s *EnvironmentStore) listConnectors(ctx context.Context, environmentID string) ([]repo.ConnectorRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT connector_id, name, category, fields, credential_name
		 FROM environment_connectors
		 WHERE environment_id = $1
		 ORDER BY connector_id ASC`,
		environmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()

	connectors := make([]repo.ConnectorRecord, 0)
	for rows.Next() {
		var connector repo.ConnectorRecord
		var category sql.NullString
		var credentialName sql.NullString
		var fieldsJSON []byte
		if err := rows.Scan(&connector.ID, &connector.Name, &category, &fieldsJSON, &credentialName); err != nil {
			return nil, fmt.Errorf("scan connector: %w", err)
		}
		if category.Valid {
			connector.Category = category.String
		}
		if credentialName.Valid {
			connector.CredentialName = credentialName.String
		}
		fields, err := decodeMetadata(fieldsJSON)
		if err != nil {
			return nil, fmt.Errorf("decode connector fields: %w", err)
		}
		connector.Fields = fields
		connectors = append(connectors, connector)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	return connectors, nil
}
