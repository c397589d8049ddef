package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

type CredentialStore struct {
	db DB
}

func NewCredentialStore(db DB) *CredentialStore {
	if db == nil {
		return nil
	}
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Get(ctx context.Context, id string) (repo.CredentialRecord, error) {
	if s == nil || s.db == nil {
		return repo.CredentialRecord{}, fmt.Errorf("credential store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return repo.CredentialRecord{}, fmt.Errorf("credential id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT credential_id, name, auth_type, fields
		 FROM credentials
		 WHERE credential_id = $1`,
		id,
	)
	return scanCredential(row.Scan)
}

func (s *CredentialStore) FindByName(ctx context.Context, name string) (repo.CredentialRecord, error) {
	if s == nil || s.db == nil {
		return repo.CredentialRecord{}, fmt.Errorf("credential store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return repo.CredentialRecord{}, fmt.Errorf("credential name is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT credential_id, name, auth_type, fields
		 FROM credentials
		 WHERE lower(name) = lower($1)
		 ORDER BY credential_id ASC
		 LIMIT 1`,
		name,
	)
	return scanCredential(row.Scan)
}

func scanCredential(scan func(dest ...any) error) (repo.CredentialRecord, error) {
	var record repo.CredentialRecord
	var authType sql.NullString
	var fieldsJSON []byte
	if err := scan(&record.ID, &record.Name, &authType, &fieldsJSON); err != nil {
		return repo.CredentialRecord{}, handleNotFound(err)
	}
	if authType.Valid {
		record.AuthType = authType.String
	}
	fields, err := decodeMetadata(fieldsJSON)
	if err != nil {
		return repo.CredentialRecord{}, fmt.Errorf("decode fields: %w", err)
	}
	record.Fields = fields
	return record, nil
}
