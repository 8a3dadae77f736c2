package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
)

const credentialColumns = `id, user_id, service_id, label, encrypted_key, encrypted_secret, encrypted_extras,
	status, permission_tags_json, last_verified_at, usage_count`

// GetCredential retrieves an encrypted credential envelope by id. Satisfies
// vault.CredentialStore.
func (a *Adapter) GetCredential(ctx context.Context, id string) (*domain.APICredential, error) {
	row := a.db.QueryRowContext(ctx, "SELECT "+credentialColumns+" FROM api_credentials WHERE id = ?", id)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("credential %s not found", id))
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "scan credential", err)
	}
	return c, nil
}

// PutCredential inserts or replaces an encrypted credential envelope.
func (a *Adapter) PutCredential(ctx context.Context, cred *domain.APICredential) error {
	tagsJSON, err := json.Marshal(cred.PermissionTags)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal permission_tags", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO api_credentials (id, user_id, service_id, label, encrypted_key, encrypted_secret,
			encrypted_extras, status, permission_tags_json, last_verified_at, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label=excluded.label, encrypted_key=excluded.encrypted_key,
			encrypted_secret=excluded.encrypted_secret, encrypted_extras=excluded.encrypted_extras,
			status=excluded.status, permission_tags_json=excluded.permission_tags_json,
			last_verified_at=excluded.last_verified_at, usage_count=excluded.usage_count`,
		cred.ID, cred.UserID, cred.ServiceID, cred.Label, cred.EncryptedKey, cred.EncryptedSecret,
		cred.EncryptedExtras, string(cred.Status), string(tagsJSON), cred.LastVerifiedAt, cred.UsageCount)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return errs.Wrap(errs.InvalidInput, "a credential with this label already exists for this user and service", err)
		}
		return errs.Wrap(errs.Internal, "upsert credential", err)
	}
	return nil
}

// ListCredentialsByService lists all credentials registered for a service id.
func (a *Adapter) ListCredentialsByService(ctx context.Context, serviceID string) ([]*domain.APICredential, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT "+credentialColumns+" FROM api_credentials WHERE service_id = ?", serviceID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "query credentials by service", err)
	}
	defer rows.Close()

	var out []*domain.APICredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "scan credential row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCredential(row scannable) (*domain.APICredential, error) {
	var c domain.APICredential
	var status string
	var tagsJSON string
	var extras []byte

	err := row.Scan(&c.ID, &c.UserID, &c.ServiceID, &c.Label, &c.EncryptedKey, &c.EncryptedSecret,
		&extras, &status, &tagsJSON, &c.LastVerifiedAt, &c.UsageCount)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CredentialStatus(status)
	c.EncryptedExtras = extras
	if err := json.Unmarshal([]byte(tagsJSON), &c.PermissionTags); err != nil {
		return nil, fmt.Errorf("unmarshal permission_tags: %w", err)
	}
	return &c, nil
}
