package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/types"
)

const credentialSchema = `
CREATE TABLE IF NOT EXISTS integration_credentials (
    user_id             TEXT        NOT NULL,
    provider            TEXT        NOT NULL,
    access_token        TEXT        NOT NULL,
    refresh_token       TEXT,
    expires_at          TIMESTAMPTZ,
    external_account_id TEXT,
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, provider)
);
CREATE INDEX IF NOT EXISTS integration_credentials_account_idx
    ON integration_credentials (provider, external_account_id);
`

const credentialColumns = `user_id, provider, access_token, refresh_token, expires_at, external_account_id, updated_at`

// PostgresCredentialStore persists credentials in the integration_credentials table.
type PostgresCredentialStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCredentialStore(pool *pgxpool.Pool) *PostgresCredentialStore {
	return &PostgresCredentialStore{pool: pool}
}

// EnsureSchema creates the table and index when missing.
func (s *PostgresCredentialStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, credentialSchema); err != nil {
		return fmt.Errorf("ensure credential schema: %w", err)
	}
	return nil
}

func (s *PostgresCredentialStore) GetCredential(ctx context.Context, userID string, provider types.Provider) (*types.CredentialRecord, error) {
	query := `SELECT ` + credentialColumns + ` FROM integration_credentials WHERE user_id=$1 AND provider=$2`
	rec, err := scanCredential(s.pool.QueryRow(ctx, query, userID, provider.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get %s credential: %w", provider, err)
	}
	return rec, nil
}

func (s *PostgresCredentialStore) UpsertCredential(ctx context.Context, rec *types.CredentialRecord) error {
	const upsert = `INSERT INTO integration_credentials (` + credentialColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (user_id, provider) DO UPDATE SET
            access_token        = EXCLUDED.access_token,
            refresh_token       = EXCLUDED.refresh_token,
            expires_at          = EXCLUDED.expires_at,
            external_account_id = COALESCE(EXCLUDED.external_account_id, integration_credentials.external_account_id),
            updated_at          = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, upsert,
		rec.UserID,
		rec.Provider.String(),
		rec.AccessToken,
		nullIfEmpty(rec.RefreshToken),
		rec.ExpiresAt,
		nullIfEmpty(rec.ExternalAccountID),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s credential: %w", rec.Provider, err)
	}
	return nil
}

func (s *PostgresCredentialStore) DeleteCredential(ctx context.Context, userID string, provider types.Provider) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM integration_credentials WHERE user_id=$1 AND provider=$2`, userID, provider.String()); err != nil {
		return fmt.Errorf("delete %s credential: %w", provider, err)
	}
	return nil
}

func (s *PostgresCredentialStore) ListLinkedUsers(ctx context.Context, provider types.Provider) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM integration_credentials WHERE provider=$1 ORDER BY user_id`, provider.String())
	if err != nil {
		return nil, fmt.Errorf("list %s credentials: %w", provider, err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list %s credentials: %w", provider, err)
	}
	return users, nil
}

func (s *PostgresCredentialStore) FindByExternalAccount(ctx context.Context, provider types.Provider, externalAccountID string) ([]*types.CredentialRecord, error) {
	if externalAccountID == "" {
		return nil, nil
	}
	query := `SELECT ` + credentialColumns + ` FROM integration_credentials
        WHERE provider=$1 AND external_account_id=$2 ORDER BY user_id`
	rows, err := s.pool.Query(ctx, query, provider.String(), externalAccountID)
	if err != nil {
		return nil, fmt.Errorf("find %s credential by account: %w", provider, err)
	}
	defer rows.Close()

	var out []*types.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanCredential(row pgx.Row) (*types.CredentialRecord, error) {
	var (
		rec      types.CredentialRecord
		provider string
		refresh  *string
		account  *string
	)
	if err := row.Scan(&rec.UserID, &provider, &rec.AccessToken, &refresh, &rec.ExpiresAt, &account, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Provider = types.Provider(provider)
	if refresh != nil {
		rec.RefreshToken = *refresh
	}
	if account != nil {
		rec.ExternalAccountID = *account
	}
	if rec.ExpiresAt != nil {
		utc := rec.ExpiresAt.UTC()
		rec.ExpiresAt = &utc
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
