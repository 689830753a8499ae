package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DevanaGroup/titanium/internal/domain"
)

// UpsertCredential stores a signature credential. SecretHash must
// already contain the one-way hash; plaintext never reaches this layer.
func (r Repo) UpsertCredential(ctx context.Context, c domain.SignatureCredential) error {
	if c.OwnerUserID == "" {
		return errors.New("owner_user_id required")
	}
	if c.SecretHash == "" {
		return errors.New("secret_hash required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO signature_credentials(owner_user_id,secret_hash,created_at) VALUES (?,?,?)
ON CONFLICT(owner_user_id) DO UPDATE SET secret_hash=excluded.secret_hash, created_at=excluded.created_at`,
		c.OwnerUserID, c.SecretHash, c.CreatedAt)
	return err
}

func (r Repo) GetCredential(ctx context.Context, userID string) (domain.SignatureCredential, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT owner_user_id,secret_hash,created_at FROM signature_credentials WHERE owner_user_id=?`, userID)
	var c domain.SignatureCredential
	err := row.Scan(&c.OwnerUserID, &c.SecretHash, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) HasCredential(ctx context.Context, userID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM signature_credentials WHERE owner_user_id=? LIMIT 1`, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
