package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// PostgresIdentityRepo はIdPアカウントとの紐付けをPostgreSQLに保存する。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByUID はIdPのUIDでidentityを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByUID(ctx context.Context, provider, uid string) (*model.Identity, error) {
	var (
		ident      model.Identity
		lastSignIn sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, sign_in_method, last_sign_in_at, created_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, uid,
	).Scan(&ident.ID, &ident.UserID, &ident.Provider, &ident.ProviderUserID,
		&ident.SignInMethod, &lastSignIn, &ident.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if lastSignIn.Valid {
		t := lastSignIn.Time
		ident.LastSignInAt = &t
	}
	return &ident, nil
}

// RecordSignIn は直近のサインイン方法と日時を記録する。
func (r *PostgresIdentityRepo) RecordSignIn(ctx context.Context, id, method string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET sign_in_method = $2, last_sign_in_at = $3 WHERE id = $1`,
		id, method, at,
	)
	if err != nil {
		return fmt.Errorf("failed to record sign-in: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
