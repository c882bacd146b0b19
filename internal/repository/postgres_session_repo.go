package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// sessionData はsessions.dataカラムに保存するセッション付随データ。
type sessionData struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func encodeSessionData(refreshToken string) ([]byte, error) {
	data, err := json.Marshal(sessionData{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session data: %w", err)
	}
	return data, nil
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	data, err := encodeSessionData(session.RefreshToken)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, data, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.UserID, data, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, data, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &raw, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	// 旧形式や空のデータは更新トークンなしとして扱う
	var data sessionData
	if len(raw) > 0 && json.Unmarshal(raw, &data) == nil {
		session.RefreshToken = data.RefreshToken
	}

	return session, nil
}

// UpdateRefreshToken はセッションに保存したIdPの更新トークンを置き換える。
func (r *PostgresSessionRepo) UpdateRefreshToken(ctx context.Context, id, refreshToken string) error {
	data, err := encodeSessionData(refreshToken)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE sessions SET data = $2 WHERE id = $1`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to update session refresh token: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
