package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// PostgresProfileRepo はprofile_documentsテーブルのjsonb文書を扱うリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// Get は文書を取得する。文書が存在しない場合はnilを返す。
func (r *PostgresProfileRepo) Get(ctx context.Context, userID string) (*model.ProfileDocument, error) {
	var raw []byte
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT data, updated_at FROM profile_documents WHERE user_id = $1`,
		userID,
	).Scan(&raw, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile document: %w", err)
	}

	return decodeProfileDocument(raw, updatedAt)
}

// Merge は指定したフィールドだけを文書に上書きする（なければ作成する）。
// jsonbの || 演算子でトップレベルのキー単位に結合する。
func (r *PostgresProfileRepo) Merge(ctx context.Context, userID string, fields map[string]any) (*model.ProfileDocument, error) {
	patch, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile fields: %w", err)
	}

	var raw []byte
	var updatedAt time.Time
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO profile_documents (user_id, data, updated_at)
		 VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET data = profile_documents.data || EXCLUDED.data,
		     updated_at = EXCLUDED.updated_at
		 RETURNING data, updated_at`,
		userID, patch,
	).Scan(&raw, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to merge profile document: %w", err)
	}

	return decodeProfileDocument(raw, updatedAt)
}

// Delete は文書を削除する。存在しない場合もエラーにしない。
func (r *PostgresProfileRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM profile_documents WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete profile document: %w", err)
	}
	return nil
}

// decodeProfileDocument はjsonbの文書をモデルに変換する。
// 文書内にupdatedAtがない場合は行の更新日時を使う。
func decodeProfileDocument(raw []byte, updatedAt time.Time) (*model.ProfileDocument, error) {
	doc := &model.ProfileDocument{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile document: %w", err)
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = updatedAt
	}
	return doc, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
