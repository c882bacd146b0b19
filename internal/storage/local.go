package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage はローカルファイルシステムに保存するObjectStorage。
// 保存したファイルはbaseURL配下で配信する想定（/files/*）。
type LocalStorage struct {
	baseDir string
	baseURL string
}

// NewLocal はLocalStorageを生成する。baseDirがなければ作成する。
func NewLocal(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStorage{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Dir は保存先ディレクトリを返す。
func (s *LocalStorage) Dir() string {
	return s.baseDir
}

// Upload はファイルを一時ファイル経由で書き込み、完成後に置き換える。
func (s *LocalStorage) Upload(_ context.Context, key string, reader io.Reader, _ string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close object %s: %w", key, err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}
	return nil
}

// PresignedURL は配信用のURLを返す。ローカル保存では期限を持たない。
func (s *LocalStorage) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

// Delete はファイルを削除する。
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Ping は保存先ディレクトリの存在を確認する。
func (s *LocalStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(s.baseDir); err != nil {
		return fmt.Errorf("storage dir unavailable: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ObjectStorage = (*LocalStorage)(nil)
