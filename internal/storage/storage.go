// Package storage はプロフィール写真などのオブジェクト保存先を提供する。
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrInvalidKey はオブジェクトキーが不正な場合のエラー。
var ErrInvalidKey = errors.New("storage: invalid object key")

// ObjectStorage はオブジェクトの保存と参照URLの発行を行う。
type ObjectStorage interface {
	// Upload はkeyにreaderの内容を保存する。同じkeyは上書きする。
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
	// PresignedURL はkeyを読み出すためのURLを発行する。
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	// Delete はkeyを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
	// Ping は保存先に到達できるかを確認する。
	Ping(ctx context.Context) error
}

// validateKey は保存先の外を指すキーを拒否する。
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	if path.Clean(key) != key {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return ErrInvalidKey
		}
	}
	return nil
}
