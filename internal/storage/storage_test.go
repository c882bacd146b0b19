package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"profiles/user-1/photo.jpg", false},
		{"photo.jpg", false},
		{"", true},
		{"/etc/passwd", true},
		{"../secret", true},
		{"profiles/../../secret", true},
		{"profiles//photo.jpg", true},
		{"profiles/./photo.jpg", true},
		{`profiles\photo.jpg`, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := validateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestLocalStorage_UploadOverwriteAndDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocal(dir, "/files/")
	if err != nil {
		t.Fatalf("NewLocal がエラーを返した: %v", err)
	}
	ctx := context.Background()
	key := "profiles/user-1/photo.jpg"

	if err := s.Upload(ctx, key, strings.NewReader("first"), "image/jpeg"); err != nil {
		t.Fatalf("Upload がエラーを返した: %v", err)
	}
	if err := s.Upload(ctx, key, strings.NewReader("second"), "image/jpeg"); err != nil {
		t.Fatalf("2回目の Upload がエラーを返した: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "profiles", "user-1", "photo.jpg"))
	if err != nil {
		t.Fatalf("保存したファイルが読めない: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("ファイル内容 = %q, want %q", data, "second")
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "profiles", "user-1"))
	if len(entries) != 1 {
		t.Errorf("一時ファイルが残っている: %d件", len(entries))
	}

	u, err := s.PresignedURL(ctx, key, time.Hour)
	if err != nil {
		t.Fatalf("PresignedURL がエラーを返した: %v", err)
	}
	if u != "/files/profiles/user-1/photo.jpg" {
		t.Errorf("URL = %q, want %q", u, "/files/profiles/user-1/photo.jpg")
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete がエラーを返した: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "profiles", "user-1", "photo.jpg")); !os.IsNotExist(err) {
		t.Error("削除後もファイルが残っている")
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("存在しないファイルの Delete がエラーを返した: %v", err)
	}
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s, _ := NewLocal(t.TempDir(), "/files")

	err := s.Upload(context.Background(), "../escape.jpg", strings.NewReader("x"), "image/jpeg")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("error = %v, want ErrInvalidKey", err)
	}
}

func TestLocalStorage_Ping(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := NewLocal(dir, "/files")
	if err != nil {
		t.Fatalf("NewLocal がエラーを返した: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping がエラーを返した: %v", err)
	}

	os.RemoveAll(dir)
	if err := s.Ping(context.Background()); err == nil {
		t.Error("ディレクトリ削除後の Ping がエラーを返さなかった")
	}
}

// リージョンを指定すれば署名付きURLの発行に接続は不要。
func TestNewS3_DoesNotConnect(t *testing.T) {
	s, err := NewS3(S3Config{
		Endpoint:  "localhost:9000",
		Bucket:    "photos",
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	if err != nil {
		t.Fatalf("NewS3 がエラーを返した: %v", err)
	}

	u, err := s.PresignedURL(context.Background(), "profiles/u/photo.jpg", time.Minute)
	if err != nil {
		t.Fatalf("PresignedURL がエラーを返した: %v", err)
	}
	if !strings.Contains(u, "/photos/profiles/u/photo.jpg") || !strings.Contains(u, "X-Amz-Signature=") {
		t.Errorf("署名付きURLが不正: %s", u)
	}
}
