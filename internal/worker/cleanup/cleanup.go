// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// セッションの参照時は期限で絞り込むため、削除が遅れても認証には影響しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はジョブの実行間隔のデフォルト値。
const DefaultInterval = time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder は削除件数を記録するインターフェース。metrics.Collectorが満たす。
type Recorder interface {
	RecordSessionsCleaned(count int)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等で、何度実行しても同じ結果になる。
type CleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder
	// GracePeriod は期限切れから削除までの猶予。
	GracePeriod time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
	}
}

// Run は期限切れセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d seconds", int64(j.GracePeriod/time.Second))

	query := `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
			slog.Duration("grace_period", j.GracePeriod),
		)
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read deleted session count",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to read deleted session count: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsCleaned(int(deletedCount))
	}

	duration := time.Since(start)
	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("grace_period", j.GracePeriod),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session cleanup scheduler started", slog.Duration("interval", interval))

	// Runのエラーはログ出力済みのため、ここでは次回の実行を待つ
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup scheduler stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
