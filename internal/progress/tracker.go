// Package progress は1日の学習目標に対する進捗を管理する。
package progress

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// TaskMetrics はタスク完了メトリクスの記録先。
type TaskMetrics interface {
	RecordTaskCompleted(source string)
}

// Tracker はユーザーごとの学習タスク完了数を保持する。
// 値はプロセス内のみで保持し、再起動でリセットされる。
type Tracker struct {
	goal    int
	metrics TaskMetrics

	mu      sync.Mutex
	current map[string]int
}

// NewTracker はTrackerを生成する。goalが1未満の場合は1として扱う。
func NewTracker(goal int, metrics TaskMetrics) *Tracker {
	if goal < 1 {
		goal = 1
	}
	return &Tracker{
		goal:    goal,
		metrics: metrics,
		current: make(map[string]int),
	}
}

// Increment は完了数を1増やす。目標値を超えない。
func (t *Tracker) Increment(userID string) model.DailyProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current[userID] < t.goal {
		t.current[userID]++
	}
	return model.DailyProgress{Current: t.current[userID], Total: t.goal}
}

// CompleteTask は各機能からのタスク完了通知を受け取る。
func (t *Tracker) CompleteTask(userID, source string) {
	p := t.Increment(userID)
	if t.metrics != nil {
		t.metrics.RecordTaskCompleted(source)
	}
	slog.Info("task completed",
		slog.String("user_id", userID),
		slog.String("source", source),
		slog.Int("current", p.Current),
		slog.Int("total", p.Total),
	)
}

// Get はユーザーの現在の進捗を返す。
func (t *Tracker) Get(userID string) model.DailyProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.DailyProgress{Current: t.current[userID], Total: t.goal}
}
