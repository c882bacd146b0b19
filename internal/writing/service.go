// Package writing はWriting Task 2の練習（課題の取得とエッセイ採点）を提供する。
package writing

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/hitoshi/ieltsprep/internal/coach"
	"github.com/hitoshi/ieltsprep/internal/model"
)

// MinEssayChars は採点を受け付けるエッセイの最小文字数。
const MinEssayChars = 50

// TaskSource は練習画面でのタスク完了の記録元。
const TaskSource = "writing"

// EssayCoach はエッセイの出題と採点を行う生成AIサービス。
type EssayCoach interface {
	GenerateTopic(ctx context.Context) (string, error)
	GradeEssay(ctx context.Context, topic, essay string) (*model.EssayAnalysis, error)
}

// TaskRecorder は学習タスク完了を記録するインターフェース。
type TaskRecorder interface {
	CompleteTask(userID, source string)
}

// ValidateEssay はエッセイが採点可能な長さかを検証する。
// 文字数はUnicodeのコードポイント数で数える。
func ValidateEssay(essay string) error {
	if utf8.RuneCountInString(essay) < MinEssayChars {
		return model.NewEssayTooShortError(MinEssayChars)
	}
	return nil
}

// Service はWriting練習のビジネスロジックを提供する。
type Service struct {
	coach    EssayCoach
	recorder TaskRecorder
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(c EssayCoach, recorder TaskRecorder) *Service {
	return &Service{coach: c, recorder: recorder}
}

// DefaultTopic は初期表示の課題を返す。
func (s *Service) DefaultTopic() string {
	return coach.DefaultTopic
}

// NewTopic は新しい課題を生成する。
func (s *Service) NewTopic(ctx context.Context) (string, error) {
	topic, err := s.coach.GenerateTopic(ctx)
	if err != nil {
		return "", model.NewGenerationFailedError("Failed to get topic. Check connection.")
	}
	return topic, nil
}

// Submit はエッセイを検証し、採点を1回要求する。
// 文字数が不足している場合は生成AIを呼び出さない。
// topicが空の場合はDefaultTopicで採点する。
func (s *Service) Submit(ctx context.Context, userID, topic, essay string) (*model.EssayAnalysis, error) {
	if err := ValidateEssay(essay); err != nil {
		return nil, err
	}
	if topic == "" {
		topic = coach.DefaultTopic
	}

	result, err := s.coach.GradeEssay(ctx, topic, essay)
	if err != nil {
		slog.Warn("essay grading failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationFailedError("AI could not analyze the essay. Please try again.")
	}

	if s.recorder != nil {
		s.recorder.CompleteTask(userID, TaskSource)
	}
	return result, nil
}
