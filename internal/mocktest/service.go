// Package mocktest は模擬試験（Reading/Listening/Writing/Speaking）を提供する。
//
// 多肢選択式の受験記録はAttemptStoreに1件だけ保持し、
// 新しい模試を開始した時点で以前の記録は破棄される。
package mocktest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ieltsprep/internal/model"
	"github.com/hitoshi/ieltsprep/internal/repository"
	"github.com/hitoshi/ieltsprep/internal/speaking"
	"github.com/hitoshi/ieltsprep/internal/writing"
)

// タスク完了の記録元
const (
	TaskSourceReading   = "mock_reading"
	TaskSourceListening = "mock_listening"
	TaskSourceWriting   = "mock_writing"
	TaskSourceSpeaking  = "mock_speaking"
)

// TestCoach は模試の問題生成と採点を行う生成AIサービス。
type TestCoach interface {
	GenerateTopic(ctx context.Context) (string, error)
	GradeEssay(ctx context.Context, topic, essay string) (*model.EssayAnalysis, error)
	GenerateReadingTest(ctx context.Context) (*model.ReadingTest, error)
	GenerateListeningTest(ctx context.Context) (*model.ListeningTest, error)
	GenerateSpeakingQuestions(ctx context.Context) (*model.SpeakingTest, error)
	GradeSpeaking(ctx context.Context, transcript []model.TranscriptEntry) (*model.SpeakingFeedback, error)
}

// Service は模試のビジネスロジックを提供する。
type Service struct {
	store    repository.AttemptStore
	coach    TestCoach
	recorder writing.TaskRecorder
	now      func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(store repository.AttemptStore, c TestCoach, recorder writing.TaskRecorder) *Service {
	return &Service{
		store:    store,
		coach:    c,
		recorder: recorder,
		now:      time.Now,
	}
}

// StartReading はReading模試を生成して受験を開始する。
func (s *Service) StartReading(ctx context.Context, userID string) (*AttemptView, error) {
	test, err := s.coach.GenerateReadingTest(ctx)
	if err != nil {
		return nil, s.generationFailed(userID, model.TestKindReading, err)
	}
	return s.start(ctx, &model.Attempt{
		UserID:  userID,
		Kind:    model.TestKindReading,
		Reading: test,
		Answers: unanswered(len(test.Questions)),
	})
}

// StartListening はListening模試を生成して受験を開始する。
func (s *Service) StartListening(ctx context.Context, userID string) (*AttemptView, error) {
	test, err := s.coach.GenerateListeningTest(ctx)
	if err != nil {
		return nil, s.generationFailed(userID, model.TestKindListening, err)
	}
	return s.start(ctx, &model.Attempt{
		UserID:    userID,
		Kind:      model.TestKindListening,
		Listening: test,
		Answers:   unanswered(len(test.Questions)),
	})
}

// GetAttempt は受験中または提出済みの受験記録を返す。
// 他のユーザーの記録は存在しないものとして扱う。
func (s *Service) GetAttempt(ctx context.Context, userID, attemptID string) (*AttemptView, error) {
	attempt, err := s.load(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	return NewAttemptView(attempt), nil
}

// SelectAnswer は設問questionの回答をoptionに設定する。
// 提出済みの場合は変更せずにエラーを返す。
func (s *Service) SelectAnswer(ctx context.Context, userID, attemptID string, question, option int) (*AttemptView, error) {
	attempt, err := s.load(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Submitted {
		return nil, model.NewAttemptSubmittedError()
	}

	questions := attempt.Questions()
	if question < 0 || question >= len(questions) {
		return nil, model.NewInvalidAnswerError(fmt.Sprintf("question %d does not exist", question))
	}
	if option < 0 || option >= len(questions[question].Options) {
		return nil, model.NewInvalidAnswerError(fmt.Sprintf("option %d does not exist", option))
	}

	attempt.Answers[question] = option
	if err := s.save(ctx, attempt); err != nil {
		return nil, err
	}
	return NewAttemptView(attempt), nil
}

// Submit は受験記録を採点して提出済みにする。
// 未回答の設問があり、confirmがfalseの場合は確認を求めるエラーを返す。
func (s *Service) Submit(ctx context.Context, userID, attemptID string, confirm bool) (*AttemptView, error) {
	attempt, err := s.load(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Submitted {
		return nil, model.NewAttemptSubmittedError()
	}
	if n := attempt.Unanswered(); n > 0 && !confirm {
		return nil, model.NewUnansweredQuestionsError(n)
	}

	attempt.Score = Score(attempt)
	attempt.Submitted = true
	if err := s.save(ctx, attempt); err != nil {
		return nil, err
	}

	slog.Info("模試を提出しました",
		slog.String("user_id", userID),
		slog.String("attempt_id", attempt.ID),
		slog.String("kind", string(attempt.Kind)),
		slog.Int("score", attempt.Score),
		slog.Int("total", len(attempt.Answers)),
	)
	s.complete(userID, taskSource(attempt.Kind))
	return NewAttemptView(attempt), nil
}

// StartWriting はWriting模試の課題を生成する。
// 受験中の多肢選択式の記録は破棄される。
func (s *Service) StartWriting(ctx context.Context, userID string) (string, error) {
	if err := s.discard(ctx, userID); err != nil {
		return "", err
	}
	topic, err := s.coach.GenerateTopic(ctx)
	if err != nil {
		slog.Warn("Writing模試の課題生成に失敗",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", model.NewGenerationFailedError("Failed to generate topic.")
	}
	return topic, nil
}

// GradeWriting はWriting模試のエッセイを採点する。文字数の条件は練習画面と同じ。
func (s *Service) GradeWriting(ctx context.Context, userID, topic, essay string) (*model.EssayAnalysis, error) {
	if err := writing.ValidateEssay(essay); err != nil {
		return nil, err
	}
	result, err := s.coach.GradeEssay(ctx, topic, essay)
	if err != nil {
		slog.Warn("Writing模試の採点に失敗",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationFailedError("Analysis failed.")
	}
	s.complete(userID, TaskSourceWriting)
	return result, nil
}

// StartSpeaking はSpeaking面接の質問を生成する。
// 受験中の多肢選択式の記録は破棄される。
func (s *Service) StartSpeaking(ctx context.Context, userID string) ([]string, error) {
	if err := s.discard(ctx, userID); err != nil {
		return nil, err
	}
	test, err := s.coach.GenerateSpeakingQuestions(ctx)
	if err != nil {
		slog.Warn("Speaking面接の質問生成に失敗",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationFailedError("Failed to start speaking test.")
	}
	return test.Questions, nil
}

// NewInterview はユーザーの面接を進めるSequencerを生成する。
// 採点と、採点成功時のタスク完了記録はServiceが受け持つ。
func (s *Service) NewInterview(userID string, cfg speaking.Config) *speaking.Sequencer {
	cfg.Grader = s.coach
	cfg.OnComplete = func() { s.complete(userID, TaskSourceSpeaking) }
	return speaking.NewSequencer(cfg)
}

func (s *Service) start(ctx context.Context, attempt *model.Attempt) (*AttemptView, error) {
	attempt.ID = uuid.New().String()
	attempt.CreatedAt = s.now().UTC()
	if err := s.store.Save(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to save attempt: %w", err)
	}

	slog.Info("模試を開始しました",
		slog.String("user_id", attempt.UserID),
		slog.String("attempt_id", attempt.ID),
		slog.String("kind", string(attempt.Kind)),
	)
	return NewAttemptView(attempt), nil
}

func (s *Service) load(ctx context.Context, userID, attemptID string) (*model.Attempt, error) {
	attempt, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt == nil || attempt.UserID != userID {
		return nil, model.NewAttemptNotFoundError(attemptID)
	}
	return attempt, nil
}

// save は受験記録を上書きする。読み込み後に期限が切れていた場合は見つからない扱いにする。
func (s *Service) save(ctx context.Context, attempt *model.Attempt) error {
	err := s.store.Update(ctx, attempt)
	if errors.Is(err, repository.ErrAttemptNotFound) {
		return model.NewAttemptNotFoundError(attempt.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

func (s *Service) discard(ctx context.Context, userID string) error {
	if err := s.store.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to discard attempt: %w", err)
	}
	return nil
}

func (s *Service) complete(userID, source string) {
	if s.recorder != nil {
		s.recorder.CompleteTask(userID, source)
	}
}

func (s *Service) generationFailed(userID string, kind model.TestKind, err error) error {
	slog.Warn("模試の生成に失敗",
		slog.String("user_id", userID),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	return model.NewGenerationFailedError("Failed to generate test. Please try again.")
}

// Score は正解数を返す。未回答は不正解として数える。
func Score(attempt *model.Attempt) int {
	score := 0
	for i, q := range attempt.Questions() {
		if i < len(attempt.Answers) && attempt.Answers[i] == q.CorrectIndex {
			score++
		}
	}
	return score
}

func unanswered(n int) []int {
	answers := make([]int, n)
	for i := range answers {
		answers[i] = model.UnansweredIndex
	}
	return answers
}

func taskSource(kind model.TestKind) string {
	if kind == model.TestKindListening {
		return TaskSourceListening
	}
	return TaskSourceReading
}
