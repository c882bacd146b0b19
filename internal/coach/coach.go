package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/ieltsprep/internal/model"
	"github.com/hitoshi/ieltsprep/internal/security"
)

// DefaultTopic は出題に失敗した場合や初期表示に使うWriting Task 2の課題。
const DefaultTopic = "Technology in Education: Good or Bad?"

// AIMetrics は生成AI呼び出しのメトリクス記録先。
type AIMetrics interface {
	RecordAICall(kind, outcome string)
	RecordAILatency(kind string, duration time.Duration)
}

// Service は6種類の生成AIリクエストを提供する。
// 構造化応答は厳密にデコード・検証し、不正な応答は一部も使わずにエラーとする。
// 自動リトライは行わない。
type Service struct {
	gen       Generator
	sanitizer security.TextSanitizer
	metrics   AIMetrics
	timeout   time.Duration
}

// NewService はServiceを生成する。metricsはnilでもよい。timeoutが0以下の場合は無制限。
func NewService(gen Generator, sanitizer security.TextSanitizer, metrics AIMetrics, timeout time.Duration) *Service {
	return &Service{
		gen:       gen,
		sanitizer: sanitizer,
		metrics:   metrics,
		timeout:   timeout,
	}
}

// GenerateTopic はWriting Task 2の課題をランダムに生成する。
// 応答が空の場合はDefaultTopicを返す。
func (s *Service) GenerateTopic(ctx context.Context) (string, error) {
	text, err := s.call(ctx, Request{Kind: KindTopic, Prompt: topicPrompt})
	if errors.Is(err, ErrEmptyResponse) {
		return DefaultTopic, nil
	}
	if err != nil {
		return "", err
	}
	if topic := s.sanitizer.Sanitize(text); topic != "" {
		return topic, nil
	}
	return DefaultTopic, nil
}

// GradeEssay はエッセイを採点する。
func (s *Service) GradeEssay(ctx context.Context, topic, essay string) (*model.EssayAnalysis, error) {
	var out model.EssayAnalysis
	req := Request{
		Kind:   KindGradeEssay,
		Prompt: fmt.Sprintf(gradeEssayPrompt, topic, essay),
		Schema: essaySchema,
	}
	if err := s.structured(ctx, req, &out); err != nil {
		return nil, err
	}

	out.Band = s.sanitizer.Sanitize(out.Band)
	out.Feedback = s.sanitizer.Sanitize(out.Feedback)
	out.Corrected = s.sanitizer.Sanitize(out.Corrected)
	if err := s.check(KindGradeEssay, validateEssay(&out)); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateReadingTest はリーディング模試（本文と10問）を生成する。
func (s *Service) GenerateReadingTest(ctx context.Context) (*model.ReadingTest, error) {
	var out model.ReadingTest
	req := Request{Kind: KindReadingTest, Prompt: readingTestPrompt, Schema: readingSchema}
	if err := s.structured(ctx, req, &out); err != nil {
		return nil, err
	}

	out.Title = s.sanitizer.Sanitize(out.Title)
	out.Passage = s.sanitizer.Sanitize(out.Passage)
	s.sanitizeQuestions(out.Questions)
	if err := s.check(KindReadingTest, validateReading(&out)); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateListeningTest はリスニング模試（スクリプトと10問）を生成する。
func (s *Service) GenerateListeningTest(ctx context.Context) (*model.ListeningTest, error) {
	var out model.ListeningTest
	req := Request{Kind: KindListeningTest, Prompt: listeningTestPrompt, Schema: listeningSchema}
	if err := s.structured(ctx, req, &out); err != nil {
		return nil, err
	}

	out.Scenario = s.sanitizer.Sanitize(out.Scenario)
	out.Script = s.sanitizer.Sanitize(out.Script)
	s.sanitizeQuestions(out.Questions)
	if err := s.check(KindListeningTest, validateListening(&out)); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateSpeakingQuestions はスピーキング面接の質問を5問生成する。
func (s *Service) GenerateSpeakingQuestions(ctx context.Context) (*model.SpeakingTest, error) {
	var out model.SpeakingTest
	req := Request{Kind: KindSpeakingQuestions, Prompt: speakingQuestionsPrompt, Schema: speakingQuestionsSchema}
	if err := s.structured(ctx, req, &out); err != nil {
		return nil, err
	}

	for i := range out.Questions {
		out.Questions[i] = s.sanitizer.Sanitize(out.Questions[i])
	}
	if err := s.check(KindSpeakingQuestions, validateSpeakingQuestions(&out)); err != nil {
		return nil, err
	}
	return &out, nil
}

// GradeSpeaking は面接の記録を採点する。
func (s *Service) GradeSpeaking(ctx context.Context, transcript []model.TranscriptEntry) (*model.SpeakingFeedback, error) {
	raw, err := json.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}

	var out model.SpeakingFeedback
	req := Request{
		Kind:   KindGradeSpeaking,
		Prompt: fmt.Sprintf(gradeSpeakingPrompt, raw),
		Schema: speakingFeedbackSchema,
	}
	if err := s.structured(ctx, req, &out); err != nil {
		return nil, err
	}

	out.Band = s.sanitizer.Sanitize(out.Band)
	out.Fluency = s.sanitizer.Sanitize(out.Fluency)
	out.Vocabulary = s.sanitizer.Sanitize(out.Vocabulary)
	out.Grammar = s.sanitizer.Sanitize(out.Grammar)
	out.Pronunciation = s.sanitizer.Sanitize(out.Pronunciation)
	if err := s.check(KindGradeSpeaking, validateSpeakingFeedback(&out)); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) sanitizeQuestions(qs []model.MockQuestion) {
	for i := range qs {
		qs[i].Text = s.sanitizer.Sanitize(qs[i].Text)
		for j := range qs[i].Options {
			qs[i].Options[j] = s.sanitizer.Sanitize(qs[i].Options[j])
		}
	}
}

// structured は構造化応答を要求し、outへ厳密にデコードする。
func (s *Service) structured(ctx context.Context, req Request, out any) error {
	text, err := s.call(ctx, req)
	if err != nil {
		return err
	}
	return s.check(req.Kind, decodeStrict(text, out))
}

// check は検証エラーをログに残して返す。
func (s *Service) check(kind string, err error) error {
	if err != nil {
		slog.Warn("model response rejected",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// call は生成AIを1回呼び出し、メトリクスを記録する。
func (s *Service) call(ctx context.Context, req Request) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.gen.Generate(ctx, req)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		slog.Error("generative model call failed",
			slog.String("kind", req.Kind),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
	}
	if s.metrics != nil {
		s.metrics.RecordAICall(req.Kind, outcome)
		s.metrics.RecordAILatency(req.Kind, elapsed)
	}
	return text, err
}
