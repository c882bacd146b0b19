// Package speaking はスピーキング模擬面接の進行を管理する。
//
// 面接官の質問読み上げと学習者の音声認識は学習者の端末側で行い、
// Sequencer はその結果を受けて状態を遷移させる。
package speaking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// State は面接の進行状態を表す。
type State string

const (
	StateIdle             State = "idle"
	StateExaminerSpeaking State = "examinerSpeaking"
	StateUserListening    State = "userListening"
	StateUserRecording    State = "userRecording"
	StateProcessing       State = "processing"
)

// NoAnswerPlaceholder は回答が空だった場合に記録する文字列。
const NoAnswerPlaceholder = "(no answer recorded)"

// DefaultQuestionPause は次の質問を読み上げるまでの待ち時間。
const DefaultQuestionPause = time.Second

var (
	// ErrNoQuestions は質問が読み込まれていない状態で開始しようとした場合のエラー。
	ErrNoQuestions = errors.New("speaking: no questions loaded")
	// ErrClosed はClose後の操作に対するエラー。
	ErrClosed = errors.New("speaking: sequencer closed")
	// ErrRecognitionUnavailable は端末に音声認識機能がないことを表す。
	ErrRecognitionUnavailable = errors.New("speaking: speech recognition unavailable")
)

// TransitionError は現在の状態で受け付けられない操作を表す。
type TransitionError struct {
	From  State
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("speaking: %s is not allowed in state %s", e.Event, e.From)
}

// Synthesizer は質問文の読み上げを行う。
// 読み上げが終わったらdoneを1回呼ぶ。
type Synthesizer interface {
	Speak(text string, done func())
	Cancel()
}

// Recognizer は学習者の回答を文字起こしする。
// 機能がない場合StartはErrRecognitionUnavailableを返す。
type Recognizer interface {
	Start(onResult func(text string, final bool), onError func(err error)) error
	Stop()
}

// Grader は面接の記録を採点する。
type Grader interface {
	GradeSpeaking(ctx context.Context, transcript []model.TranscriptEntry) (*model.SpeakingFeedback, error)
}

// Observer は面接の進行を受け取る。
type Observer interface {
	StateChanged(snap Snapshot)
	Graded(result *model.SpeakingFeedback)
	Failed(err error)
}

// ScheduleFunc はdの経過後にfを実行する。
type ScheduleFunc func(d time.Duration, f func())

// Snapshot は面接の状態のスナップショット。
type Snapshot struct {
	State    State  `json:"state"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// Config はSequencerの依存関係。
type Config struct {
	Synthesizer Synthesizer
	// Recognizer がnilの場合、音声認識機能なしとして扱う。
	Recognizer Recognizer
	Grader     Grader
	Observer   Observer
	// Pause は0の場合DefaultQuestionPause。
	Pause    time.Duration
	Schedule ScheduleFunc
	// OnComplete は採点が成功するたびに呼ばれる。
	OnComplete func()
}

// Sequencer は質問リストに沿って面接を1問ずつ進める。
// 状態の変更はmuの下で行い、外部への通知はロック解放後に行う。
type Sequencer struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	questions  []string
	state      State
	index      int
	asked      bool
	answer     strings.Builder
	transcript []model.TranscriptEntry
	result     *model.SpeakingFeedback
	gen        uint64
	stopGrade  context.CancelFunc
	closed     bool
}

// NewSequencer はSequencerを生成する。
func NewSequencer(cfg Config) *Sequencer {
	if cfg.Pause <= 0 {
		cfg.Pause = DefaultQuestionPause
	}
	if cfg.Schedule == nil {
		cfg.Schedule = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

// effects はロック解放後に実行する処理の列。
type effects []func()

func (e *effects) add(f func()) { *e = append(*e, f) }

func (e effects) run() {
	for _, f := range e {
		f()
	}
}

// Load は新しい質問リストを読み込み、それまでの記録と結果を破棄する。
func (s *Sequencer) Load(questions []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var fx effects
	s.resetLocked(&fx)
	s.questions = append([]string(nil), questions...)
	s.notifyLocked(&fx)
	s.mu.Unlock()

	fx.run()
	return nil
}

// Begin は最初の質問から面接を開始する。
func (s *Sequencer) Begin() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle {
		from := s.state
		s.mu.Unlock()
		return &TransitionError{From: from, Event: "begin"}
	}
	if len(s.questions) == 0 {
		s.mu.Unlock()
		return ErrNoQuestions
	}
	var fx effects
	s.resetLocked(&fx)
	s.state = StateExaminerSpeaking
	s.askLocked(&fx)
	n := len(s.questions)
	s.mu.Unlock()

	slog.Info("speaking interview started", slog.Int("questions", n))
	fx.run()
	return nil
}

// StartAnswer は回答の録音を開始する。
func (s *Sequencer) StartAnswer() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateUserListening {
		from := s.state
		s.mu.Unlock()
		return &TransitionError{From: from, Event: "start answer"}
	}
	if s.cfg.Recognizer == nil {
		s.mu.Unlock()
		return model.NewSpeechUnavailableError()
	}
	var fx effects
	s.state = StateUserRecording
	s.answer.Reset()
	gen, idx := s.gen, s.index
	s.notifyLocked(&fx)
	s.mu.Unlock()

	fx.run()

	err := s.cfg.Recognizer.Start(
		func(text string, final bool) { s.recognized(gen, idx, text, final) },
		func(err error) { s.recognitionFailed(gen, idx, err) },
	)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrRecognitionUnavailable) {
		s.rollback(gen, idx, StateUserListening)
		return model.NewSpeechUnavailableError()
	}
	slog.Warn("failed to start speech recognition", slog.String("error", err.Error()))
	s.rollback(gen, idx, StateIdle)
	return model.NewMicrophoneUnavailableError()
}

// StopAnswer は録音を終了し、回答を記録して次の質問または採点へ進む。
func (s *Sequencer) StopAnswer() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateUserRecording {
		from := s.state
		s.mu.Unlock()
		return &TransitionError{From: from, Event: "stop answer"}
	}

	var fx effects
	fx.add(s.cfg.Recognizer.Stop)

	answer := strings.TrimSpace(s.answer.String())
	if answer == "" {
		answer = NoAnswerPlaceholder
	}
	s.transcript = append(s.transcript, model.TranscriptEntry{
		Question: s.questions[s.index],
		Answer:   answer,
	})
	s.answer.Reset()

	if s.index < len(s.questions)-1 {
		s.index++
		s.asked = false
		s.state = StateExaminerSpeaking
		s.notifyLocked(&fx)
		gen, idx := s.gen, s.index
		pause, schedule := s.cfg.Pause, s.cfg.Schedule
		fx.add(func() {
			schedule(pause, func() { s.pauseElapsed(gen, idx) })
		})
	} else {
		s.state = StateProcessing
		s.notifyLocked(&fx)
		ctx, cancel := context.WithCancel(s.ctx)
		s.stopGrade = cancel
		gen := s.gen
		transcript := append([]model.TranscriptEntry(nil), s.transcript...)
		fx.add(func() { go s.grade(ctx, gen, transcript) })
	}
	s.mu.Unlock()

	fx.run()
	return nil
}

// Close は読み上げ・録音・採点を中止し、以降の操作を受け付けなくする。
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var fx effects
	s.resetLocked(&fx)
	s.closed = true
	s.mu.Unlock()

	fx.run()
	s.cancel()
}

// Snapshot は現在の状態を返す。
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Transcript は記録済みの回答を返す。
func (s *Sequencer) Transcript() []model.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TranscriptEntry(nil), s.transcript...)
}

// Result は直近の採点結果を返す。未採点の場合はnil。
func (s *Sequencer) Result() *model.SpeakingFeedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Questions は読み込み済みの質問リストを返す。
func (s *Sequencer) Questions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.questions...)
}

func (s *Sequencer) speechDone(gen uint64, idx int) {
	s.mu.Lock()
	if s.gen != gen || s.index != idx || s.state != StateExaminerSpeaking || !s.asked {
		s.mu.Unlock()
		return
	}
	var fx effects
	s.state = StateUserListening
	s.notifyLocked(&fx)
	s.mu.Unlock()

	fx.run()
}

func (s *Sequencer) pauseElapsed(gen uint64, idx int) {
	s.mu.Lock()
	if s.gen != gen || s.index != idx || s.state != StateExaminerSpeaking || s.asked {
		s.mu.Unlock()
		return
	}
	var fx effects
	s.askLocked(&fx)
	s.mu.Unlock()

	fx.run()
}

func (s *Sequencer) recognized(gen uint64, idx int, text string, final bool) {
	if !final {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.index != idx || s.state != StateUserRecording {
		return
	}
	s.answer.WriteString(text)
	s.answer.WriteString(" ")
}

func (s *Sequencer) recognitionFailed(gen uint64, idx int, err error) {
	s.mu.Lock()
	if s.gen != gen || s.index != idx || s.state != StateUserRecording {
		s.mu.Unlock()
		return
	}
	slog.Warn("speech recognition error", slog.String("error", err.Error()))
	var fx effects
	fx.add(s.cfg.Recognizer.Stop)
	s.answer.Reset()
	s.state = StateIdle
	s.notifyLocked(&fx)
	s.failLocked(&fx, model.NewMicrophoneUnavailableError())
	s.mu.Unlock()

	fx.run()
}

// rollback は録音開始に失敗した場合に状態を戻す。
func (s *Sequencer) rollback(gen uint64, idx int, to State) {
	s.mu.Lock()
	if s.gen != gen || s.index != idx || s.state != StateUserRecording {
		s.mu.Unlock()
		return
	}
	var fx effects
	s.state = to
	s.notifyLocked(&fx)
	s.mu.Unlock()

	fx.run()
}

func (s *Sequencer) grade(ctx context.Context, gen uint64, transcript []model.TranscriptEntry) {
	start := time.Now()
	result, err := s.cfg.Grader.GradeSpeaking(ctx, transcript)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	var fx effects
	s.stopGrade = nil
	s.state = StateIdle
	if err != nil {
		slog.Error("speaking evaluation failed",
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		s.notifyLocked(&fx)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			apiErr = model.NewGenerationFailedError("Evaluation failed.")
		}
		s.failLocked(&fx, apiErr)
	} else {
		s.result = result
		s.notifyLocked(&fx)
		if obs := s.cfg.Observer; obs != nil {
			fx.add(func() { obs.Graded(result) })
		}
		if s.cfg.OnComplete != nil {
			fx.add(s.cfg.OnComplete)
		}
	}
	s.mu.Unlock()

	fx.run()
}

// askLocked は現在の質問の読み上げを要求する。
func (s *Sequencer) askLocked(fx *effects) {
	s.asked = true
	s.answer.Reset()
	s.notifyLocked(fx)
	gen, idx := s.gen, s.index
	q := s.questions[idx]
	synth := s.cfg.Synthesizer
	fx.add(func() { synth.Speak(q, func() { s.speechDone(gen, idx) }) })
}

// resetLocked は進行中の処理を中止し、記録と結果を破棄する。
func (s *Sequencer) resetLocked(fx *effects) {
	switch s.state {
	case StateExaminerSpeaking:
		fx.add(s.cfg.Synthesizer.Cancel)
	case StateUserRecording:
		fx.add(s.cfg.Recognizer.Stop)
	}
	if s.stopGrade != nil {
		s.stopGrade()
		s.stopGrade = nil
	}
	s.gen++
	s.state = StateIdle
	s.index = 0
	s.asked = false
	s.answer.Reset()
	s.transcript = nil
	s.result = nil
}

func (s *Sequencer) notifyLocked(fx *effects) {
	if obs := s.cfg.Observer; obs != nil {
		snap := s.snapshotLocked()
		fx.add(func() { obs.StateChanged(snap) })
	}
}

func (s *Sequencer) failLocked(fx *effects, err error) {
	if obs := s.cfg.Observer; obs != nil {
		fx.add(func() { obs.Failed(err) })
	}
}

func (s *Sequencer) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:  s.state,
		Index:  s.index,
		Total:  len(s.questions),
		Answer: strings.TrimSpace(s.answer.String()),
	}
	if s.index < len(s.questions) {
		snap.Question = s.questions[s.index]
	}
	return snap
}
