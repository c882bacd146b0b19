package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hitoshi/ieltsprep/internal/middleware"
	"github.com/hitoshi/ieltsprep/internal/model"
	"github.com/hitoshi/ieltsprep/internal/speaking"
)

// クライアントから届くメッセージ種別
const (
	msgHello       = "hello"
	msgNewTest     = "new_test"
	msgBegin       = "begin"
	msgSpeechEnd   = "speech_end"
	msgStartAnswer = "start_answer"
	msgTranscript  = "transcript"
	msgStopAnswer  = "stop_answer"
	msgMicError    = "mic_error"
	msgClose       = "close"
)

// サーバーから送るイベント種別
const (
	evQuestions        = "questions"
	evState            = "state"
	evSpeak            = "speak"
	evCancelSpeech     = "cancel_speech"
	evStartRecognition = "start_recognition"
	evStopRecognition  = "stop_recognition"
	evResult           = "result"
	evError            = "error"
)

// SpeakingServiceInterface はスピーキング面接ハンドラーが必要とするサービスインターフェース。
type SpeakingServiceInterface interface {
	StartSpeaking(ctx context.Context, userID string) ([]string, error)
	NewInterview(userID string, cfg speaking.Config) *speaking.Sequencer
}

// SpeakingHandlerConfig はスピーキング面接ハンドラーの設定。
type SpeakingHandlerConfig struct {
	AllowedOrigin string
	// Pause は質問間の待ち時間。0の場合はspeaking.DefaultQuestionPause。
	Pause time.Duration
}

// SpeakingHandler はスピーキング面接をWebSocketで進行するハンドラー。
// 読み上げと音声認識は端末側で行い、結果をメッセージで受け取る。
type SpeakingHandler struct {
	service SpeakingServiceInterface
	config  SpeakingHandlerConfig
}

// NewSpeakingHandler はSpeakingHandlerを生成する。
func NewSpeakingHandler(service SpeakingServiceInterface, config SpeakingHandlerConfig) *SpeakingHandler {
	return &SpeakingHandler{service: service, config: config}
}

// interviewMessage はクライアントから届くメッセージ。
type interviewMessage struct {
	Type         string `json:"type"`
	SpeechToText bool   `json:"speechToText,omitempty"`
	Text         string `json:"text,omitempty"`
	Final        bool   `json:"final,omitempty"`
	Message      string `json:"message,omitempty"`
}

// interviewEvent はサーバーから送るイベント。
type interviewEvent struct {
	Type      string                        `json:"type"`
	Questions []string                      `json:"questions,omitempty"`
	State     *speaking.Snapshot            `json:"state,omitempty"`
	Text      string                        `json:"text,omitempty"`
	Result    *model.SpeakingFeedback       `json:"result,omitempty"`
	Error     *middleware.ErrorResponseBody `json:"error,omitempty"`
}

// Interview は面接のWebSocketセッションを処理する。
// GET /api/mock/speaking/ws
func (h *SpeakingHandler) Interview(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, acceptOptions(h.config.AllowedOrigin))
	if err != nil {
		slog.Warn("failed to accept interview", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &interviewSession{ctx: ctx, conn: conn}
	var seq *speaking.Sequencer
	defer func() {
		if seq != nil {
			seq.Close()
		}
	}()

	slog.Info("speaking interview connected", slog.String("user_id", userID))
	for {
		var msg interviewMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Warn("interview read failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if seq == nil && msg.Type != msgHello {
			sess.Failed(model.NewInterviewStateError("Send hello before starting the interview."))
			continue
		}

		switch msg.Type {
		case msgHello:
			if seq != nil {
				continue
			}
			cfg := speaking.Config{
				Synthesizer: sess,
				Observer:    sess,
				Pause:       h.config.Pause,
			}
			// 音声認識がない端末ではRecognizerをnilのままにする
			if msg.SpeechToText {
				cfg.Recognizer = sess
			}
			seq = h.service.NewInterview(userID, cfg)

		case msgNewTest:
			questions, err := h.service.StartSpeaking(ctx, userID)
			if err != nil {
				sess.Failed(err)
				continue
			}
			sess.send(interviewEvent{Type: evQuestions, Questions: questions})
			sess.report(seq.Load(questions))

		case msgBegin:
			sess.report(seq.Begin())
		case msgSpeechEnd:
			sess.finishSpeech()
		case msgStartAnswer:
			sess.report(seq.StartAnswer())
		case msgTranscript:
			sess.recognized(msg.Text, msg.Final)
		case msgStopAnswer:
			sess.report(seq.StopAnswer())
		case msgMicError:
			sess.recognitionFailed(msg.Message)

		case msgClose:
			conn.Close(websocket.StatusNormalClosure, "")
			return

		default:
			sess.Failed(model.NewInvalidRequestError())
		}
	}
}

// interviewSession はWebSocket越しに端末の読み上げ・音声認識を扱う。
// speaking.Synthesizer、speaking.Recognizer、speaking.Observerを実装する。
type interviewSession struct {
	ctx  context.Context
	conn *websocket.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	speechDone func()
	onResult   func(text string, final bool)
	onError    func(err error)
}

func (s *interviewSession) send(ev interviewEvent) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := wsjson.Write(s.ctx, s.conn, ev); err != nil && s.ctx.Err() == nil {
		slog.Debug("interview write failed", slog.String("error", err.Error()))
	}
}

// report は操作の失敗をクライアントに通知する。
func (s *interviewSession) report(err error) {
	if err == nil {
		return
	}
	s.Failed(err)
}

// Speak は端末に質問の読み上げを依頼する。
func (s *interviewSession) Speak(text string, done func()) {
	s.mu.Lock()
	s.speechDone = done
	s.mu.Unlock()
	s.send(interviewEvent{Type: evSpeak, Text: text})
}

// Cancel は読み上げを中止させる。
func (s *interviewSession) Cancel() {
	s.mu.Lock()
	s.speechDone = nil
	s.mu.Unlock()
	s.send(interviewEvent{Type: evCancelSpeech})
}

func (s *interviewSession) finishSpeech() {
	s.mu.Lock()
	done := s.speechDone
	s.speechDone = nil
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

// Start は端末に音声認識の開始を依頼する。
func (s *interviewSession) Start(onResult func(text string, final bool), onError func(err error)) error {
	s.mu.Lock()
	s.onResult = onResult
	s.onError = onError
	s.mu.Unlock()
	s.send(interviewEvent{Type: evStartRecognition})
	return nil
}

// Stop は端末に音声認識の終了を依頼する。
func (s *interviewSession) Stop() {
	s.mu.Lock()
	s.onResult = nil
	s.onError = nil
	s.mu.Unlock()
	s.send(interviewEvent{Type: evStopRecognition})
}

func (s *interviewSession) recognized(text string, final bool) {
	s.mu.Lock()
	f := s.onResult
	s.mu.Unlock()
	if f != nil {
		f(text, final)
	}
}

func (s *interviewSession) recognitionFailed(message string) {
	s.mu.Lock()
	f := s.onError
	s.mu.Unlock()
	if f != nil {
		if message == "" {
			message = "recognition error"
		}
		f(errors.New(message))
	}
}

// StateChanged は状態の変化を送る。
func (s *interviewSession) StateChanged(snap speaking.Snapshot) {
	s.send(interviewEvent{Type: evState, State: &snap})
}

// Graded は採点結果を送る。
func (s *interviewSession) Graded(result *model.SpeakingFeedback) {
	s.send(interviewEvent{Type: evResult, Result: result})
}

// Failed はエラーを統一フォーマットで送る。
func (s *interviewSession) Failed(err error) {
	apiErr := interviewAPIError(err)
	s.send(interviewEvent{Type: evError, Error: &middleware.ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}})
}

// interviewAPIError は面接中のエラーを学習者向けのAPIErrorに変換する。
func interviewAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var transition *speaking.TransitionError
	if errors.As(err, &transition) {
		return model.NewInterviewStateError("That action is not available right now.")
	}
	if errors.Is(err, speaking.ErrNoQuestions) {
		return model.NewInterviewStateError("Start a new test before beginning the interview.")
	}
	slog.Error("interview failed", slog.String("error", err.Error()))
	return model.NewInterviewStateError("The interview stopped unexpectedly.")
}

// compile-time interface check
var (
	_ speaking.Synthesizer = (*interviewSession)(nil)
	_ speaking.Recognizer  = (*interviewSession)(nil)
	_ speaking.Observer    = (*interviewSession)(nil)
)
