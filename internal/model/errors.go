// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, ai, profile, test, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeIdentityProvider      = "IDENTITY_PROVIDER_ERROR"
	ErrCodeNameRequired          = "NAME_REQUIRED"
	ErrCodeEmailRequired         = "EMAIL_REQUIRED"
	ErrCodeFederatedDisabled     = "FEDERATED_SIGNIN_DISABLED"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeEssayTooShort         = "ESSAY_TOO_SHORT"
	ErrCodeGenerationFailed      = "GENERATION_FAILED"
	ErrCodeAttemptNotFound       = "ATTEMPT_NOT_FOUND"
	ErrCodeAttemptSubmitted      = "ATTEMPT_ALREADY_SUBMITTED"
	ErrCodeUnansweredQuestions   = "UNANSWERED_QUESTIONS"
	ErrCodeInvalidAnswer         = "INVALID_ANSWER"
	ErrCodeInvalidBandScore      = "INVALID_BAND_SCORE"
	ErrCodeInvalidPhoto          = "INVALID_PHOTO"
	ErrCodePhotoURLBlocked       = "PHOTO_URL_BLOCKED"
	ErrCodeSpeechUnavailable     = "SPEECH_RECOGNITION_UNAVAILABLE"
	ErrCodeMicrophoneUnavailable = "MICROPHONE_UNAVAILABLE"
	ErrCodeInterviewState        = "INTERVIEW_STATE_INVALID"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Please sign in to continue.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "The request could not be understood.",
		Category: "validation",
		Action:   "Send a well-formed JSON body.",
	}
}

// NewIdentityProviderError はIdPエラーを学習者向けメッセージで包む。
// messageにはIdPのエラーコードから変換済みの文言を渡す。
func NewIdentityProviderError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityProvider,
		Message:  message,
		Category: "auth",
		Action:   "Check your details and try again.",
	}
}

// NewNameRequiredError は登録時の氏名未入力エラーを生成する。
func NewNameRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeNameRequired,
		Message:  "Please enter your first and last name.",
		Category: "validation",
		Action:   "Fill in both name fields.",
	}
}

// NewEmailRequiredError はパスワードリセット時のメールアドレス未入力エラーを生成する。
func NewEmailRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailRequired,
		Message:  "Please enter your email address in the box above first.",
		Category: "validation",
		Action:   "Type your email address, then request the reset link again.",
	}
}

// NewFederatedDisabledError はGoogleサインイン未設定エラーを生成する。
func NewFederatedDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeFederatedDisabled,
		Message:  "Google sign-in is not available.",
		Category: "auth",
		Action:   "Sign in with your email and password.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewEssayTooShortError はエッセイ文字数不足エラーを生成する。
func NewEssayTooShortError(minChars int) *APIError {
	return &APIError{
		Code:     ErrCodeEssayTooShort,
		Message:  fmt.Sprintf("Please write at least %d characters for a valid check.", minChars),
		Category: "validation",
		Action:   "Keep writing and submit again.",
	}
}

// NewGenerationFailedError は生成AI呼び出し失敗エラーを生成する。
// whatには失敗した操作の学習者向け表現を渡す（例: "Failed to generate test."）。
func NewGenerationFailedError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeGenerationFailed,
		Message:  what,
		Category: "ai",
		Action:   "Please try again.",
	}
}

// NewAttemptNotFoundError は模試の受験記録が見つからない場合のエラーを生成する。
func NewAttemptNotFoundError(attemptID string) *APIError {
	return &APIError{
		Code:     ErrCodeAttemptNotFound,
		Message:  fmt.Sprintf("Test attempt not found: %s", attemptID),
		Category: "test",
		Action:   "Start a new test.",
	}
}

// NewAttemptSubmittedError は提出済みの受験記録への変更エラーを生成する。
func NewAttemptSubmittedError() *APIError {
	return &APIError{
		Code:     ErrCodeAttemptSubmitted,
		Message:  "This test has already been submitted.",
		Category: "test",
		Action:   "Start a new test to try again.",
	}
}

// NewUnansweredQuestionsError は未回答の設問がある状態での提出確認を要求する。
func NewUnansweredQuestionsError(unanswered int) *APIError {
	return &APIError{
		Code:     ErrCodeUnansweredQuestions,
		Message:  "You have unanswered questions. Submit anyway?",
		Category: "test",
		Action:   fmt.Sprintf("Answer the remaining %d question(s) or submit again with confirmation.", unanswered),
	}
}

// NewInvalidAnswerError は設問番号または選択肢番号が範囲外の場合のエラーを生成する。
func NewInvalidAnswerError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAnswer,
		Message:  fmt.Sprintf("Invalid answer: %s", reason),
		Category: "validation",
		Action:   "Pick one of the listed options.",
	}
}

// NewInvalidBandScoreError はバンドスコア入力値が不正な場合のエラーを生成する。
func NewInvalidBandScoreError(field, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBandScore,
		Message:  fmt.Sprintf("Invalid %s score: %q", field, value),
		Category: "validation",
		Action:   "Enter a number between 0 and 9.",
	}
}

// NewInvalidPhotoError は画像として扱えないアップロードのエラーを生成する。
func NewInvalidPhotoError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhoto,
		Message:  fmt.Sprintf("The photo could not be used: %s", reason),
		Category: "profile",
		Action:   "Choose a JPEG, PNG or GIF image.",
	}
}

// NewPhotoURLBlockedError は写真URLが安全性チェックで拒否された場合のエラーを生成する。
func NewPhotoURLBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodePhotoURLBlocked,
		Message:  "The photo URL is not reachable or is not an image.",
		Category: "profile",
		Action:   "Use a public https image URL.",
	}
}

// NewSpeechUnavailableError は音声認識機能が存在しない場合のエラーを生成する。
func NewSpeechUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeSpeechUnavailable,
		Message:  "Speech recognition not supported in this browser. Please use Chrome.",
		Category: "test",
		Action:   "Switch to a browser with speech recognition.",
	}
}

// NewMicrophoneUnavailableError はマイク利用不可エラーを生成する。
func NewMicrophoneUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeMicrophoneUnavailable,
		Message:  "Microphone access denied or error. Please check settings.",
		Category: "test",
		Action:   "Allow microphone access and start the interview again.",
	}
}

// NewInterviewStateError は面接の進行状態に合わない操作のエラーを生成する。
func NewInterviewStateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInterviewState,
		Message:  reason,
		Category: "test",
		Action:   "Wait for the examiner, or start a new interview.",
	}
}
