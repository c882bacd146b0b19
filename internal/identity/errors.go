package identity

import (
	"errors"
	"fmt"
	"strings"
)

// IdPのエラーコード
const (
	CodeInvalidCredential = "INVALID_LOGIN_CREDENTIALS"
	CodeUserNotFound      = "EMAIL_NOT_FOUND"
	CodeWrongPassword     = "INVALID_PASSWORD"
	CodeEmailInUse        = "EMAIL_EXISTS"
	CodeWeakPassword      = "WEAK_PASSWORD"
	CodeInvalidEmail      = "INVALID_EMAIL"
	CodeTooManyRequests   = "TOO_MANY_ATTEMPTS_TRY_LATER"
)

// GenericMessage は対応表にないエラーの学習者向け文言。
const GenericMessage = "Something went wrong. Please check your internet connection."

// providerMessages はIdPのエラーコードと学習者向け文言の対応表。
var providerMessages = map[string]string{
	CodeInvalidCredential: "Incorrect email or password. Please try again.",
	CodeUserNotFound:      "No account found with this email.",
	CodeWrongPassword:     "Wrong password! Please try again.",
	CodeEmailInUse:        "This email is already used. Try logging in.",
	CodeWeakPassword:      "Password must be at least 6 characters.",
	CodeInvalidEmail:      "Please enter a valid email address.",
	CodeTooManyRequests:   "Too many failed attempts. Please try again later.",
}

// ProviderError はIdPが返したエラーを表す。
type ProviderError struct {
	Status int
	Code   string
	Detail string
}

func (e *ProviderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("identity provider error %d: %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("identity provider error %d: %s", e.Status, e.Code)
}

// newProviderError はIdPのエラーメッセージからProviderErrorを作る。
// メッセージは "WEAK_PASSWORD : Password should be at least 6 characters" の形式の場合がある。
func newProviderError(status int, message string) *ProviderError {
	code, detail, _ := strings.Cut(message, ":")
	return &ProviderError{
		Status: status,
		Code:   strings.TrimSpace(code),
		Detail: strings.TrimSpace(detail),
	}
}

// MessageFor はIdPのエラーを学習者向けの文言に変換する。
// ProviderError以外（通信エラーなど）は汎用の文言になる。
func MessageFor(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if msg, ok := providerMessages[pe.Code]; ok {
			return msg
		}
	}
	return GenericMessage
}
