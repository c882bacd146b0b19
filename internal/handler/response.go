package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ieltsprep/internal/auth"
	"github.com/hitoshi/ieltsprep/internal/middleware"
	"github.com/hitoshi/ieltsprep/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSON はリクエストボディをデコードする。失敗時はエラーレスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// requireUserID はコンテキストからユーザーIDを取り出す。
// 取り出せない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// requirePrincipal はコンテキストから認証主体を取り出す。
func requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return auth.Principal{}, false
	}
	return p, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeIdentityProvider:
		return http.StatusBadRequest
	case model.ErrCodeInvalidRequest, model.ErrCodeNameRequired, model.ErrCodeEmailRequired,
		model.ErrCodeEssayTooShort, model.ErrCodeInvalidAnswer, model.ErrCodeInvalidBandScore,
		model.ErrCodeInvalidPhoto:
		return http.StatusBadRequest
	case model.ErrCodePhotoURLBlocked:
		return http.StatusUnprocessableEntity
	case model.ErrCodeFederatedDisabled, model.ErrCodeUserNotFound, model.ErrCodeAttemptNotFound:
		return http.StatusNotFound
	case model.ErrCodeAttemptSubmitted, model.ErrCodeUnansweredQuestions:
		return http.StatusConflict
	case model.ErrCodeGenerationFailed:
		return http.StatusBadGateway
	case model.ErrCodeSpeechUnavailable, model.ErrCodeMicrophoneUnavailable, model.ErrCodeInterviewState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
