package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// WritingServiceInterface はライティング練習ハンドラーが必要とするサービスインターフェース。
type WritingServiceInterface interface {
	DefaultTopic() string
	NewTopic(ctx context.Context) (string, error)
	Submit(ctx context.Context, userID, topic, essay string) (*model.EssayAnalysis, error)
}

// WritingHandler はライティング練習のHTTPハンドラー。
type WritingHandler struct {
	service WritingServiceInterface
}

// NewWritingHandler はWritingHandlerを生成する。
func NewWritingHandler(service WritingServiceInterface) *WritingHandler {
	return &WritingHandler{service: service}
}

type topicResponse struct {
	Topic string `json:"topic"`
}

type essayRequest struct {
	Topic string `json:"topic"`
	Essay string `json:"essay"`
}

// DefaultTopic は初期表示の課題を返す。
// GET /api/writing/topic/default
func (h *WritingHandler) DefaultTopic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, topicResponse{Topic: h.service.DefaultTopic()})
}

// NewTopic は新しい課題を生成する。
// POST /api/writing/topic
func (h *WritingHandler) NewTopic(w http.ResponseWriter, r *http.Request) {
	topic, err := h.service.NewTopic(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topicResponse{Topic: topic})
}

// SubmitEssay はエッセイを採点する。
// POST /api/writing/essays
func (h *WritingHandler) SubmitEssay(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req essayRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Submit(r.Context(), userID, req.Topic, req.Essay)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
