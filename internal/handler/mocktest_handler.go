package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ieltsprep/internal/mocktest"
	"github.com/hitoshi/ieltsprep/internal/model"
)

// MockTestServiceInterface は模試ハンドラーが必要とするサービスインターフェース。
type MockTestServiceInterface interface {
	StartReading(ctx context.Context, userID string) (*mocktest.AttemptView, error)
	StartListening(ctx context.Context, userID string) (*mocktest.AttemptView, error)
	GetAttempt(ctx context.Context, userID, attemptID string) (*mocktest.AttemptView, error)
	SelectAnswer(ctx context.Context, userID, attemptID string, question, option int) (*mocktest.AttemptView, error)
	Submit(ctx context.Context, userID, attemptID string, confirm bool) (*mocktest.AttemptView, error)
	StartWriting(ctx context.Context, userID string) (string, error)
	GradeWriting(ctx context.Context, userID, topic, essay string) (*model.EssayAnalysis, error)
}

// MockTestHandler は模試のHTTPハンドラー。
type MockTestHandler struct {
	service MockTestServiceInterface
}

// NewMockTestHandler はMockTestHandlerを生成する。
func NewMockTestHandler(service MockTestServiceInterface) *MockTestHandler {
	return &MockTestHandler{service: service}
}

type selectAnswerRequest struct {
	Option *int `json:"option"`
}

type submitRequest struct {
	Confirm bool `json:"confirm"`
}

// StartReading はReading模試を開始する。
// POST /api/mock/reading
func (h *MockTestHandler) StartReading(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.service.StartReading)
}

// StartListening はListening模試を開始する。
// POST /api/mock/listening
func (h *MockTestHandler) StartListening(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.service.StartListening)
}

// GetAttempt は受験記録を返す。
// GET /api/mock/attempts/{id}
func (h *MockTestHandler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetAttempt(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SelectAnswer は設問の回答を設定する。
// PUT /api/mock/attempts/{id}/answers/{q}
func (h *MockTestHandler) SelectAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	question, err := strconv.Atoi(chi.URLParam(r, "q"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidAnswerError("question must be a number"))
		return
	}

	var req selectAnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Option == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidAnswerError("option is required"))
		return
	}

	view, err := h.service.SelectAnswer(r.Context(), userID, chi.URLParam(r, "id"), question, *req.Option)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Submit は受験記録を提出して採点する。
// POST /api/mock/attempts/{id}/submit
// 未回答がある場合は {"confirm": true} で再送すると提出できる。
func (h *MockTestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	view, err := h.service.Submit(r.Context(), userID, chi.URLParam(r, "id"), req.Confirm)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// StartWriting はWriting模試の課題を生成する。
// POST /api/mock/writing
func (h *MockTestHandler) StartWriting(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	topic, err := h.service.StartWriting(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topicResponse{Topic: topic})
}

// GradeWriting はWriting模試のエッセイを採点する。
// POST /api/mock/writing/grade
func (h *MockTestHandler) GradeWriting(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req essayRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.GradeWriting(r.Context(), userID, req.Topic, req.Essay)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *MockTestHandler) start(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, userID string) (*mocktest.AttemptView, error),
) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	view, err := op(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}
