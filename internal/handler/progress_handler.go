package handler

import (
	"net/http"

	"github.com/hitoshi/ieltsprep/internal/score"
)

// ProgressHandler は1日の進捗とバンドスコア計算のHTTPハンドラー。
type ProgressHandler struct {
	progress ProgressReader
}

// NewProgressHandler はProgressHandlerを生成する。
func NewProgressHandler(progress ProgressReader) *ProgressHandler {
	return &ProgressHandler{progress: progress}
}

// scoreResponse は総合バンドスコア。未算出の場合overallはnull。
type scoreResponse struct {
	Overall *float64 `json:"overall"`
}

// Get は1日の進捗を返す。
// GET /api/progress
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.progress.Get(userID))
}

// Score は4技能のバンドスコアから総合スコアを計算する。
// POST /api/score
func (h *ProgressHandler) Score(w http.ResponseWriter, r *http.Request) {
	var req score.Bands
	if !decodeJSON(w, r, &req) {
		return
	}

	overall, err := score.Calculate(req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scoreResponse{Overall: overall})
}
