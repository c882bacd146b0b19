package handler

import (
	"net/http"

	"github.com/hitoshi/ieltsprep/internal/model"
	"github.com/hitoshi/ieltsprep/internal/vocab"
)

// VocabServiceInterface は単語カードハンドラーが必要とするサービスインターフェース。
type VocabServiceInterface interface {
	List(term string) []model.VocabWord
	Current(userID string) vocab.View
	Search(userID, term string) vocab.View
	Next(userID string) vocab.View
	Prev(userID string) vocab.View
	Random(userID string) vocab.View
}

// VocabHandler は単語カードのHTTPハンドラー。
type VocabHandler struct {
	service VocabServiceInterface
}

// NewVocabHandler はVocabHandlerを生成する。
func NewVocabHandler(service VocabServiceInterface) *VocabHandler {
	return &VocabHandler{service: service}
}

type vocabSearchRequest struct {
	Term string `json:"term"`
}

type vocabListResponse struct {
	Words []model.VocabWord `json:"words"`
	Count int               `json:"count"`
}

// List は検索語に一致する単語の一覧を返す。
// GET /api/vocab?q=
func (h *VocabHandler) List(w http.ResponseWriter, r *http.Request) {
	words := h.service.List(r.URL.Query().Get("q"))
	if words == nil {
		words = []model.VocabWord{}
	}
	writeJSON(w, http.StatusOK, vocabListResponse{Words: words, Count: len(words)})
}

// Card は現在のカードを返す。
// GET /api/vocab/card
func (h *VocabHandler) Card(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.service.Current)
}

// Search は検索語を設定し、先頭のカードを返す。
// PUT /api/vocab/search
func (h *VocabHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req vocabSearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.view(w, r, func(userID string) vocab.View {
		return h.service.Search(userID, req.Term)
	})
}

// Next は次のカードへ進む。
// POST /api/vocab/next
func (h *VocabHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.service.Next)
}

// Prev は前のカードへ戻る。
// POST /api/vocab/prev
func (h *VocabHandler) Prev(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.service.Prev)
}

// Random はランダムなカードへ移動する。
// POST /api/vocab/random
func (h *VocabHandler) Random(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.service.Random)
}

func (h *VocabHandler) view(w http.ResponseWriter, r *http.Request, op func(userID string) vocab.View) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, op(userID))
}
