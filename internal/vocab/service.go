package vocab

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// TaskRecorder は学習タスク完了を記録するインターフェース。
type TaskRecorder interface {
	CompleteTask(userID, source string)
}

// View はカード閲覧状態のスナップショット。
type View struct {
	Card          *model.VocabWord `json:"card"`
	Position      int              `json:"position"`
	Count         int              `json:"count"`
	Term          string           `json:"term"`
	TaskCompleted bool             `json:"taskCompleted"`
}

// Service はユーザーごとのBrowserを管理する。
// 閲覧状態はプロセス内のみで保持し、再起動で失われる。
type Service struct {
	deck     *Deck
	recorder TaskRecorder

	mu       sync.Mutex
	browsers map[string]*Browser
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(deck *Deck, recorder TaskRecorder) *Service {
	return &Service{
		deck:     deck,
		recorder: recorder,
		browsers: make(map[string]*Browser),
	}
}

// List は検索語に一致する単語を返す。閲覧状態は変更しない。
func (s *Service) List(term string) []model.VocabWord {
	return s.deck.Filter(term)
}

// Current は現在のカードを返す。
func (s *Service) Current(userID string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return viewOf(s.browser(userID), false)
}

// Search は検索語を変更し、先頭のカードを返す。
func (s *Service) Search(userID, term string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.browser(userID)
	b.Search(term)
	return viewOf(b, false)
}

// Next は次のカードへ進む。3枚ごとにタスク完了を記録する。
func (s *Service) Next(userID string) View {
	s.mu.Lock()
	b := s.browser(userID)
	completed := b.Next()
	v := viewOf(b, completed)
	s.mu.Unlock()

	if completed && s.recorder != nil {
		slog.Debug("vocabulary task completed", slog.String("user_id", userID))
		s.recorder.CompleteTask(userID, "vocab")
	}
	return v
}

// Prev は前のカードへ戻る。
func (s *Service) Prev(userID string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.browser(userID)
	b.Prev()
	return viewOf(b, false)
}

// Random はランダムなカードへ移動する。
func (s *Service) Random(userID string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.browser(userID)
	b.Random()
	return viewOf(b, false)
}

// Forget はユーザーの閲覧状態を破棄する。
func (s *Service) Forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.browsers, userID)
}

// browser はユーザーのBrowserを取得または作成する。s.muを保持して呼ぶこと。
func (s *Service) browser(userID string) *Browser {
	b, ok := s.browsers[userID]
	if !ok {
		b = NewBrowser(s.deck)
		s.browsers[userID] = b
	}
	return b
}

func viewOf(b *Browser, completed bool) View {
	return View{
		Card:          b.Current(),
		Position:      b.Index(),
		Count:         b.Len(),
		Term:          b.Term(),
		TaskCompleted: completed,
	}
}
