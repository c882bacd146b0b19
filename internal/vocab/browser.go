package vocab

import (
	"math/rand/v2"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// completionEvery はタスク完了を通知する「次へ」の間隔。
const completionEvery = 3

// Browser はフィルタ済みデッキ上の現在位置を保持する。
// 並行アクセスは呼び出し側で排他する。
type Browser struct {
	deck     *Deck
	term     string
	filtered []model.VocabWord
	index    int
	intn     func(n int) int
}

// NewBrowser はデッキ全体を対象とするBrowserを生成する。
func NewBrowser(deck *Deck) *Browser {
	return &Browser{
		deck:     deck,
		filtered: deck.Filter(""),
		intn:     rand.IntN,
	}
}

// Search は検索語を変更し、位置を先頭に戻す。
func (b *Browser) Search(term string) {
	b.term = term
	b.filtered = b.deck.Filter(term)
	b.index = 0
}

// Term は現在の検索語を返す。
func (b *Browser) Term() string {
	return b.term
}

// Len はフィルタ後の単語数を返す。
func (b *Browser) Len() int {
	return len(b.filtered)
}

// Index は現在位置（0始まり）を返す。
func (b *Browser) Index() int {
	return b.index
}

// Current は現在のカードを返す。フィルタ結果が空の場合はnil。
func (b *Browser) Current() *model.VocabWord {
	if len(b.filtered) == 0 {
		return nil
	}
	w := b.filtered[b.index]
	return &w
}

// Next は次のカードへ進む（末尾の次は先頭）。
// 進む前の位置が 2, 5, 8, ... の場合、completed=true を返す。
// フィルタ結果が空の場合は何もしない。
func (b *Browser) Next() (completed bool) {
	if len(b.filtered) == 0 {
		return false
	}
	completed = (b.index+1)%completionEvery == 0
	b.index = (b.index + 1) % len(b.filtered)
	return completed
}

// Prev は前のカードへ戻る（先頭の前は末尾）。
func (b *Browser) Prev() {
	if len(b.filtered) == 0 {
		return
	}
	b.index = (b.index - 1 + len(b.filtered)) % len(b.filtered)
}

// Random は一様乱数で選んだカードへ移動する。
func (b *Browser) Random() {
	if len(b.filtered) == 0 {
		return
	}
	b.index = b.intn(len(b.filtered))
}

// Words はフィルタ後の単語リストを返す。
func (b *Browser) Words() []model.VocabWord {
	out := make([]model.VocabWord, len(b.filtered))
	copy(out, b.filtered)
	return out
}
