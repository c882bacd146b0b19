// Package vocab は単語カードのデッキと、ユーザーごとのカード閲覧状態を提供する。
package vocab

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/ieltsprep/internal/model"
)

//go:embed words.yaml
var wordsYAML []byte

// deckFile はwords.yamlのトップレベル構造。
type deckFile struct {
	Words []model.VocabWord `yaml:"words"`
}

// Deck は順序付きの固定単語リスト。生成後は変更しない。
type Deck struct {
	words []model.VocabWord
}

// LoadDeck は埋め込みのwords.yamlからデッキを読み込む。
func LoadDeck() (*Deck, error) {
	return ParseDeck(wordsYAML)
}

// ParseDeck はYAMLからデッキを生成する。
// word が空のエントリはエラーとする。
func ParseDeck(data []byte) (*Deck, error) {
	var f deckFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary deck: %w", err)
	}
	for i, w := range f.Words {
		if strings.TrimSpace(w.Word) == "" {
			return nil, fmt.Errorf("vocabulary entry %d has an empty word", i)
		}
	}
	return &Deck{words: f.Words}, nil
}

// NewDeck は単語リストからデッキを生成する。
func NewDeck(words []model.VocabWord) *Deck {
	cp := make([]model.VocabWord, len(words))
	copy(cp, words)
	return &Deck{words: cp}
}

// Len はデッキの単語数を返す。
func (d *Deck) Len() int {
	return len(d.words)
}

// Filter は検索語に一致する単語を元の順序のまま返す。
// 単語は大文字小文字を区別しない部分一致、訳語はそのままの部分一致で判定する。
// 検索語が空の場合は全件を返す。
func (d *Deck) Filter(term string) []model.VocabWord {
	if term == "" {
		out := make([]model.VocabWord, len(d.words))
		copy(out, d.words)
		return out
	}

	lower := strings.ToLower(term)
	out := make([]model.VocabWord, 0)
	for _, w := range d.words {
		if strings.Contains(strings.ToLower(w.Word), lower) || strings.Contains(w.Bangla, term) {
			out = append(out, w)
		}
	}
	return out
}
