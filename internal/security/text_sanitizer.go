package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部サービスから受け取った文字列をプレーンテキストに正規化する。
// 生成AIの応答に含まれるHTMLタグを除去するために使用する。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、文字参照を復元したテキストを返す。
	// script, styleなど内容ごと除去される要素がある。
	// 前後の空白は除去する。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// 戻り値はHTMLとして安全ではないため、表示側でテキストとして扱うこと。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
