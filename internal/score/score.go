// Package score はIELTSの総合バンドスコア計算を提供する。
package score

import (
	"math"
	"regexp"
	"strconv"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// MaxBand はバンドスコアの上限。
const MaxBand = 9.0

// bandInputPattern は入力として受け付ける数値表現。
var bandInputPattern = regexp.MustCompile(`^\d*\.?\d*$`)

// Bands は4技能のバンドスコア入力値を表す。
// 値は入力欄の文字列そのままで、空文字列は未入力を意味する。
type Bands struct {
	Listening string `json:"listening"`
	Reading   string `json:"reading"`
	Writing   string `json:"writing"`
	Speaking  string `json:"speaking"`
}

// ValidateInput は入力値を境界で検証する。
// 空文字列、または数値表現かつ9以下の値のみ受け付ける。
func ValidateInput(value string) bool {
	if value == "" {
		return true
	}
	if !bandInputPattern.MatchString(value) {
		return false
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	return v <= MaxBand
}

// Validate は4技能すべての入力値を検証し、最初の不正値をAPIErrorで返す。
func (b Bands) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"listening", b.Listening},
		{"reading", b.Reading},
		{"writing", b.Writing},
		{"speaking", b.Speaking},
	}
	for _, f := range fields {
		if !ValidateInput(f.value) {
			return model.NewInvalidBandScoreError(f.name, f.value)
		}
	}
	return nil
}

// Overall は総合スコアを計算する。
// 4技能すべてが未入力または0の場合はok=falseを返し、「スコアなし」を表す。
// それ以外は平均値を0.5刻みに丸めた値を返す。
func Overall(l, r, w, s float64) (overall float64, ok bool) {
	if l == 0 && r == 0 && w == 0 && s == 0 {
		return 0, false
	}
	avg := (l + r + w + s) / 4
	return math.Round(avg*2) / 2, true
}

// Calculate は入力値を検証してから総合スコアを計算する。
// 戻り値のnilは「スコアなし」を表す。
func Calculate(b Bands) (*float64, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	overall, ok := Overall(parse(b.Listening), parse(b.Reading), parse(b.Writing), parse(b.Speaking))
	if !ok {
		return nil, nil
	}
	return &overall, nil
}

// parse は入力値を数値に変換する。未入力は0として扱う。
func parse(value string) float64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return v
}
