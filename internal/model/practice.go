package model

import "time"

// EssayAnalysis はエッセイ採点結果を表す。
type EssayAnalysis struct {
	Band      string `json:"band"`
	Feedback  string `json:"feedback"`
	Corrected string `json:"corrected"`
}

// MockQuestion は多肢選択式の設問を表す。
type MockQuestion struct {
	ID           int      `json:"id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// ReadingTest はリーディング模試（本文と設問）を表す。
type ReadingTest struct {
	Title     string         `json:"title"`
	Passage   string         `json:"passage"`
	Questions []MockQuestion `json:"questions"`
}

// ListeningTest はリスニング模試（スクリプトと設問）を表す。
type ListeningTest struct {
	Scenario  string         `json:"scenario"`
	Script    string         `json:"script"`
	Questions []MockQuestion `json:"questions"`
}

// SpeakingTest はスピーキング面接の質問リストを表す。
type SpeakingTest struct {
	Questions []string `json:"questions"`
}

// TranscriptEntry は面接の1問分の質問と回答を表す。
type TranscriptEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SpeakingFeedback はスピーキング採点結果を表す。
type SpeakingFeedback struct {
	Band          string `json:"band"`
	Fluency       string `json:"fluency"`
	Vocabulary    string `json:"vocabulary"`
	Grammar       string `json:"grammar"`
	Pronunciation string `json:"pronunciation"`
}

// TestKind は模試の種類を表す。
type TestKind string

const (
	TestKindReading   TestKind = "reading"
	TestKindListening TestKind = "listening"
)

// UnansweredIndex は未回答を表す回答値。
const UnansweredIndex = -1

// Attempt は1回分の模試受験を表す。
// 新しい模試を要求した時点で破棄される一時データ。
type Attempt struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Kind      TestKind       `json:"kind"`
	Reading   *ReadingTest   `json:"reading,omitempty"`
	Listening *ListeningTest `json:"listening,omitempty"`
	Answers   []int          `json:"answers"`
	Submitted bool           `json:"submitted"`
	Score     int            `json:"score"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Questions は受験中の模試の設問を返す。
func (a *Attempt) Questions() []MockQuestion {
	switch {
	case a.Reading != nil:
		return a.Reading.Questions
	case a.Listening != nil:
		return a.Listening.Questions
	default:
		return nil
	}
}

// Unanswered は未回答の設問数を返す。
func (a *Attempt) Unanswered() int {
	n := 0
	for _, ans := range a.Answers {
		if ans == UnansweredIndex {
			n++
		}
	}
	return n
}

// VocabWord は単語カードの1件を表す。
type VocabWord struct {
	Word    string `json:"word" yaml:"word"`
	Type    string `json:"type" yaml:"type"`
	Meaning string `json:"meaning" yaml:"meaning"`
	Bangla  string `json:"bangla" yaml:"bangla"`
}

// DailyProgress は1日の学習目標に対する進捗を表す。
type DailyProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}
