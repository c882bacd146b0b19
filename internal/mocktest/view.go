package mocktest

import "github.com/hitoshi/ieltsprep/internal/model"

// QuestionView は学習者に返す設問。正解は含めない。
type QuestionView struct {
	ID      int      `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// AttemptView は学習者に返す受験記録。
// 正解番号は提出後にだけ含める。
type AttemptView struct {
	ID        string         `json:"id"`
	Kind      model.TestKind `json:"kind"`
	Title     string         `json:"title,omitempty"`
	Passage   string         `json:"passage,omitempty"`
	Scenario  string         `json:"scenario,omitempty"`
	Script    string         `json:"script,omitempty"`
	Questions []QuestionView `json:"questions"`
	Answers   []int          `json:"answers"`
	Submitted bool           `json:"submitted"`
	Score     *int           `json:"score,omitempty"`
	Total     int            `json:"total"`
	Correct   []int          `json:"correct,omitempty"`
}

// NewAttemptView は受験記録から学習者向けの表現を作る。
func NewAttemptView(a *model.Attempt) *AttemptView {
	v := &AttemptView{
		ID:        a.ID,
		Kind:      a.Kind,
		Answers:   append([]int(nil), a.Answers...),
		Submitted: a.Submitted,
	}
	switch {
	case a.Reading != nil:
		v.Title = a.Reading.Title
		v.Passage = a.Reading.Passage
	case a.Listening != nil:
		v.Scenario = a.Listening.Scenario
		v.Script = a.Listening.Script
	}

	questions := a.Questions()
	v.Total = len(questions)
	v.Questions = make([]QuestionView, len(questions))
	for i, q := range questions {
		v.Questions[i] = QuestionView{
			ID:      q.ID,
			Text:    q.Text,
			Options: append([]string(nil), q.Options...),
		}
	}

	if a.Submitted {
		score := a.Score
		v.Score = &score
		v.Correct = make([]int, len(questions))
		for i, q := range questions {
			v.Correct[i] = q.CorrectIndex
		}
	}
	return v
}
