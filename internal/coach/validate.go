package coach

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hitoshi/ieltsprep/internal/model"
)

// 模試の構成。
const (
	MockQuestionCount     = 10
	OptionsPerQuestion    = 4
	SpeakingQuestionCount = 5
)

// ErrInvalidResponse は応答がスキーマに適合しないことを表す。
var ErrInvalidResponse = errors.New("coach: invalid response")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}

// decodeStrict はJSONを厳密にデコードする。未知のフィールドと後続データは拒否する。
func decodeStrict(text string, v any) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("decode: %v", err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return invalid("unexpected trailing data")
	}
	return nil
}

// field は必須フィールドの名前と値。
type field struct {
	name  string
	value string
}

// requireFields は最初に見つかった空のフィールドを宣言順で報告する。
func requireFields(fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return invalid("%s is empty", f.name)
		}
	}
	return nil
}

func validateEssay(a *model.EssayAnalysis) error {
	return requireFields(
		field{"band", a.Band},
		field{"feedback", a.Feedback},
		field{"corrected", a.Corrected},
	)
}

func validateQuestions(qs []model.MockQuestion) error {
	if len(qs) != MockQuestionCount {
		return invalid("expected %d questions, got %d", MockQuestionCount, len(qs))
	}
	for i, q := range qs {
		if q.Text == "" {
			return invalid("question %d has no text", i)
		}
		if len(q.Options) != OptionsPerQuestion {
			return invalid("question %d has %d options, want %d", i, len(q.Options), OptionsPerQuestion)
		}
		for j, opt := range q.Options {
			if opt == "" {
				return invalid("question %d option %d is empty", i, j)
			}
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= OptionsPerQuestion {
			return invalid("question %d correctIndex %d out of range", i, q.CorrectIndex)
		}
	}
	return nil
}

func validateReading(t *model.ReadingTest) error {
	if err := requireFields(field{"title", t.Title}, field{"passage", t.Passage}); err != nil {
		return err
	}
	return validateQuestions(t.Questions)
}

func validateListening(t *model.ListeningTest) error {
	if err := requireFields(field{"scenario", t.Scenario}, field{"script", t.Script}); err != nil {
		return err
	}
	return validateQuestions(t.Questions)
}

func validateSpeakingQuestions(t *model.SpeakingTest) error {
	if len(t.Questions) != SpeakingQuestionCount {
		return invalid("expected %d questions, got %d", SpeakingQuestionCount, len(t.Questions))
	}
	for i, q := range t.Questions {
		if q == "" {
			return invalid("question %d is empty", i)
		}
	}
	return nil
}

func validateSpeakingFeedback(f *model.SpeakingFeedback) error {
	return requireFields(
		field{"band", f.Band},
		field{"fluency", f.Fluency},
		field{"vocabulary", f.Vocabulary},
		field{"grammar", f.Grammar},
		field{"pronunciation", f.Pronunciation},
	)
}
