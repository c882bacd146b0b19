package coach

import "google.golang.org/genai"

// 要求種別。
const (
	KindTopic             = "topic"
	KindGradeEssay        = "grade_essay"
	KindReadingTest       = "reading_test"
	KindListeningTest     = "listening_test"
	KindSpeakingQuestions = "speaking_questions"
	KindGradeSpeaking     = "grade_speaking"
)

const topicPrompt = "Generate one random IELTS Writing Task 2 topic. Return ONLY the topic text, nothing else."

const gradeEssayPrompt = `Act as an expert IELTS examiner. Analyze the following essay based on the topic: %q.
Essay: %q`

const readingTestPrompt = `Generate a realistic IELTS Reading section.
1. Write an academic passage (approx 500-600 words) on a random scientific or historical topic.
2. Create 10 challenging multiple-choice questions based on the passage, each with exactly 4 options.

Return JSON format.`

const listeningTestPrompt = `Generate a realistic IELTS Listening Section 1 or 2.
1. Write a natural dialogue script (approx 400 words) between two people (e.g., booking a hotel, student enquiry).
2. Create 10 multiple-choice questions based on specific details in the script, each with exactly 4 options.

Return JSON format.`

const speakingQuestionsPrompt = `Generate 5 IELTS Speaking Interview questions.
- Start with 2 simple "Introduction/Warm-up" questions (Part 1).
- Follow with 3 "Discussion/Abstract" questions (Part 3).
- Ensure the questions flow logically around a single theme (e.g., Travel, Technology, Family).
- Return ONLY the list of question strings.

Return JSON format.`

const gradeSpeakingPrompt = `Act as an IELTS Speaking Examiner. Evaluate the following Q&A session transcript:
%s

Provide a Band Score and specific feedback on Fluency, Vocabulary, Grammar, and Pronunciation (based on text evidence).

Return JSON format.`

func stringField(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description}
}

var essaySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"band":      stringField("A score from 0 to 9 (e.g. 6.5)"),
		"feedback":  stringField("A concise summary of strengths and weaknesses (max 40 words)"),
		"corrected": stringField("One specific grammar or vocabulary tip to improve this essay"),
	},
	Required: []string{"band", "feedback", "corrected"},
}

var questionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"id":   {Type: genai.TypeInteger},
		"text": {Type: genai.TypeString},
		"options": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
		"correctIndex": {Type: genai.TypeInteger, Description: "Index of the correct option (0-3)"},
	},
	Required: []string{"id", "text", "options", "correctIndex"},
}

var readingSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":     {Type: genai.TypeString},
		"passage":   {Type: genai.TypeString},
		"questions": {Type: genai.TypeArray, Items: questionSchema},
	},
	Required: []string{"title", "passage", "questions"},
}

var listeningSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"scenario":  stringField("Short description of the context"),
		"script":    stringField("The full dialogue text"),
		"questions": {Type: genai.TypeArray, Items: questionSchema},
	},
	Required: []string{"scenario", "script", "questions"},
}

var speakingQuestionsSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"questions": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"questions"},
}

var speakingFeedbackSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"band":          stringField("0-9 Score"),
		"fluency":       stringField("Feedback on length and flow"),
		"vocabulary":    stringField("Feedback on word choice"),
		"grammar":       stringField("Feedback on sentence structure"),
		"pronunciation": stringField("General pronunciation tips based on the flow (theoretical)"),
	},
	Required: []string{"band", "fluency", "vocabulary", "grammar", "pronunciation"},
}
