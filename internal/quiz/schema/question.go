package schema

import "fmt"

// DefaultQuizID is the quiz the client plays when none is chosen.
const DefaultQuizID = "geral"

// QuestionsCollection returns the collection path holding a quiz's questions.
func QuestionsCollection(quizID string) string {
	return "quizzes/" + quizID + "/questions"
}

// Question is a single multiple-choice question.
type Question struct {
	Text          string   `json:"questionText"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// Validate checks that the question is answerable.
func (q *Question) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("questionText is required")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("at least 2 options are required (got %d)", len(q.Options))
	}
	for _, opt := range q.Options {
		if opt == q.CorrectAnswer {
			return nil
		}
	}
	return fmt.Errorf("correctAnswer %q is not one of the options", q.CorrectAnswer)
}

// IsCorrect reports whether answer matches the correct option.
func (q *Question) IsCorrect(answer string) bool {
	return answer != "" && answer == q.CorrectAnswer
}

// QuestionFromDocument converts a question document.
func QuestionFromDocument(fields map[string]any) (*Question, error) {
	q := &Question{}
	q.Text, _ = StringField(fields, "questionText")
	q.CorrectAnswer, _ = StringField(fields, "correctAnswer")
	if raw, ok := fields["options"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				q.Options = append(q.Options, s)
			}
		}
	} else if opts, ok := fields["options"].([]string); ok {
		q.Options = append(q.Options, opts...)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}
