package domain

import "fmt"

// QuestionType is the closed set of supported question shapes.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTextInput      QuestionType = "text_input"
)

// Question is one entry of a quiz. CorrectAnswers is the accepted-answer set.
type Question struct {
	Index          int          `json:"index"`
	Content        string       `json:"content"`
	Type           QuestionType `json:"type"`
	Options        []string     `json:"options,omitempty"`
	CorrectAnswers []string     `json:"correctAnswers"`
	TimeLimit      int          `json:"timeLimit,omitempty"` // seconds; defaults to 30 if zero
}

// Limit returns the answer window in seconds.
func (q Question) Limit() int {
	if q.TimeLimit <= 0 {
		return DefaultTimeLimit
	}
	return q.TimeLimit
}

// Accepts reports whether answer exactly matches one of the accepted answers.
func (q Question) Accepts(answer string) bool {
	for _, c := range q.CorrectAnswers {
		if c == answer {
			return true
		}
	}
	return false
}

// PrimaryAnswer is the first accepted answer, shown when the question closes.
func (q Question) PrimaryAnswer() string {
	if len(q.CorrectAnswers) == 0 {
		return ""
	}
	return q.CorrectAnswers[0]
}

// Validate checks the question shape once, at the storage boundary.
func (q Question) Validate() error {
	if q.Content == "" {
		return Invalidf("question %d: content is empty", q.Index)
	}
	if q.TimeLimit < 0 {
		return Invalidf("question %d: negative time limit", q.Index)
	}
	if len(q.CorrectAnswers) == 0 {
		return Invalidf("question %d: no correct answer", q.Index)
	}
	switch q.Type {
	case QuestionMultipleChoice:
		if len(q.Options) < 2 {
			return Invalidf("question %d: multiple choice needs at least two options", q.Index)
		}
		for _, c := range q.CorrectAnswers {
			if !contains(q.Options, c) {
				return Invalidf("question %d: correct answer %q is not an option", q.Index, c)
			}
		}
	case QuestionTextInput:
	default:
		return Invalidf("question %d: unknown type %q", q.Index, q.Type)
	}
	return nil
}

// Quiz is the immutable snapshot a session runs against.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// Question returns the question at index.
func (q Quiz) Question(index int) (Question, bool) {
	if index < 0 || index >= len(q.Questions) {
		return Question{}, false
	}
	return q.Questions[index], true
}

// Validate checks every question and normalizes nothing; a quiz that fails
// validation is rejected rather than repaired.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return Invalidf("quiz id is empty")
	}
	if len(q.Questions) == 0 {
		return Invalidf("quiz %s has no questions", q.ID)
	}
	for i, question := range q.Questions {
		if question.Index != i {
			return Invalidf("quiz %s: question at position %d has index %d", q.ID, i, question.Index)
		}
		if err := question.Validate(); err != nil {
			return fmt.Errorf("quiz %s: %w", q.ID, err)
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
