package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"quiz-room-sync/internal/domain"
)

// questionDoc is the YAML shape of a seed question.
type questionDoc struct {
	ID                 string   `yaml:"id"`
	Grade              int      `yaml:"grade"`
	Term               int      `yaml:"term"`
	Text               string   `yaml:"text"`
	Type               string   `yaml:"type"`
	Options            []string `yaml:"options"`
	CorrectOptionIndex *int     `yaml:"correct_option_index"`
	Explanation        string   `yaml:"explanation"`
	CorrectAnswer      *string  `yaml:"correct_answer"`
	AcceptableAnswers  []string `yaml:"acceptable_answers"`
	AnswerUnit         string   `yaml:"answer_unit"`
	AnswerType         string   `yaml:"answer_type"`
}

func (d questionDoc) toDomain() domain.Question {
	t := domain.QuestionType(d.Type)
	if t == "" {
		t = domain.MultipleChoice
	}
	return domain.Question{
		ID:                 d.ID,
		Grade:              d.Grade,
		Term:               d.Term,
		Text:               d.Text,
		Options:            d.Options,
		CorrectOptionIndex: d.CorrectOptionIndex,
		Explanation:        d.Explanation,
		Type:               t,
		CorrectAnswer:      d.CorrectAnswer,
		AcceptableAnswers:  d.AcceptableAnswers,
		AnswerUnit:         d.AnswerUnit,
		AnswerType:         domain.AnswerType(d.AnswerType),
	}
}

// loadQuestionsFile reads a YAML list of questions.
func loadQuestionsFile(path string) ([]domain.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []questionDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]domain.Question, 0, len(docs))
	for i, d := range docs {
		if d.ID == "" || d.Grade <= 0 {
			return nil, fmt.Errorf("question %d: id and grade are required", i)
		}
		out = append(out, d.toDomain())
	}
	return out, nil
}

// sampleQuestions backs the in-process loader when no database is configured:
// twelve grade-3 sums plus a few free-form items.
func sampleQuestions() []domain.Question {
	var qs []domain.Question
	for i := 1; i <= 12; i++ {
		correct := i % 4
		options := make([]string, 4)
		for j := range options {
			options[j] = fmt.Sprint(i + 10 + j - correct)
		}
		qs = append(qs, domain.Question{
			ID:                 fmt.Sprintf("g3-sum-%02d", i),
			Grade:              3,
			Term:               1 + (i-1)/6,
			Text:               fmt.Sprintf("%d + 10 = ?", i),
			Options:            options,
			CorrectOptionIndex: &correct,
			Explanation:        fmt.Sprintf("%d plus ten is %d.", i, i+10),
			Type:               domain.MultipleChoice,
		})
	}
	half, twelve := "1/2", "12"
	qs = append(qs,
		domain.Question{
			ID: "g3-free-half", Grade: 3, Term: 2,
			Text:          "What fraction of a pizza is one of two equal slices?",
			Type:          domain.FreeForm,
			CorrectAnswer: &half, AnswerType: domain.AnswerFraction,
			AcceptableAnswers: []string{"0.5"},
		},
		domain.Question{
			ID: "g3-free-dozen", Grade: 3, Term: 2,
			Text:          "How many eggs are in a dozen?",
			Type:          domain.FreeForm,
			CorrectAnswer: &twelve, AnswerType: domain.AnswerInteger, AnswerUnit: "eggs",
		},
	)
	return qs
}
