package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-room-sync/internal/domain"
)

// QuestionLoader loads question content from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

// LoadQuestionIDs lists the ids of a grade's questions. Term 0 means every term.
func (l *QuestionLoader) LoadQuestionIDs(ctx context.Context, grade, term int) ([]string, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id FROM questions WHERE grade=$1 AND ($2=0 OR term=$2) ORDER BY id`, grade, term)
	if err != nil {
		return nil, fmt.Errorf("load question ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan question id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, ids []string) ([]domain.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, grade, term, question_text, options, correct_option_index, explanation,
		       question_type, correct_answer, acceptable_answers,
		       COALESCE(answer_unit, ''), COALESCE(answer_type, '')
		FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var (
			q           domain.Question
			correctIdx  *int32
			qType, aTyp string
		)
		err := rows.Scan(&q.ID, &q.Grade, &q.Term, &q.Text, &q.Options, &correctIdx, &q.Explanation,
			&qType, &q.CorrectAnswer, &q.AcceptableAnswers, &q.AnswerUnit, &aTyp)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if correctIdx != nil {
			v := int(*correctIdx)
			q.CorrectOptionIndex = &v
		}
		q.Type = domain.QuestionType(qType)
		q.AnswerType = domain.AnswerType(aTyp)
		out = append(out, q)
	}
	return out, rows.Err()
}

// InsertQuestions upserts question content. Used for seeding.
func (l *QuestionLoader) InsertQuestions(ctx context.Context, qs []domain.Question) error {
	for _, q := range qs {
		var correctIdx *int32
		if q.CorrectOptionIndex != nil {
			v := int32(*q.CorrectOptionIndex)
			correctIdx = &v
		}
		var unit, aTyp *string
		if q.AnswerUnit != "" {
			unit = &q.AnswerUnit
		}
		if q.AnswerType != "" {
			s := string(q.AnswerType)
			aTyp = &s
		}
		options := q.Options
		if options == nil {
			options = []string{}
		}
		acceptable := q.AcceptableAnswers
		if acceptable == nil {
			acceptable = []string{}
		}
		qType := q.Type
		if qType == "" {
			qType = domain.MultipleChoice
		}
		_, err := l.pool.Exec(ctx, `
			INSERT INTO questions (id, grade, term, question_text, options, correct_option_index, explanation,
			                       question_type, correct_answer, acceptable_answers, answer_unit, answer_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				grade = EXCLUDED.grade, term = EXCLUDED.term, question_text = EXCLUDED.question_text,
				options = EXCLUDED.options, correct_option_index = EXCLUDED.correct_option_index,
				explanation = EXCLUDED.explanation, question_type = EXCLUDED.question_type,
				correct_answer = EXCLUDED.correct_answer, acceptable_answers = EXCLUDED.acceptable_answers,
				answer_unit = EXCLUDED.answer_unit, answer_type = EXCLUDED.answer_type`,
			q.ID, q.Grade, q.Term, q.Text, options, correctIdx, q.Explanation,
			string(qType), q.CorrectAnswer, acceptable, unit, aTyp)
		if err != nil {
			return fmt.Errorf("insert question %s: %w", q.ID, err)
		}
	}
	return nil
}
