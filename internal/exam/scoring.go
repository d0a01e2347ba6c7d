package exam

import (
	"context"
	"fmt"

	"github.com/mind-engage/mindengage-exams/internal/grading"
)

type scoredQuestion struct {
	QuestionID string
	Result     grading.Result
}

// scoreAttempt grades every question of e against what was persisted. Questions
// without a response are graded as skipped.
func scoreAttempt(ctx context.Context, g grading.Grader, e Exam, responses []Response) ([]scoredQuestion, grading.Summary, error) {
	byQ := make(map[string]Response, len(responses))
	for _, r := range responses {
		byQ[r.QuestionID] = r
	}
	out := make([]scoredQuestion, 0, len(e.Questions))
	results := make([]grading.Result, 0, len(e.Questions))
	for _, q := range e.Questions {
		r := byQ[q.ID]
		res, err := g.Grade(ctx, gradingQ(q), grading.Answer{
			SelectedOptionIDs: r.SelectedOptionIDs,
			NumericalAnswer:   r.NumericalAnswer,
			TextAnswer:        r.TextAnswer,
		})
		if err != nil {
			return nil, grading.Summary{}, fmt.Errorf("grade question %s: %w", q.ID, err)
		}
		out = append(out, scoredQuestion{QuestionID: q.ID, Result: res})
		results = append(results, res)
	}
	return out, grading.Summarize(results), nil
}

func gradingQ(q Question) grading.Q {
	gq := grading.Q{
		ID:              q.ID,
		Type:            string(q.Type),
		Marks:           q.Marks,
		NegativeMarking: q.NegativeMarking,
		CorrectValue:    q.CorrectValue,
		Tolerance:       q.Tolerance,
	}
	for _, o := range q.Options {
		if o.IsCorrect {
			gq.CorrectOptionIDs = append(gq.CorrectOptionIDs, o.ID)
		}
	}
	return gq
}
