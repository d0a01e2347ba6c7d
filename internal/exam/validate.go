package exam

import (
	"errors"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateExam checks a definition before it is stored.
func ValidateExam(e Exam) error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return invalid("exam %s: field %s fails %q", e.ID, f.Namespace(), f.Tag())
		}
		return invalid("exam %s: %v", e.ID, err)
	}
	if e.StartsAt != nil && e.EndsAt != nil && !e.EndsAt.After(*e.StartsAt) {
		return invalid("exam %s: ends_at must be after starts_at", e.ID)
	}
	seen := map[string]bool{}
	for _, q := range e.Questions {
		if seen[q.ID] {
			return invalid("exam %s: duplicate question id %s", e.ID, q.ID)
		}
		seen[q.ID] = true
		if err := validateQuestion(q); err != nil {
			return err
		}
	}
	return nil
}

func validateQuestion(q Question) error {
	if !q.Type.choice() {
		if len(q.Options) > 0 {
			return invalid("question %s: %s takes no options", q.ID, q.Type)
		}
		if q.Type == Numerical && q.CorrectValue == nil {
			return invalid("question %s: numerical requires correct_value", q.ID)
		}
		return nil
	}
	if len(q.Options) < 2 {
		return invalid("question %s: needs at least two options", q.ID)
	}
	ids := map[string]bool{}
	correct := 0
	for _, o := range q.Options {
		if ids[o.ID] {
			return invalid("question %s: duplicate option id %s", q.ID, o.ID)
		}
		ids[o.ID] = true
		if o.IsCorrect {
			correct++
		}
	}
	switch {
	case correct == 0:
		return invalid("question %s: no correct option", q.ID)
	case correct > 1 && q.Type != MultipleChoice:
		return invalid("question %s: %s allows one correct option", q.ID, q.Type)
	}
	return nil
}

// normalizeResponse checks that in fits the question type and returns it with
// selected options de-duplicated in order.
func normalizeResponse(q Question, in ResponseInput) (ResponseInput, error) {
	sel := make([]string, 0, len(in.SelectedOptionIDs))
	dup := map[string]bool{}
	for _, id := range in.SelectedOptionIDs {
		id = strings.TrimSpace(id)
		if id == "" || dup[id] {
			continue
		}
		dup[id] = true
		sel = append(sel, id)
	}
	in.SelectedOptionIDs = sel

	if q.Type.choice() {
		if in.NumericalAnswer != nil || in.TextAnswer != "" {
			return in, invalid("question %s: %s accepts only option ids", q.ID, q.Type)
		}
		if len(sel) > 1 && q.Type != MultipleChoice {
			return in, invalid("question %s: %s accepts one option", q.ID, q.Type)
		}
		for _, id := range sel {
			if !q.hasOption(id) {
				return in, invalid("question %s: unknown option %s", q.ID, id)
			}
		}
		return in, nil
	}
	if len(sel) > 0 {
		return in, invalid("question %s: %s takes no options", q.ID, q.Type)
	}
	switch q.Type {
	case Numerical:
		if in.TextAnswer != "" {
			return in, invalid("question %s: numerical accepts only numerical_answer", q.ID)
		}
		if v := in.NumericalAnswer; v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return in, invalid("question %s: numerical_answer out of range", q.ID)
		}
	case Subjective:
		if in.NumericalAnswer != nil {
			return in, invalid("question %s: subjective accepts only text_answer", q.ID)
		}
	}
	return in, nil
}

func (q Question) hasOption(id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}
