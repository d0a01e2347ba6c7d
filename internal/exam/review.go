package exam

import (
	"context"
	"time"
)

type ReviewOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Selected  bool   `json:"selected"`
	IsCorrect *bool  `json:"is_correct,omitempty"` // only once graded
}

type ReviewItem struct {
	QuestionID        string         `json:"question_id"`
	Type              QuestionType   `json:"question_type"`
	Text              string         `json:"text"`
	Marks             float64        `json:"marks"`
	NegativeMarking   float64        `json:"negative_marking,omitempty"`
	Options           []ReviewOption `json:"options,omitempty"`
	SelectedOptionIDs []string       `json:"selected_option_ids"`
	NumericalAnswer   *float64       `json:"numerical_answer,omitempty"`
	TextAnswer        string         `json:"text_answer,omitempty"`
	IsMarkedForReview bool           `json:"is_marked_for_review"`

	Graded         bool     `json:"graded"`
	IsCorrect      *bool    `json:"is_correct"`
	MarksAwarded   *float64 `json:"marks_awarded"`
	CorrectValue   *float64 `json:"correct_value,omitempty"`
	Tolerance      float64  `json:"tolerance,omitempty"`
	Explanation    string   `json:"explanation,omitempty"`
	GraderFeedback string   `json:"grader_feedback,omitempty"`
}

// ExamSummary is the exam header shown alongside a review.
type ExamSummary struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Subject         string    `json:"subject,omitempty"`
	ClassLevel      string    `json:"class_level,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalMarks      float64   `json:"total_marks"`
	PassingMarks    float64   `json:"passing_marks"`
	CreatedAt       time.Time `json:"created_at"`
}

type Review struct {
	Attempt   Attempt      `json:"attempt"`
	Exam      ExamSummary  `json:"exam"`
	Responses []ReviewItem `json:"responses"`
}

// ComposeReview rebuilds a finished attempt for its owner. Answer-key data is
// only included for questions whose response has been graded.
func ComposeReview(ctx context.Context, store Store, studentID, attemptID string) (Review, error) {
	a, err := store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Review{}, err
	}
	if a.StudentID != studentID {
		return Review{}, forbidden("attempt %s belongs to another student", attemptID)
	}
	if !a.Status.Terminal() {
		return Review{}, forbidden("attempt %s is still in progress", attemptID)
	}
	e, err := store.GetExam(ctx, a.ExamID)
	if err != nil {
		return Review{}, err
	}
	responses, err := store.ListResponses(ctx, attemptID)
	if err != nil {
		return Review{}, err
	}
	byQ := make(map[string]Response, len(responses))
	for _, r := range responses {
		byQ[r.QuestionID] = r
	}

	items := make([]ReviewItem, 0, len(e.Questions))
	for _, q := range orderQuestions(e, a.ShuffleSeed) {
		items = append(items, reviewItem(q, byQ[q.ID]))
	}
	return Review{Attempt: a, Exam: summarize(e), Responses: items}, nil
}

func reviewItem(q Question, r Response) ReviewItem {
	it := ReviewItem{
		QuestionID:        q.ID,
		Type:              q.Type,
		Text:              q.Text,
		Marks:             q.Marks,
		NegativeMarking:   q.NegativeMarking,
		SelectedOptionIDs: r.SelectedOptionIDs,
		NumericalAnswer:   r.NumericalAnswer,
		TextAnswer:        r.TextAnswer,
		IsMarkedForReview: r.IsMarkedForReview,
		Graded:            r.MarksAwarded != nil,
		IsCorrect:         r.IsCorrect,
		MarksAwarded:      r.MarksAwarded,
		GraderFeedback:    r.GraderFeedback,
	}
	if it.SelectedOptionIDs == nil {
		it.SelectedOptionIDs = []string{}
	}
	selected := make(map[string]bool, len(r.SelectedOptionIDs))
	for _, id := range r.SelectedOptionIDs {
		selected[id] = true
	}
	for _, o := range q.Options {
		ro := ReviewOption{ID: o.ID, Text: o.Text, Selected: selected[o.ID]}
		if it.Graded {
			c := o.IsCorrect
			ro.IsCorrect = &c
		}
		it.Options = append(it.Options, ro)
	}
	if it.Graded {
		it.CorrectValue = q.CorrectValue
		it.Tolerance = q.Tolerance
		it.Explanation = q.Explanation
	}
	return it
}

func summarize(e Exam) ExamSummary {
	return ExamSummary{
		ID:              e.ID,
		Title:           e.Title,
		Subject:         e.Subject,
		ClassLevel:      e.ClassLevel,
		DurationMinutes: e.DurationMinutes,
		TotalMarks:      e.TotalMarks,
		PassingMarks:    e.PassingMarks,
		CreatedAt:       e.CreatedAt,
	}
}
