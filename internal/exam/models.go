package exam

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further writes are accepted.
func (s Status) Terminal() bool { return s == StatusSubmitted || s == StatusExpired }

type SubmitReason string

const (
	ReasonManual  SubmitReason = "manual"
	ReasonTimeout SubmitReason = "timeout"
)

func (r SubmitReason) status() Status {
	if r == ReasonTimeout {
		return StatusExpired
	}
	return StatusSubmitted
}

type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	Numerical      QuestionType = "numerical"
	Subjective     QuestionType = "subjective"
)

func (t QuestionType) choice() bool {
	return t == SingleChoice || t == MultipleChoice || t == TrueFalse
}

type Option struct {
	ID        string `json:"id" validate:"required,max=64"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct,omitempty"`
}

type Question struct {
	ID              string       `json:"id" validate:"required,max=64"`
	Type            QuestionType `json:"question_type" validate:"oneof=single_choice multiple_choice true_false numerical subjective"`
	Text            string       `json:"text"`
	Marks           float64      `json:"marks" validate:"gt=0"`
	NegativeMarking float64      `json:"negative_marking,omitempty" validate:"gte=0"`
	Options         []Option     `json:"options,omitempty" validate:"dive"`
	CorrectValue    *float64     `json:"correct_value,omitempty"`
	Tolerance       float64      `json:"tolerance,omitempty" validate:"gte=0"`
	Explanation     string       `json:"explanation,omitempty"`
}

type Exam struct {
	ID                 string     `json:"id" validate:"required,max=64"`
	Title              string     `json:"title" validate:"required"`
	Subject            string     `json:"subject,omitempty"`
	ClassLevel         string     `json:"class_level,omitempty"`
	DurationMinutes    int        `json:"duration_minutes" validate:"gt=0"`
	TotalMarks         float64    `json:"total_marks" validate:"gt=0"`
	PassingMarks       float64    `json:"passing_marks" validate:"gte=0,ltefield=TotalMarks"`
	StartsAt           *time.Time `json:"starts_at,omitempty"`
	EndsAt             *time.Time `json:"ends_at,omitempty"`
	RandomizeQuestions bool       `json:"randomize_questions"`
	RandomizeOptions   bool       `json:"randomize_options"`
	MaxAttempts        int        `json:"max_attempts" validate:"gte=0"` // 0 = unlimited
	Questions          []Question `json:"questions" validate:"required,min=1,dive"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// UnmarshalJSON defaults max_attempts to 1 when a definition omits it.
// An explicit 0 still means unlimited.
func (e *Exam) UnmarshalJSON(b []byte) error {
	type plain Exam
	p := plain{MaxAttempts: 1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = Exam(p)
	return nil
}

// Open reports whether now falls inside the scheduling window.
func (e Exam) Open(now time.Time) bool {
	if e.StartsAt != nil && now.Before(*e.StartsAt) {
		return false
	}
	if e.EndsAt != nil && !now.Before(*e.EndsAt) {
		return false
	}
	return true
}

func (e Exam) question(id string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

type Attempt struct {
	ID               string       `json:"id"`
	ExamID           string       `json:"exam_id"`
	StudentID        string       `json:"student_id"`
	Status           Status       `json:"status"`
	ShuffleSeed      int64        `json:"-"`
	StartedAt        time.Time    `json:"started_at"`
	SubmittedAt      *time.Time   `json:"submitted_at,omitempty"`
	SubmitReason     SubmitReason `json:"submit_reason,omitempty"`
	MarksObtained    float64      `json:"marks_obtained"`
	Percentage       float64      `json:"percentage"`
	IsPassed         bool         `json:"is_passed"`
	CorrectAnswers   int          `json:"correct_answers"`
	WrongAnswers     int          `json:"wrong_answers"`
	SkippedQuestions int          `json:"skipped_questions"`
	PendingReview    int          `json:"pending_review"`
	TimeTakenSeconds int64        `json:"time_taken_seconds"`
}

type Response struct {
	AttemptID         string    `json:"attempt_id"`
	QuestionID        string    `json:"question_id"`
	SelectedOptionIDs []string  `json:"selected_option_ids"`
	NumericalAnswer   *float64  `json:"numerical_answer,omitempty"`
	TextAnswer        string    `json:"text_answer,omitempty"`
	IsMarkedForReview bool      `json:"is_marked_for_review"`
	IsCorrect         *bool     `json:"is_correct"`
	MarksAwarded      *float64  `json:"marks_awarded"`
	GraderFeedback    string    `json:"grader_feedback,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ResponseInput is the client-writable part of a Response.
type ResponseInput struct {
	AttemptID         string
	QuestionID        string
	SelectedOptionIDs []string
	NumericalAnswer   *float64
	TextAnswer        string
	IsMarkedForReview bool

	// AcceptedAt is when the service accepted the save. Buffered writes are
	// judged against the deadline at this instant, not at persistence time.
	AcceptedAt time.Time
}
