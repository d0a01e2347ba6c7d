package exam

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

// Autosaver buffers answer writes. Enqueue must not block on persistence.
type Autosaver interface {
	Enqueue(in ResponseInput) error
	Flush(ctx context.Context, attemptID string) error
	Warnings(attemptID string) []string
}

type Service struct {
	store    Store
	autosave Autosaver // nil writes synchronously
	now      func() time.Time
	flushFor time.Duration
	starts   singleflight.Group
}

type ServiceOption func(*Service)

func WithAutosaver(a Autosaver) ServiceOption      { return func(s *Service) { s.autosave = a } }
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// WithSubmitFlush bounds how long submit waits for buffered answers.
func WithSubmitFlush(d time.Duration) ServiceOption { return func(s *Service) { s.flushFor = d } }

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now, flushFor: 3 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SavedAnswer is the client-writable part of a Response, echoed on resume.
type SavedAnswer struct {
	QuestionID        string   `json:"question_id"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
	NumericalAnswer   *float64 `json:"numerical_answer,omitempty"`
	TextAnswer        string   `json:"text_answer,omitempty"`
	IsMarkedForReview bool     `json:"is_marked_for_review"`
}

type StartView struct {
	Attempt          Attempt           `json:"attempt"`
	Questions        []StudentQuestion `json:"questions"`
	Responses        []SavedAnswer     `json:"responses"`
	RemainingSeconds int64             `json:"remaining_seconds"`
	Deadline         time.Time         `json:"deadline"`
	Resumed          bool              `json:"resumed"`
}

type SaveAck struct {
	Queued   bool     `json:"queued"`
	Warnings []string `json:"warnings,omitempty"`
}

type startResult struct {
	a       Attempt
	created bool
}

// Start creates the student's attempt or resumes the one in progress.
func (s *Service) Start(ctx context.Context, studentID, examID string) (StartView, error) {
	now := s.now()
	var existing *Attempt
	a, err := s.store.FindActiveAttempt(ctx, studentID, examID)
	switch {
	case err == nil:
		existing = &a
	case !errors.Is(err, ErrNotFound):
		return StartView{}, err
	}

	e, _, err := LoadExamForAttempt(ctx, s.store, examID, existing, now)
	if err != nil {
		return StartView{}, err
	}
	created := false
	if existing == nil {
		// merged callers must not fail because the first one went away
		sctx := context.WithoutCancel(ctx)
		v, err, _ := s.starts.Do(studentID+"|"+examID, func() (any, error) {
			a, created, err := s.store.StartOrResume(sctx, studentID, examID, now)
			return startResult{a: a, created: created}, err
		})
		if err != nil {
			return StartView{}, err
		}
		r := v.(startResult)
		a, created = r.a, r.created
	}

	responses, err := s.store.ListResponses(ctx, a.ID)
	if err != nil {
		return StartView{}, err
	}
	return StartView{
		Attempt:          a,
		Questions:        studentView(orderQuestions(e, a.ShuffleSeed)),
		Responses:        savedAnswers(responses),
		RemainingSeconds: Remaining(e.DurationMinutes, a.StartedAt, now),
		Deadline:         Deadline(e.DurationMinutes, a.StartedAt),
		Resumed:          !created,
	}, nil
}

// Save checks the answer against the attempt and question, then hands it to
// the autosaver. Persistence failures after that point surface as warnings on
// a later ack, never as errors.
func (s *Service) Save(ctx context.Context, studentID string, in ResponseInput) (SaveAck, error) {
	now := s.now()
	a, err := s.ownedAttempt(ctx, studentID, in.AttemptID)
	if err != nil {
		return SaveAck{}, err
	}
	if a.Status != StatusInProgress {
		return SaveAck{}, conflict("attempt %s is %s", a.ID, a.Status)
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return SaveAck{}, err
	}
	if pastDeadline(e.DurationMinutes, a.StartedAt, now) {
		return SaveAck{}, conflict("attempt %s is past its deadline", a.ID)
	}
	q, ok := e.question(in.QuestionID)
	if !ok {
		return SaveAck{}, notFound("question %s in exam %s", in.QuestionID, e.ID)
	}
	if in, err = normalizeResponse(q, in); err != nil {
		return SaveAck{}, err
	}
	in.AcceptedAt = now

	if s.autosave == nil {
		return SaveAck{}, s.store.RecordResponse(ctx, in, now)
	}
	if err := s.autosave.Enqueue(in); err != nil {
		return SaveAck{}, err
	}
	return SaveAck{Queued: true, Warnings: s.autosave.Warnings(a.ID)}, nil
}

// Submit finalizes and grades the attempt. Repeated calls return the stored result.
func (s *Service) Submit(ctx context.Context, studentID, attemptID string, reason SubmitReason) (Attempt, error) {
	a, err := s.ownedAttempt(ctx, studentID, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status.Terminal() {
		return a, nil
	}
	if s.autosave != nil {
		fctx, cancel := context.WithTimeout(ctx, s.flushFor)
		if err := s.autosave.Flush(fctx, attemptID); err != nil {
			// scoring uses whatever reached the store
			log.Printf("submit %s: flush pending answers: %v", attemptID, err)
		}
		cancel()
	}
	return s.store.Submit(ctx, attemptID, reason, s.now())
}

// Result returns the caller's most recent finished attempt for an exam.
func (s *Service) Result(ctx context.Context, studentID, examID string) (Attempt, error) {
	return s.store.LatestFinishedAttempt(ctx, studentID, examID)
}

func (s *Service) Review(ctx context.Context, studentID, attemptID string) (Review, error) {
	return ComposeReview(ctx, s.store, studentID, attemptID)
}

// PutExam stores a definition; rejected once attempts exist.
func (s *Service) PutExam(ctx context.Context, e Exam) error {
	return s.store.PutExam(ctx, e)
}

func (s *Service) ownedAttempt(ctx context.Context, studentID, attemptID string) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.StudentID != studentID {
		return Attempt{}, forbidden("attempt %s belongs to another student", attemptID)
	}
	return a, nil
}

func savedAnswers(rs []Response) []SavedAnswer {
	out := make([]SavedAnswer, 0, len(rs))
	for _, r := range rs {
		out = append(out, SavedAnswer{
			QuestionID:        r.QuestionID,
			SelectedOptionIDs: r.SelectedOptionIDs,
			NumericalAnswer:   r.NumericalAnswer,
			TextAnswer:        r.TextAnswer,
			IsMarkedForReview: r.IsMarkedForReview,
		})
	}
	return out
}

// ParseSubmitReason defaults to manual.
func ParseSubmitReason(s string) (SubmitReason, error) {
	switch SubmitReason(s) {
	case "", ReasonManual:
		return ReasonManual, nil
	case ReasonTimeout:
		return ReasonTimeout, nil
	}
	return "", invalid("unknown submit reason %q", s)
}
