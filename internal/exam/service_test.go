package exam

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// queueAutosaver holds answers until Flush, like a pipeline with a long window.
type queueAutosaver struct {
	mu       sync.Mutex
	store    Store
	now      func() time.Time
	queued   []ResponseInput
	warnings []string
	flushed  []string
}

func (q *queueAutosaver) Enqueue(in ResponseInput) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = append(q.queued, in)
	return nil
}

func (q *queueAutosaver) Flush(ctx context.Context, attemptID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushed = append(q.flushed, attemptID)
	rest := q.queued[:0]
	for _, in := range q.queued {
		if in.AttemptID != attemptID {
			rest = append(rest, in)
			continue
		}
		at := in.AcceptedAt
		if at.IsZero() {
			at = q.now()
		}
		if err := q.store.RecordResponse(ctx, in, at); err != nil {
			return err
		}
	}
	q.queued = rest
	return nil
}

func (q *queueAutosaver) Warnings(string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	w := q.warnings
	q.warnings = nil
	return w
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *SQLStore, *testClock) {
	t.Helper()
	store := openTestStore(t)
	clock := &testClock{now: t0}
	opts = append([]ServiceOption{WithClock(clock.Now)}, opts...)
	return NewService(store, opts...), store, clock
}

func TestService_StartAndResume(t *testing.T) {
	svc, store, clock := newTestService(t)
	mustPut(t, store, sampleExam("ex-1"))
	ctx := context.Background()

	first, err := svc.Start(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.Resumed || first.RemainingSeconds != 3600 || !first.Deadline.Equal(t0.Add(time.Hour)) {
		t.Fatalf("first view = resumed:%v remaining:%d deadline:%v", first.Resumed, first.RemainingSeconds, first.Deadline)
	}
	if len(first.Questions) != 2 || len(first.Responses) != 0 {
		t.Fatalf("first view has %d questions, %d responses", len(first.Questions), len(first.Responses))
	}

	if _, err := svc.Save(ctx, "stu-1", ResponseInput{AttemptID: first.Attempt.ID, QuestionID: "num", NumericalAnswer: fptr(7.4)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	clock.Advance(90*time.Second + 500*time.Millisecond)

	again, err := svc.Start(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !again.Resumed || again.Attempt.ID != first.Attempt.ID || !again.Attempt.StartedAt.Equal(first.Attempt.StartedAt) {
		t.Fatalf("resume = %+v, want the first attempt", again.Attempt)
	}
	if again.RemainingSeconds != 3509 {
		t.Fatalf("remaining = %d, want 3509", again.RemainingSeconds)
	}
	if len(again.Responses) != 1 || *again.Responses[0].NumericalAnswer != 7.4 {
		t.Fatalf("resumed responses = %+v", again.Responses)
	}
}

// gatedStore holds StartOrResume until released.
type gatedStore struct {
	*SQLStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) StartOrResume(ctx context.Context, studentID, examID string, now time.Time) (Attempt, bool, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.SQLStore.StartOrResume(ctx, studentID, examID, now)
}

func TestService_MergedStartSurvivesFirstCallerCancel(t *testing.T) {
	base := openTestStore(t)
	mustPut(t, base, sampleExam("ex-1"))
	store := &gatedStore{SQLStore: base, entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(store, WithClock(func() time.Time { return t0 }))

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = svc.Start(firstCtx, "stu-1", "ex-1") }()
	<-store.entered

	type out struct {
		v   StartView
		err error
	}
	second := make(chan out, 1)
	go func() {
		v, err := svc.Start(context.Background(), "stu-1", "ex-1")
		second <- out{v, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(store.release)

	got := <-second
	if got.err != nil {
		t.Fatalf("second start: %v", got.err)
	}
	if got.v.Attempt.ID == "" || got.v.Attempt.Status != StatusInProgress {
		t.Fatalf("second start = %+v", got.v.Attempt)
	}
}

func TestService_StartViewHidesAnswerKey(t *testing.T) {
	svc, store, _ := newTestService(t)
	mustPut(t, store, sampleExam("ex-1"))

	v, err := svc.Start(context.Background(), "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, leak := range []string{"is_correct", "correct_value", "tolerance", "explanation", "shuffle_seed"} {
		if strings.Contains(string(b), leak) {
			t.Fatalf("start view leaks %q: %s", leak, b)
		}
	}
}

func TestService_StartRespectsWindowOnlyForNewAttempts(t *testing.T) {
	svc, store, clock := newTestService(t)
	e := sampleExam("ex-1")
	opens, closes := t0.Add(time.Hour), t0.Add(3*time.Hour)
	e.StartsAt, e.EndsAt = &opens, &closes
	mustPut(t, store, e)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "stu-1", "ex-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("start before window err = %v, want ErrNotFound", err)
	}
	clock.Advance(2*time.Hour + 30*time.Minute)
	v, err := svc.Start(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("start in window: %v", err)
	}
	clock.Advance(45 * time.Minute) // window closed, attempt still running
	again, err := svc.Start(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("resume after window: %v", err)
	}
	if again.Attempt.ID != v.Attempt.ID || again.RemainingSeconds != 15*60 {
		t.Fatalf("resume = %s remaining %d", again.Attempt.ID, again.RemainingSeconds)
	}
	if _, err := svc.Start(ctx, "stu-2", "ex-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("new student after window err = %v, want ErrNotFound", err)
	}
}

func TestService_StartUnknownExam(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Start(context.Background(), "stu-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestService_ShuffledOrderIsStablePerAttempt(t *testing.T) {
	svc, store, _ := newTestService(t)
	e := Exam{ID: "ex-r", Title: "Shuffled", DurationMinutes: 10, TotalMarks: 8, RandomizeQuestions: true, RandomizeOptions: true}
	for _, id := range []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7", "q8"} {
		e.Questions = append(e.Questions, Question{ID: id, Type: SingleChoice, Marks: 1, Options: []Option{
			{ID: "a", IsCorrect: true}, {ID: "b"}, {ID: "c"}, {ID: "d"},
		}})
	}
	mustPut(t, store, e)
	ctx := context.Background()

	first, err := svc.Start(ctx, "stu-1", "ex-r")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	again, err := svc.Start(ctx, "stu-1", "ex-r")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if order(first.Questions) != order(again.Questions) {
		t.Fatalf("order changed on resume: %s vs %s", order(first.Questions), order(again.Questions))
	}
	for i := range first.Questions {
		if optOrder(first.Questions[i]) != optOrder(again.Questions[i]) {
			t.Fatalf("option order of %s changed on resume", first.Questions[i].ID)
		}
	}

	if _, err := svc.Submit(ctx, "stu-1", first.Attempt.ID, ReasonManual); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rv, err := svc.Review(ctx, "stu-1", first.Attempt.ID)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	for i, it := range rv.Responses {
		if it.QuestionID != first.Questions[i].ID {
			t.Fatalf("review order differs at %d: %s vs %s", i, it.QuestionID, first.Questions[i].ID)
		}
	}
}

func order(qs []StudentQuestion) string {
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return strings.Join(ids, ",")
}

func optOrder(q StudentQuestion) string {
	ids := make([]string, len(q.Options))
	for i, o := range q.Options {
		ids[i] = o.ID
	}
	return strings.Join(ids, ",")
}

func TestService_SaveChecks(t *testing.T) {
	svc, store, _ := newTestService(t)
	mustPut(t, store, sampleExam("ex-1"))
	ctx := context.Background()
	v, err := svc.Start(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := v.Attempt.ID

	cases := []struct {
		name    string
		student string
		in      ResponseInput
		want    error
	}{
		{"someone else's attempt", "stu-2", ResponseInput{AttemptID: id, QuestionID: "mc"}, ErrForbidden},
		{"unknown attempt", "stu-1", ResponseInput{AttemptID: "nope", QuestionID: "mc"}, ErrNotFound},
		{"unknown question", "stu-1", ResponseInput{AttemptID: id, QuestionID: "zz"}, ErrNotFound},
		{"unknown option", "stu-1", ResponseInput{AttemptID: id, QuestionID: "mc", SelectedOptionIDs: []string{"E"}}, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Save(ctx, tc.student, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestService_DeadlineBlocksSaveButNotSubmit(t *testing.T) {
	svc, store, clock := newTestService(t)
	mustPut(t, store, sampleExam("ex-1"))
	ctx := context.Background()
	v, err := svc.Start(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Save(ctx, "stu-1", ResponseInput{AttemptID: v.Attempt.ID, QuestionID: "mc", SelectedOptionIDs: []string{"A", "C"}}); err != nil {
		t.Fatalf("save in time: %v", err)
	}

	clock.Advance(61 * time.Minute)
	_, err = svc.Save(ctx, "stu-1", ResponseInput{AttemptID: v.Attempt.ID, QuestionID: "num", NumericalAnswer: fptr(7.5)})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("late save err = %v, want ErrConflict", err)
	}
	got, err := svc.Submit(ctx, "stu-1", v.Attempt.ID, ReasonTimeout)
	if err != nil {
		t.Fatalf("late submit: %v", err)
	}
	if got.Status != StatusExpired || got.MarksObtained != 4 {
		t.Fatalf("late submit = %s with %v marks", got.Status, got.MarksObtained)
	}
	if _, err := svc.Save(ctx, "stu-1", ResponseInput{AttemptID: v.Attempt.ID, QuestionID: "mc"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("save after submit err = %v, want ErrConflict", err)
	}
}

func TestService_SubmitFlushesQueuedAnswers(t *testing.T) {
	store := openTestStore(t)
	clock := &testClock{now: t0}
	q := &queueAutosaver{store: store, now: clock.Now, warnings: []string{"answer for question mc was not saved: disk full"}}
	svc := NewService(store, WithClock(clock.Now), WithAutosaver(q))
	mustPut(t, store, sampleExam("ex-1"))
	ctx := context.Background()

	v, err := svc.Start(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ack, err := svc.Save(ctx, "stu-1", ResponseInput{AttemptID: v.Attempt.ID, QuestionID: "num", NumericalAnswer: fptr(7.45)})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !ack.Queued || len(ack.Warnings) != 1 {
		t.Fatalf("ack = %+v, want queued with the pending warning", ack)
	}
	if rs, _ := store.ListResponses(ctx, v.Attempt.ID); len(rs) != 0 {
		t.Fatalf("queued answer already persisted: %+v", rs)
	}

	clock.Advance(5 * time.Minute)
	got, err := svc.Submit(ctx, "stu-1", v.Attempt.ID, ReasonManual)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.MarksObtained != 6 {
		t.Fatalf("marks = %v, want the flushed numerical answer graded", got.MarksObtained)
	}
	if len(q.flushed) != 1 || q.flushed[0] != v.Attempt.ID {
		t.Fatalf("flushed = %v", q.flushed)
	}

	// a repeat submit returns the stored result without flushing again
	if _, err := svc.Submit(ctx, "stu-1", v.Attempt.ID, ReasonTimeout); err != nil {
		t.Fatalf("repeat submit: %v", err)
	}
	if len(q.flushed) != 1 {
		t.Fatalf("repeat submit flushed again")
	}
}

func TestService_SaveQueuedJustBeforeDeadlineIsGraded(t *testing.T) {
	store := openTestStore(t)
	clock := &testClock{now: t0}
	q := &queueAutosaver{store: store, now: clock.Now}
	svc := NewService(store, WithClock(clock.Now), WithAutosaver(q))
	mustPut(t, store, sampleExam("ex-1"))
	ctx := context.Background()

	v, err := svc.Start(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(60*time.Minute - 100*time.Millisecond)
	if _, err := svc.Save(ctx, "stu-1", ResponseInput{AttemptID: v.Attempt.ID, QuestionID: "num", NumericalAnswer: fptr(7.5)}); err != nil {
		t.Fatalf("save before deadline: %v", err)
	}

	clock.Advance(300 * time.Millisecond)
	got, err := svc.Submit(ctx, "stu-1", v.Attempt.ID, ReasonTimeout)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Status != StatusExpired || got.MarksObtained != 6 {
		t.Fatalf("submit = %s with %v marks, want expired with 6", got.Status, got.MarksObtained)
	}
}

func TestService_SubmitForbiddenForOtherStudent(t *testing.T) {
	svc, store, _ := newTestService(t)
	mustPut(t, store, sampleExam("ex-1"))
	v, err := svc.Start(context.Background(), "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Submit(context.Background(), "stu-2", v.Attempt.ID, ReasonManual); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestService_Result(t *testing.T) {
	svc, store, clock := newTestService(t)
	mustPut(t, store, sampleExam("ex-1"))
	ctx := context.Background()

	if _, err := svc.Result(ctx, "stu-1", "ex-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("result before start err = %v, want ErrNotFound", err)
	}
	v, err := svc.Start(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Result(ctx, "stu-1", "ex-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("result while in progress err = %v, want ErrNotFound", err)
	}
	clock.Advance(time.Minute)
	if _, err := svc.Submit(ctx, "stu-1", v.Attempt.ID, ReasonManual); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := svc.Result(ctx, "stu-1", "ex-1")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if got.ID != v.Attempt.ID || got.Status != StatusSubmitted || got.TimeTakenSeconds != 60 {
		t.Fatalf("result = %+v", got)
	}
}

func TestParseSubmitReason(t *testing.T) {
	for in, want := range map[string]SubmitReason{"": ReasonManual, "manual": ReasonManual, "timeout": ReasonTimeout} {
		got, err := ParseSubmitReason(in)
		if err != nil || got != want {
			t.Fatalf("ParseSubmitReason(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseSubmitReason("bored"); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
