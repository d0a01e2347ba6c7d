package exam

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/db"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exams.sqlite")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, db.SQLiteDSN(path))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh
}

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	return NewSQLStore(openTestDB(t), "sqlite")
}

func fptr(v float64) *float64 { return &v }

// sampleExam mirrors the worked example: a 4-mark multiple choice and a
// 6-mark numerical question out of 100.
func sampleExam(id string) Exam {
	return Exam{
		ID:              id,
		Title:           "Physics unit test",
		Subject:         "physics",
		ClassLevel:      "11",
		DurationMinutes: 60,
		TotalMarks:      100,
		PassingMarks:    40,
		MaxAttempts:     1,
		Questions: []Question{
			{
				ID: "mc", Type: MultipleChoice, Text: "Pick the vectors", Marks: 4,
				Options: []Option{
					{ID: "A", Text: "velocity", IsCorrect: true},
					{ID: "B", Text: "speed"},
					{ID: "C", Text: "force", IsCorrect: true},
					{ID: "D", Text: "mass"},
				},
			},
			{ID: "num", Type: Numerical, Text: "g/1.308?", Marks: 6, CorrectValue: fptr(7.5), Tolerance: 0.1, Explanation: "9.81/1.308"},
		},
	}
}

// mixedExam covers every question type plus negative marking.
func mixedExam(id string) Exam {
	return Exam{
		ID:              id,
		Title:           "Mixed",
		DurationMinutes: 30,
		TotalMarks:      20,
		PassingMarks:    8,
		Questions: []Question{
			{ID: "sc", Type: SingleChoice, Marks: 4, NegativeMarking: 1, Options: []Option{
				{ID: "A"}, {ID: "B"}, {ID: "C", IsCorrect: true},
			}},
			{ID: "tf", Type: TrueFalse, Marks: 2, Options: []Option{
				{ID: "true", IsCorrect: true}, {ID: "false"},
			}},
			{ID: "mc", Type: MultipleChoice, Marks: 4, Options: []Option{
				{ID: "A", IsCorrect: true}, {ID: "B", IsCorrect: true}, {ID: "C"},
			}},
			{ID: "num", Type: Numerical, Marks: 5, CorrectValue: fptr(42)},
			{ID: "essay", Type: Subjective, Marks: 5},
		},
	}
}

func mustPut(t *testing.T, s Store, e Exam) {
	t.Helper()
	if err := s.PutExam(context.Background(), e); err != nil {
		t.Fatalf("put exam %s: %v", e.ID, err)
	}
}

func mustStart(t *testing.T, s Store, student, examID string, now time.Time) Attempt {
	t.Helper()
	a, _, err := s.StartOrResume(context.Background(), student, examID, now)
	if err != nil {
		t.Fatalf("start %s/%s: %v", student, examID, err)
	}
	return a
}

func mustRecord(t *testing.T, s Store, in ResponseInput, now time.Time) {
	t.Helper()
	if err := s.RecordResponse(context.Background(), in, now); err != nil {
		t.Fatalf("record %s/%s: %v", in.AttemptID, in.QuestionID, err)
	}
}
