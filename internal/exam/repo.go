package exam

import (
	"context"
	"time"
)

// Store is the only component allowed to mutate attempt state.
// StartOrResume, RecordResponse and Submit each run as one transaction.
type Store interface {
	PutExam(ctx context.Context, e Exam) error
	GetExam(ctx context.Context, id string) (Exam, error) // full exam, answer key included

	// StartOrResume returns the in-progress attempt for the pair, creating one
	// when none exists and the exam's max_attempts allows it. created reports
	// which happened.
	StartOrResume(ctx context.Context, studentID, examID string, now time.Time) (a Attempt, created bool, err error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	FindActiveAttempt(ctx context.Context, studentID, examID string) (Attempt, error)
	LatestFinishedAttempt(ctx context.Context, studentID, examID string) (Attempt, error)

	RecordResponse(ctx context.Context, in ResponseInput, now time.Time) error
	ListResponses(ctx context.Context, attemptID string) ([]Response, error)

	// Submit is idempotent: only the first caller grades, later callers read
	// the stored result back.
	Submit(ctx context.Context, attemptID string, reason SubmitReason, now time.Time) (Attempt, error)
}
