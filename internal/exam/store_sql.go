package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mind-engage/mindengage-exams/internal/grading"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	grader grading.Grader
	events *syncx.EventRepo
}

type StoreOption func(*SQLStore)

func WithGrader(g grading.Grader) StoreOption     { return func(s *SQLStore) { s.grader = g } }
func WithEvents(r *syncx.EventRepo) StoreOption { return func(s *SQLStore) { s.events = r } }

func NewSQLStore(db *sql.DB, driver string, opts ...StoreOption) *SQLStore {
	s := &SQLStore{db: db, driver: driver, grader: grading.NewDefaultGrader()}
	for _, o := range opts {
		o(s)
	}
	if s.events == nil {
		s.events = syncx.NewEventRepo(db, "")
	}
	return s
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// forUpdate locks the attempt row on Postgres. SQLite write transactions
// already hold the database lock (_txlock=immediate).
func (s *SQLStore) forUpdate() string {
	if s.driver == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

// ---- exams ----

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	if err := ValidateExam(e); err != nil {
		return err
	}
	qj, err := json.Marshal(e.Questions)
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE exam_id=$1`, e.ID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return conflict("exam %s already has attempts", e.ID)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO exams (id,title,subject,class_level,duration_minutes,total_marks,passing_marks,
			starts_at,ends_at,randomize_questions,randomize_options,max_attempts,questions_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, subject=EXCLUDED.subject, class_level=EXCLUDED.class_level,
			duration_minutes=EXCLUDED.duration_minutes, total_marks=EXCLUDED.total_marks, passing_marks=EXCLUDED.passing_marks,
			starts_at=EXCLUDED.starts_at, ends_at=EXCLUDED.ends_at, randomize_questions=EXCLUDED.randomize_questions,
			randomize_options=EXCLUDED.randomize_options, max_attempts=EXCLUDED.max_attempts, questions_json=EXCLUDED.questions_json`,
			e.ID, e.Title, e.Subject, e.ClassLevel, e.DurationMinutes, e.TotalMarks, e.PassingMarks,
			toNullMillis(e.StartsAt), toNullMillis(e.EndsAt), e.RandomizeQuestions, e.RandomizeOptions, e.MaxAttempts,
			string(qj), toMillis(e.CreatedAt))
		return err
	})
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	return getExam(ctx, s.db, id)
}

func getExam(ctx context.Context, q querier, id string) (Exam, error) {
	row := q.QueryRowContext(ctx, `SELECT id,title,subject,class_level,duration_minutes,total_marks,passing_marks,
		starts_at,ends_at,randomize_questions,randomize_options,max_attempts,questions_json,created_at
		FROM exams WHERE id=$1`, id)
	var (
		e              Exam
		starts, ends   sql.NullInt64
		qjson          string
		createdAtMilli int64
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Subject, &e.ClassLevel, &e.DurationMinutes, &e.TotalMarks, &e.PassingMarks,
		&starts, &ends, &e.RandomizeQuestions, &e.RandomizeOptions, &e.MaxAttempts, &qjson, &createdAtMilli); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, notFound("exam %s", id)
		}
		return Exam{}, err
	}
	if err := json.Unmarshal([]byte(qjson), &e.Questions); err != nil {
		return Exam{}, fmt.Errorf("decode questions for exam %s: %w", id, err)
	}
	e.StartsAt = fromNullMillis(starts)
	e.EndsAt = fromNullMillis(ends)
	e.CreatedAt = fromMillis(createdAtMilli)
	return e, nil
}

// ---- attempts ----

const attemptCols = `id,exam_id,student_id,status,shuffle_seed,started_at,submitted_at,submit_reason,
	marks_obtained,percentage,is_passed,correct_answers,wrong_answers,skipped_questions,pending_review,time_taken_seconds`

func scanAttempt(row interface{ Scan(...any) error }) (Attempt, error) {
	var (
		a         Attempt
		started   int64
		submitted sql.NullInt64
		status    string
		reason    string
	)
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &status, &a.ShuffleSeed, &started, &submitted, &reason,
		&a.MarksObtained, &a.Percentage, &a.IsPassed, &a.CorrectAnswers, &a.WrongAnswers, &a.SkippedQuestions,
		&a.PendingReview, &a.TimeTakenSeconds)
	if err != nil {
		return Attempt{}, err
	}
	a.Status = Status(status)
	a.SubmitReason = SubmitReason(reason)
	a.StartedAt = fromMillis(started)
	a.SubmittedAt = fromNullMillis(submitted)
	return a, nil
}

func (s *SQLStore) StartOrResume(ctx context.Context, studentID, examID string, now time.Time) (Attempt, bool, error) {
	for try := 0; try < 2; try++ {
		a, created, err := s.startOrResume(ctx, studentID, examID, now)
		if err == nil || !isUniqueViolation(err) {
			return a, created, err
		}
		// a concurrent start won the insert; the next pass resumes it
	}
	a, err := s.FindActiveAttempt(ctx, studentID, examID)
	return a, false, err
}

func (s *SQLStore) startOrResume(ctx context.Context, studentID, examID string, now time.Time) (Attempt, bool, error) {
	var (
		a       Attempt
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		a, err = scanAttempt(tx.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts
			WHERE student_id=$1 AND exam_id=$2 AND status='in_progress'`, studentID, examID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var maxAttempts int
		if err := tx.QueryRowContext(ctx, `SELECT max_attempts FROM exams WHERE id=$1`, examID).Scan(&maxAttempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound("exam %s", examID)
			}
			return err
		}
		if maxAttempts > 0 {
			var done int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE student_id=$1 AND exam_id=$2`,
				studentID, examID).Scan(&done); err != nil {
				return err
			}
			if done >= maxAttempts {
				return conflict("exam %s: attempt limit of %d reached", examID, maxAttempts)
			}
		}

		id := uuid.NewString()
		a = Attempt{
			ID:          id,
			ExamID:      examID,
			StudentID:   studentID,
			Status:      StatusInProgress,
			ShuffleSeed: seedFor(id),
			StartedAt:   fromMillis(toMillis(now)),
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO attempts (id,exam_id,student_id,status,shuffle_seed,started_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			a.ID, a.ExamID, a.StudentID, string(a.Status), a.ShuffleSeed, toMillis(a.StartedAt)); err != nil {
			return err
		}
		created = true
		return s.events.AppendJSON(ctx, tx, syncx.TypeAttemptStarted, a.ID, map[string]any{
			"exam_id": a.ExamID, "student_id": a.StudentID, "started_at": toMillis(a.StartedAt),
		})
	})
	if err != nil {
		return Attempt{}, false, err
	}
	return a, created, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, notFound("attempt %s", id)
	}
	return a, err
}

func (s *SQLStore) FindActiveAttempt(ctx context.Context, studentID, examID string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE student_id=$1 AND exam_id=$2 AND status='in_progress'`, studentID, examID))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, notFound("no attempt in progress for exam %s", examID)
	}
	return a, err
}

func (s *SQLStore) LatestFinishedAttempt(ctx context.Context, studentID, examID string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE student_id=$1 AND exam_id=$2 AND status<>'in_progress'
		ORDER BY submitted_at DESC LIMIT 1`, studentID, examID))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, notFound("no finished attempt for exam %s", examID)
	}
	return a, err
}

func (s *SQLStore) lockAttempt(ctx context.Context, tx *sql.Tx, id string) (Attempt, error) {
	a, err := scanAttempt(tx.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`+s.forUpdate(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, notFound("attempt %s", id)
	}
	return a, err
}

// ---- responses ----

func (s *SQLStore) RecordResponse(ctx context.Context, in ResponseInput, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := s.lockAttempt(ctx, tx, in.AttemptID)
		if err != nil {
			return err
		}
		if a.Status != StatusInProgress {
			return conflict("attempt %s is %s", a.ID, a.Status)
		}
		e, err := getExam(ctx, tx, a.ExamID)
		if err != nil {
			return err
		}
		if pastDeadline(e.DurationMinutes, a.StartedAt, now) {
			return conflict("attempt %s is past its deadline", a.ID)
		}
		q, ok := e.question(in.QuestionID)
		if !ok {
			return notFound("question %s in exam %s", in.QuestionID, e.ID)
		}
		in, err = normalizeResponse(q, in)
		if err != nil {
			return err
		}
		sel, err := json.Marshal(in.SelectedOptionIDs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO responses
			(attempt_id,question_id,selected_option_ids,numerical_answer,text_answer,is_marked_for_review,updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (attempt_id, question_id) DO UPDATE SET selected_option_ids=EXCLUDED.selected_option_ids,
				numerical_answer=EXCLUDED.numerical_answer, text_answer=EXCLUDED.text_answer,
				is_marked_for_review=EXCLUDED.is_marked_for_review, updated_at=EXCLUDED.updated_at`,
			in.AttemptID, in.QuestionID, string(sel), nullFloat(in.NumericalAnswer), in.TextAnswer,
			in.IsMarkedForReview, toMillis(now))
		return err
	})
}

func (s *SQLStore) ListResponses(ctx context.Context, attemptID string) ([]Response, error) {
	return listResponses(ctx, s.db, attemptID)
}

func listResponses(ctx context.Context, q querier, attemptID string) ([]Response, error) {
	rows, err := q.QueryContext(ctx, `SELECT attempt_id,question_id,selected_option_ids,numerical_answer,text_answer,
		is_marked_for_review,is_correct,marks_awarded,grader_feedback,updated_at
		FROM responses WHERE attempt_id=$1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Response
	for rows.Next() {
		var (
			r       Response
			sel     string
			num     sql.NullFloat64
			correct sql.NullBool
			marks   sql.NullFloat64
			updated int64
		)
		if err := rows.Scan(&r.AttemptID, &r.QuestionID, &sel, &num, &r.TextAnswer, &r.IsMarkedForReview,
			&correct, &marks, &r.GraderFeedback, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sel), &r.SelectedOptionIDs); err != nil {
			return nil, fmt.Errorf("decode selected options for %s/%s: %w", r.AttemptID, r.QuestionID, err)
		}
		if num.Valid {
			r.NumericalAnswer = &num.Float64
		}
		if correct.Valid {
			r.IsCorrect = &correct.Bool
		}
		if marks.Valid {
			r.MarksAwarded = &marks.Float64
		}
		r.UpdatedAt = fromMillis(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- submit ----

func (s *SQLStore) Submit(ctx context.Context, attemptID string, reason SubmitReason, now time.Time) (Attempt, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := s.lockAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return nil
		}

		submittedAt := fromMillis(toMillis(now))
		taken := int64(submittedAt.Sub(a.StartedAt) / time.Second)
		if taken < 0 {
			taken = 0
		}
		status := reason.status()
		res, err := tx.ExecContext(ctx, `UPDATE attempts SET status=$1, submitted_at=$2, submit_reason=$3, time_taken_seconds=$4
			WHERE id=$5 AND status='in_progress'`,
			string(status), toMillis(submittedAt), string(reason), taken, attemptID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return nil // lost the claim
		}

		e, err := getExam(ctx, tx, a.ExamID)
		if err != nil {
			return err
		}
		responses, err := listResponses(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		scored, sum, err := scoreAttempt(ctx, s.grader, e, responses)
		if err != nil {
			return err
		}
		for _, sq := range scored {
			if _, err := tx.ExecContext(ctx, `INSERT INTO responses
				(attempt_id,question_id,is_correct,marks_awarded,updated_at)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (attempt_id, question_id) DO UPDATE SET is_correct=EXCLUDED.is_correct,
					marks_awarded=EXCLUDED.marks_awarded`,
				attemptID, sq.QuestionID, nullBool(sq.Result.IsCorrect), nullFloat(sq.Result.Marks), toMillis(submittedAt)); err != nil {
				return err
			}
		}

		pct := grading.Percentage(sum.MarksObtained, e.TotalMarks)
		if _, err := tx.ExecContext(ctx, `UPDATE attempts SET marks_obtained=$1, percentage=$2, is_passed=$3,
			correct_answers=$4, wrong_answers=$5, skipped_questions=$6, pending_review=$7 WHERE id=$8`,
			sum.MarksObtained, pct, sum.MarksObtained >= e.PassingMarks,
			sum.Correct, sum.Wrong, sum.Skipped, sum.Pending, attemptID); err != nil {
			return err
		}

		typ := syncx.TypeAttemptSubmitted
		if status == StatusExpired {
			typ = syncx.TypeAttemptExpired
		}
		return s.events.AppendJSON(ctx, tx, typ, attemptID, map[string]any{
			"exam_id": a.ExamID, "student_id": a.StudentID, "marks_obtained": sum.MarksObtained, "reason": string(reason),
		})
	})
	if err != nil {
		return Attempt{}, err
	}
	return s.GetAttempt(ctx, attemptID)
}

// ---- helpers ----

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
