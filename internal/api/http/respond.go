package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ExamService is the attempt engine as the handlers use it; *exam.Service
// implements it.
type ExamService interface {
	Start(ctx context.Context, studentID, examID string) (exam.StartView, error)
	Save(ctx context.Context, studentID string, in exam.ResponseInput) (exam.SaveAck, error)
	Submit(ctx context.Context, studentID, attemptID string, reason exam.SubmitReason) (exam.Attempt, error)
	Result(ctx context.Context, studentID, examID string) (exam.Attempt, error)
	Review(ctx context.Context, studentID, attemptID string) (exam.Review, error)
	PutExam(ctx context.Context, e exam.Exam) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps engine errors to statuses. Anything unrecognized is logged
// and reported as a bare 500 so internals do not leak.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, exam.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exam.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, exam.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, exam.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		log.Printf("[%s] %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// decodeJSON reads one JSON object. An empty body is allowed when optional.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("bad json: %v: %w", err, exam.ErrValidation)
	}
	return nil
}

// checkStruct runs validator tags and reports the first failure.
func checkStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("field %s fails %q: %w", verrs[0].Field(), verrs[0].Tag(), exam.ErrValidation)
		}
		return fmt.Errorf("%v: %w", err, exam.ErrValidation)
	}
	return nil
}
