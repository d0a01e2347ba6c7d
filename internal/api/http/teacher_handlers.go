package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

// PUT /exams/{examID}
//
// The path id wins when the body omits one; a mismatch is rejected.
func PutExamHandler(svc ExamService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "examID"))
		var e exam.Exam
		if err := decodeJSON(r, &e, false); err != nil {
			writeError(w, r, err)
			return
		}
		switch e.ID {
		case "":
			e.ID = id
		case id:
		default:
			writeError(w, r, fmt.Errorf("body id %q does not match path id %q: %w", e.ID, id, exam.ErrValidation))
			return
		}
		if err := svc.PutExam(r.Context(), e); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": e.ID})
	}
}
