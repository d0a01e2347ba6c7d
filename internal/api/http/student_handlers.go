package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
)

// subject returns the authenticated caller or writes 401.
func subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	sub := authmw.SubjectFromContext(r.Context())
	if sub == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return "", false
	}
	return sub, true
}

// POST /exams/{examID}/start
func StartExamHandler(svc ExamService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}
		v, err := svc.Start(r.Context(), sub, strings.TrimSpace(chi.URLParam(r, "examID")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusCreated
		if v.Resumed {
			status = http.StatusOK
		}
		writeJSON(w, status, v)
	}
}

// looseFloat accepts a JSON number or a numeric string such as "7.5 cm".
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, ok := grading.ParseFloatLoose(s)
		if !ok {
			return fmt.Errorf("numerical_answer %q is not a number", s)
		}
		*f = looseFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = looseFloat(v)
	return nil
}

type saveRequest struct {
	QuestionID        string      `json:"question_id" validate:"required,max=64"`
	SelectedOptionIDs []string    `json:"selected_option_ids" validate:"max=32,dive,max=64"`
	NumericalAnswer   *looseFloat `json:"numerical_answer"`
	TextAnswer        string      `json:"text_answer" validate:"max=20000"`
	IsMarkedForReview bool        `json:"is_marked_for_review"`
}

// UnmarshalJSON accepts camelCase keys (questionId, selectedOptionIds, ...)
// as well as the snake_case ones. A snake_case key wins when both are sent.
func (s *saveRequest) UnmarshalJSON(b []byte) error {
	type snake saveRequest
	var (
		sn    snake
		camel struct {
			QuestionID        string      `json:"questionId"`
			SelectedOptionIDs []string    `json:"selectedOptionIds"`
			NumericalAnswer   *looseFloat `json:"numericalAnswer"`
			TextAnswer        string      `json:"textAnswer"`
			IsMarkedForReview *bool       `json:"isMarkedForReview"`
		}
		raw map[string]json.RawMessage
	)
	if err := json.Unmarshal(b, &sn); err != nil {
		return err
	}
	if err := json.Unmarshal(b, &camel); err != nil {
		return err
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if _, ok := raw["question_id"]; !ok {
		sn.QuestionID = camel.QuestionID
	}
	if _, ok := raw["selected_option_ids"]; !ok {
		sn.SelectedOptionIDs = camel.SelectedOptionIDs
	}
	if _, ok := raw["numerical_answer"]; !ok {
		sn.NumericalAnswer = camel.NumericalAnswer
	}
	if _, ok := raw["text_answer"]; !ok {
		sn.TextAnswer = camel.TextAnswer
	}
	if _, ok := raw["is_marked_for_review"]; !ok && camel.IsMarkedForReview != nil {
		sn.IsMarkedForReview = *camel.IsMarkedForReview
	}
	*s = saveRequest(sn)
	return nil
}

// POST /exams/attempts/{attemptID}/save
//
// 202 with the ack when the answer was queued for autosave, 204 when it was
// written before returning.
func SaveResponseHandler(svc ExamService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}
		var req saveRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, r, err)
			return
		}
		if err := checkStruct(req); err != nil {
			writeError(w, r, err)
			return
		}
		in := exam.ResponseInput{
			AttemptID:         chi.URLParam(r, "attemptID"),
			QuestionID:        req.QuestionID,
			SelectedOptionIDs: req.SelectedOptionIDs,
			TextAnswer:        req.TextAnswer,
			IsMarkedForReview: req.IsMarkedForReview,
		}
		if req.NumericalAnswer != nil {
			v := float64(*req.NumericalAnswer)
			in.NumericalAnswer = &v
		}
		ack, err := svc.Save(r.Context(), sub, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ack.Queued {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusAccepted, ack)
	}
}

// POST /exams/attempts/{attemptID}/submit  {"reason":"manual|timeout"}
func SubmitAttemptHandler(svc ExamService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if err := decodeJSON(r, &req, true); err != nil {
			writeError(w, r, err)
			return
		}
		reason, err := exam.ParseSubmitReason(req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		a, err := svc.Submit(r.Context(), sub, chi.URLParam(r, "attemptID"), reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// GET /exams/{examID}/result
func ResultHandler(svc ExamService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}
		a, err := svc.Result(r.Context(), sub, chi.URLParam(r, "examID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// GET /exams/attempts/{attemptID}/review
func ReviewHandler(svc ExamService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := subject(w, r)
		if !ok {
			return
		}
		rv, err := svc.Review(r.Context(), sub, chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rv)
	}
}
