package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// MountExamRoutes registers the attempt engine on an authenticated router.
func MountExamRoutes(r chi.Router, svc ExamService) {
	r.With(rbac.Require("exam:create")).Put("/exams/{examID}", PutExamHandler(svc))

	r.With(rbac.Require("attempt:start")).Post("/exams/{examID}/start", StartExamHandler(svc))
	r.With(rbac.Require("attempt:view-own")).Get("/exams/{examID}/result", ResultHandler(svc))

	r.Route("/exams/attempts/{attemptID}", func(ar chi.Router) {
		ar.With(rbac.Require("attempt:save")).Post("/save", SaveResponseHandler(svc))
		ar.With(rbac.Require("attempt:submit")).Post("/submit", SubmitAttemptHandler(svc))
		ar.With(rbac.Require("attempt:review-own")).Get("/review", ReviewHandler(svc))
	})
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// ReadyHandler reports 503 until the database answers.
func ReadyHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "database unavailable"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
