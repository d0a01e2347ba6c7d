package grading

import (
	"context"
	"math"
	"strconv"
	"strings"
)

// float slack so that a tolerance of 0.1 accepts 7.6 against 7.5
const epsilon = 1e-9

// numericStrategy accepts answers within Q.Tolerance of Q.CorrectValue.
// A zero tolerance means exact match.
type numericStrategy struct{}

func (numericStrategy) Grade(_ context.Context, q Q, a Answer) (Result, error) {
	if a.NumericalAnswer == nil {
		return skipped(q), nil
	}
	if q.CorrectValue == nil {
		res := judged(q, false)
		res.Feedback = append(res.Feedback, "no expected value configured")
		return res, nil
	}
	return judged(q, WithinTolerance(*a.NumericalAnswer, *q.CorrectValue, q.Tolerance)), nil
}

// WithinTolerance reports whether got is within tol of want.
func WithinTolerance(got, want, tol float64) bool {
	if math.IsNaN(got) || math.IsInf(got, 0) {
		return false
	}
	if tol < 0 {
		tol = 0
	}
	return math.Abs(got-want) <= tol+epsilon
}

// ParseFloatLoose accepts "7.5", " 7.5 ", and "7.5 cm".
func ParseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if sp := strings.Fields(s); len(sp) > 0 {
		if v, err := strconv.ParseFloat(sp[0], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
