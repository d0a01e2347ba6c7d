package grading

import (
	"context"
	"errors"
	"strings"
)

// Question types understood by the default grader.
const (
	TypeSingleChoice   = "single_choice"
	TypeMultipleChoice = "multiple_choice"
	TypeTrueFalse      = "true_false"
	TypeNumerical      = "numerical"
	TypeSubjective     = "subjective"
)

// Q is a minimal view of a question needed for grading.
// Keep this in sync with whatever fields your store uses.
type Q struct {
	ID               string
	Type             string
	Marks            float64
	NegativeMarking  float64  // subtracted when attempted but wrong
	CorrectOptionIDs []string // choice types
	CorrectValue     *float64 // numerical
	Tolerance        float64  // numerical, absolute; 0 means exact match
}

// Answer is what the student persisted for one question.
type Answer struct {
	SelectedOptionIDs []string
	NumericalAnswer   *float64
	TextAnswer        string
}

// Result is the outcome of grading a single question response.
type Result struct {
	Attempted   bool
	IsCorrect   *bool    // nil when unattempted or pending manual grading
	Marks       *float64 // nil only while pending manual grading
	MaxMarks    float64
	NeedsManual bool
	Feedback    []string
}

// Strategy grades a single question.
type Strategy interface {
	Grade(ctx context.Context, q Q, a Answer) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q Q, a Answer) (Result, error)
}

var ErrUnknownType = errors.New("grading: unknown question type")

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, a Answer) (Result, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{MaxMarks: q.Marks}, ErrUnknownType
	}
	return s.Grade(ctx, q, a)
}

// Engine options

type Option func(*config)

type config struct {
	AllowPartialMulti bool // partial credit for multiple_choice without false positives
}

func WithPartialMulti(b bool) Option { return func(c *config) { c.AllowPartialMulti = b } }

// NewDefaultGrader installs built-in strategies.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	return &defaultGrader{
		strategies: map[string]Strategy{
			TypeSingleChoice:   singleChoiceStrategy{},
			TypeTrueFalse:      singleChoiceStrategy{},
			TypeMultipleChoice: multipleChoiceStrategy{allowPartial: cfg.AllowPartialMulti},
			TypeNumerical:      numericStrategy{},
			TypeSubjective:     subjectiveStrategy{},
		},
	}
}

// --- Strategies ---

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Grade(_ context.Context, q Q, a Answer) (Result, error) {
	if len(a.SelectedOptionIDs) == 0 {
		return skipped(q), nil
	}
	ok := len(a.SelectedOptionIDs) == 1 && contains(q.CorrectOptionIDs, a.SelectedOptionIDs[0])
	return judged(q, ok), nil
}

type multipleChoiceStrategy struct{ allowPartial bool }

func (s multipleChoiceStrategy) Grade(_ context.Context, q Q, a Answer) (Result, error) {
	if len(a.SelectedOptionIDs) == 0 {
		return skipped(q), nil
	}
	correct := toSet(q.CorrectOptionIDs)
	resp := toSet(a.SelectedOptionIDs)

	if setEqual(correct, resp) {
		return judged(q, true), nil
	}
	res := judged(q, false)
	if !s.allowPartial || len(correct) == 0 {
		return res, nil
	}
	for r := range resp {
		if _, ok := correct[r]; !ok {
			return res, nil
		}
	}
	// subset of the key: proportional credit, never penalized
	pts := round2(q.Marks * (float64(len(resp)) / float64(len(correct))))
	res.Marks = &pts
	res.Feedback = append(res.Feedback, "partial credit")
	return res, nil
}

type subjectiveStrategy struct{}

func (subjectiveStrategy) Grade(_ context.Context, q Q, a Answer) (Result, error) {
	if strings.TrimSpace(a.TextAnswer) == "" {
		return skipped(q), nil
	}
	return Result{Attempted: true, MaxMarks: q.Marks, NeedsManual: true, Feedback: []string{"manual grading required"}}, nil
}

// helpers

func skipped(q Q) Result {
	zero := 0.0
	return Result{MaxMarks: q.Marks, Marks: &zero}
}

func judged(q Q, ok bool) Result {
	pts := 0.0
	if ok {
		pts = q.Marks
	} else if q.NegativeMarking > 0 {
		pts = -q.NegativeMarking
	}
	return Result{Attempted: true, IsCorrect: &ok, Marks: &pts, MaxMarks: q.Marks}
}

func contains(arr []string, s string) bool {
	for _, v := range arr {
		if v == s {
			return true
		}
	}
	return false
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
