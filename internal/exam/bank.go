package exam

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"time"
)

// StudentOption is an option as shown during an attempt.
type StudentOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// StudentQuestion never carries answer-key fields.
type StudentQuestion struct {
	ID       string          `json:"id"`
	Type     QuestionType    `json:"question_type"`
	Text     string          `json:"text"`
	Marks    float64         `json:"marks"`
	Negative float64         `json:"negative_marking,omitempty"`
	Options  []StudentOption `json:"options,omitempty"`
}

// LoadExamForAttempt fetches an exam and returns its questions in the order the
// attempt sees them. With a nil attempt the scheduling window must include now;
// an existing attempt skips that check so it can always be completed.
func LoadExamForAttempt(ctx context.Context, store Store, examID string, a *Attempt, now time.Time) (Exam, []Question, error) {
	e, err := store.GetExam(ctx, examID)
	if err != nil {
		return Exam{}, nil, err
	}
	if a == nil && !e.Open(now) {
		return Exam{}, nil, notFound("exam %s is not open", examID)
	}
	var seed int64
	if a != nil {
		seed = a.ShuffleSeed
	}
	return e, orderQuestions(e, seed), nil
}

// orderQuestions applies the exam's randomization flags with a stable seed.
// The returned slice and its option slices are copies.
func orderQuestions(e Exam, seed int64) []Question {
	qs := make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		q.Options = append([]Option(nil), q.Options...)
		qs[i] = q
	}
	if e.RandomizeQuestions {
		r := seeded(seed, "questions")
		r.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
	}
	if e.RandomizeOptions {
		for i := range qs {
			opts := qs[i].Options
			r := seeded(seed, qs[i].ID)
			r.Shuffle(len(opts), func(a, b int) { opts[a], opts[b] = opts[b], opts[a] })
		}
	}
	return qs
}

func seeded(seed int64, salt string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(salt))
	return rand.New(rand.NewPCG(uint64(seed), h.Sum64()))
}

// seedFor derives the stored shuffle seed from an attempt id.
func seedFor(attemptID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(attemptID))
	return int64(h.Sum64() >> 1)
}

func studentView(qs []Question) []StudentQuestion {
	out := make([]StudentQuestion, 0, len(qs))
	for _, q := range qs {
		sq := StudentQuestion{ID: q.ID, Type: q.Type, Text: q.Text, Marks: q.Marks, Negative: q.NegativeMarking}
		for _, o := range q.Options {
			sq.Options = append(sq.Options, StudentOption{ID: o.ID, Text: o.Text})
		}
		out = append(out, sq)
	}
	return out
}
