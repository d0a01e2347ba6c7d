package grading

import "math"

// Summary aggregates per-question results into attempt totals.
type Summary struct {
	MarksObtained float64
	Correct       int
	Wrong         int
	Skipped       int
	Pending       int // awaiting manual grading, counted as zero marks
}

// Summarize sums the awarded marks exactly as given, so the total always equals
// the sum of the per-question marks that get persisted.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch {
		case !r.Attempted:
			s.Skipped++
		case r.NeedsManual:
			s.Pending++
		case r.IsCorrect != nil && *r.IsCorrect:
			s.Correct++
		default:
			s.Wrong++
		}
		if r.Marks != nil {
			s.MarksObtained += *r.Marks
		}
	}
	return s
}

// Percentage of total, rounded to two decimals. Zero when total is not positive.
func Percentage(obtained, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(obtained / total * 100)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
