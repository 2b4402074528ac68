package grading

import "strings"

// Q is the minimal view of a question needed for grading; stores project
// their persisted question type onto it.
type Q struct {
	Type            string
	Points          int
	CorrectAnswer   *string
	SuggestedAnswer *string
}

// Result is the outcome of grading a single recorded answer.
type Result struct {
	Correct      bool
	PointsEarned int
	// Ungradable marks a short answer with no reference text at all.
	// Such answers are scored incorrect with zero points, not rejected.
	Ungradable bool
}

// Strategy grades a single question.
type Strategy interface {
	Grade(q Q, response string) Result
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(q Q, response string) Result
}

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(q Q, response string) Result {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{Ungradable: true}
	}
	return s.Grade(q, response)
}

type Option func(*config)

type config struct {
	Threshold int // short-answer similarity threshold, inclusive
}

func WithThreshold(n int) Option { return func(c *config) { c.Threshold = n } }

// NewDefaultGrader installs built-in strategies.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{Threshold: 80}
	for _, o := range opts {
		o(cfg)
	}
	return &defaultGrader{
		strategies: map[string]Strategy{
			"mcq":          mcqStrategy{},
			"true_false":   trueFalseStrategy{},
			"short_answer": shortAnswerStrategy{threshold: cfg.Threshold},
		},
	}
}

// --- Strategies ---

// mcqStrategy compares option keys exactly, case-sensitive.
type mcqStrategy struct{}

func (mcqStrategy) Grade(q Q, response string) Result {
	if q.CorrectAnswer != nil && response == *q.CorrectAnswer {
		return Result{Correct: true, PointsEarned: q.Points}
	}
	return Result{}
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Grade(q Q, response string) Result {
	if q.CorrectAnswer != nil && strings.EqualFold(response, *q.CorrectAnswer) {
		return Result{Correct: true, PointsEarned: q.Points}
	}
	return Result{}
}

// shortAnswerStrategy fuzz-matches the lower-cased response against the
// authoritative answer, falling back to the suggested reference.
type shortAnswerStrategy struct{ threshold int }

func (s shortAnswerStrategy) Grade(q Q, response string) Result {
	ref := q.CorrectAnswer
	if ref == nil {
		ref = q.SuggestedAnswer
	}
	if ref == nil {
		return Result{Ungradable: true}
	}
	ratio := Ratio(strings.ToLower(response), strings.ToLower(*ref))
	if ratio >= s.threshold {
		return Result{Correct: true, PointsEarned: q.Points}
	}
	return Result{}
}

// --- Aggregation ---

// Summary accumulates the per-participant grading aggregates.
type Summary struct {
	Score    int
	Answered int
	Correct  int
}

func (s *Summary) Add(r Result) {
	s.Answered++
	if r.Correct {
		s.Correct++
	}
	s.Score += r.PointsEarned
}

// Passed reports the pass/fail verdict. An exam with no possible points
// cannot be passed.
func Passed(score, possible int, passPercentage float64) bool {
	if possible <= 0 {
		return false
	}
	return 100*float64(score)/float64(possible) >= passPercentage
}
