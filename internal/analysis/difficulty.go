// Package analysis recomputes per-question difficulty from the graded
// answers of submitted participants. Difficulty is a descriptive statistic
// (1 - passRate), not a prediction.
package analysis

import (
	"context"
	"log/slog"
	"math"

	"github.com/examgate/examgate/internal/exam"
)

type QuestionDifficulty struct {
	QuestionID string  `json:"question_id"`
	Attempts   int     `json:"attempts"`
	Correct    int     `json:"correct"`
	PassRate   float64 `json:"pass_rate"`
	Difficulty float64 `json:"difficulty"`
}

type Analyzer struct {
	store exam.Store
	log   *slog.Logger
}

func New(store exam.Store, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{store: store, log: log}
}

// Analyze recomputes difficulty for every question of the exam that has at
// least one attempt among submitted participants, and persists it. Questions
// with zero attempts keep their previous difficulty, set or not. The
// computation is a snapshot over current data, so re-running it is
// idempotent.
func (a *Analyzer) Analyze(ctx context.Context, examID string) ([]QuestionDifficulty, error) {
	if _, err := a.store.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	perf, err := a.store.QuestionPerformance(ctx, examID)
	if err != nil {
		return nil, err
	}

	out := make([]QuestionDifficulty, 0, len(perf))
	for _, qp := range perf {
		if qp.Attempts == 0 {
			continue
		}
		passRate := float64(qp.Correct) / float64(qp.Attempts)
		difficulty := round4(1 - passRate)
		if err := a.store.SetQuestionDifficulty(ctx, qp.QuestionID, difficulty); err != nil {
			return nil, err
		}
		out = append(out, QuestionDifficulty{
			QuestionID: qp.QuestionID,
			Attempts:   qp.Attempts,
			Correct:    qp.Correct,
			PassRate:   round4(passRate),
			Difficulty: difficulty,
		})
	}
	a.log.Info("difficulty analysis complete", "exam", examID, "questions", len(out))
	return out, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
