package exam

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/examgate/examgate/internal/grading"
)

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	return NewService(NewInMemoryStore(grading.NewDefaultGrader()), opts...)
}

func mustCreateExam(t *testing.T, svc *Service, passPercentage float64) Exam {
	t.Helper()
	e, err := svc.CreateExam(context.Background(), "Geography Final", 30, passPercentage)
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	return e
}

func mustCard(t *testing.T, svc *Service) string {
	t.Helper()
	pins, err := svc.GenerateAccessCards(context.Background(), 1)
	if err != nil {
		t.Fatalf("generate card: %v", err)
	}
	return pins[0]
}

func mustRegister(t *testing.T, svc *Service, examID, email, sessionPIN string) Participant {
	t.Helper()
	p, err := svc.Register(context.Background(), RegisterInput{
		ExamID:     examID,
		Name:       "Ada",
		Email:      email,
		CardPIN:    mustCard(t, svc),
		SessionPIN: sessionPIN,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return p
}

func strptr(s string) *string { return &s }

// seedQuestions installs the three-question fixture used across the session
// lifecycle tests: one point each, pass bar from the exam.
func seedQuestions(t *testing.T, svc *Service, examID string) []Question {
	t.Helper()
	ctx := context.Background()
	inputs := []QuestionInput{
		{Text: "Which option is correct?", Type: TypeMCQ, Options: []Option{{Key: "A", Text: "no"}, {Key: "B", Text: "yes"}}, CorrectAnswer: strptr("B")},
		{Text: "Water boils at 100C at sea level.", Type: TypeTrueFalse, CorrectAnswer: strptr("true")},
		{Text: "Capital of France?", Type: TypeShortAnswer, CorrectAnswer: strptr("Paris")},
	}
	out := make([]Question, 0, len(inputs))
	for _, in := range inputs {
		q, err := svc.AddQuestion(ctx, examID, in)
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
		out = append(out, q)
	}
	return out
}

func TestCreateExamValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		exam     string
		duration int
		pass     float64
	}{
		{"empty name", "  ", 30, 60},
		{"zero duration", "Quiz", 0, 60},
		{"negative pass", "Quiz", 30, -1},
		{"pass above 100", "Quiz", 30, 101},
	}
	for _, c := range cases {
		if _, err := svc.CreateExam(ctx, c.exam, c.duration, c.pass); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: got %v, want ErrValidation", c.name, err)
		}
	}
}

func TestCreateExamAllocatesCode(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	if len(e.Code) != 5 {
		t.Fatalf("exam code %q, want 5 characters", e.Code)
	}
	if e.ID == "" {
		t.Fatal("exam ID not assigned")
	}
}

func TestAddQuestionValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	e := mustCreateExam(t, svc, 60)

	cases := []struct {
		name string
		in   QuestionInput
	}{
		{"empty text", QuestionInput{Type: TypeMCQ, Options: []Option{{Key: "A"}}}},
		{"unknown type", QuestionInput{Text: "q", Type: "essay"}},
		{"mcq without options", QuestionInput{Text: "q", Type: TypeMCQ}},
		{"bad option key", QuestionInput{Text: "q", Type: TypeMCQ, Options: []Option{{Key: "Z"}}}},
		{"correct answer outside keys", QuestionInput{Text: "q", Type: TypeMCQ, Options: []Option{{Key: "A"}}, CorrectAnswer: strptr("B")}},
		{"options on true_false", QuestionInput{Text: "q", Type: TypeTrueFalse, Options: []Option{{Key: "A"}}}},
		{"negative points", QuestionInput{Text: "q", Type: TypeShortAnswer, Points: -2}},
	}
	for _, c := range cases {
		if _, err := svc.AddQuestion(ctx, e.ID, c.in); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: got %v, want ErrValidation", c.name, err)
		}
	}
}

func TestAddQuestionDefaultsPoints(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	q, err := svc.AddQuestion(context.Background(), e.ID, QuestionInput{
		Text: "q", Type: TypeShortAnswer, CorrectAnswer: strptr("a"),
	})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	if q.Points != 1 {
		t.Fatalf("points = %d, want 1", q.Points)
	}
}

type stubSuggester struct{ text string }

func (s stubSuggester) SuggestAnswer(context.Context, string, []Option) (string, error) {
	return s.text, nil
}

func TestAddQuestionFillsSuggestedAnswer(t *testing.T) {
	svc := NewService(NewInMemoryStore(grading.NewDefaultGrader()),
		WithSuggester(stubSuggester{text: "mitochondria"}))
	e := mustCreateExam(t, svc, 60)

	q, err := svc.AddQuestion(context.Background(), e.ID, QuestionInput{
		Text: "Powerhouse of the cell?", Type: TypeShortAnswer,
	})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	if q.SuggestedAnswer == nil || *q.SuggestedAnswer != "mitochondria" {
		t.Fatalf("suggested answer = %v, want mitochondria", q.SuggestedAnswer)
	}
}

func TestGenerateAccessCards(t *testing.T) {
	svc := newTestService(t)
	pins, err := svc.GenerateAccessCards(context.Background(), 3)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pins) != 3 {
		t.Fatalf("got %d pins, want 3", len(pins))
	}
	seen := map[string]bool{}
	for _, pin := range pins {
		if len(pin) != 12 {
			t.Errorf("pin %q, want 12 characters", pin)
		}
		if seen[pin] {
			t.Errorf("duplicate pin %q", pin)
		}
		seen[pin] = true
	}

	if _, err := svc.GenerateAccessCards(context.Background(), 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("count 0: got %v, want ErrValidation", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()

	cases := []struct {
		name string
		in   RegisterInput
	}{
		{"empty name", RegisterInput{ExamID: e.ID, Email: "a@b.c", CardPIN: "x1", SessionPIN: "1234"}},
		{"empty email", RegisterInput{ExamID: e.ID, Name: "Ada", CardPIN: "x1", SessionPIN: "1234"}},
		{"short pin", RegisterInput{ExamID: e.ID, Name: "Ada", Email: "a@b.c", CardPIN: "x1", SessionPIN: "123"}},
		{"alpha pin", RegisterInput{ExamID: e.ID, Name: "Ada", Email: "a@b.c", CardPIN: "x1", SessionPIN: "12a4"}},
		{"bad card pin", RegisterInput{ExamID: e.ID, Name: "Ada", Email: "a@b.c", CardPIN: "has space", SessionPIN: "1234"}},
	}
	for _, c := range cases {
		if _, err := svc.Register(ctx, c.in); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: got %v, want ErrValidation", c.name, err)
		}
	}
}

func TestRegisterUnknownExamAndCard(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	in := RegisterInput{ExamID: "nope", Name: "Ada", Email: "a@b.c", CardPIN: "abc123", SessionPIN: "1234"}
	if _, err := svc.Register(ctx, in); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown exam: got %v, want ErrNotFound", err)
	}

	e := mustCreateExam(t, svc, 60)
	in.ExamID = e.ID
	if _, err := svc.Register(ctx, in); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown card: got %v, want ErrNotFound", err)
	}
}

func TestRegisterRedeemsCard(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	pin := mustCard(t, svc)

	p, err := svc.Register(ctx, RegisterInput{
		ExamID: e.ID, Name: "Ada", Email: "Ada@Example.com", CardPIN: pin, SessionPIN: "1234",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(p.RegCode) != 6 {
		t.Errorf("reg code %q, want 6 characters", p.RegCode)
	}
	if p.Email != "ada@example.com" {
		t.Errorf("email %q, want canonical lower case", p.Email)
	}
	if p.State() != StateRegistered {
		t.Errorf("state %q, want registered", p.State())
	}

	// The card is burned for everyone else.
	_, err = svc.Register(ctx, RegisterInput{
		ExamID: e.ID, Name: "Bob", Email: "bob@example.com", CardPIN: pin, SessionPIN: "5678",
	})
	if !errors.Is(err, ErrCardUsed) {
		t.Fatalf("reused card: got %v, want ErrCardUsed", err)
	}
}

func TestRegisterIdempotentPerEmail(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()

	first := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	// Same email again, even with a fresh card and different PIN: the
	// original enrollment is returned and the new card is left untouched.
	pin := mustCard(t, svc)
	again, err := svc.Register(ctx, RegisterInput{
		ExamID: e.ID, Name: "Ada", Email: "ADA@example.com", CardPIN: pin, SessionPIN: "9999",
	})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("got participant %s, want existing %s", again.ID, first.ID)
	}
	if again.SessionPIN != first.SessionPIN {
		t.Fatal("re-registration must not rotate the session PIN")
	}
}

func TestConcurrentRegistrationOneCardOneWinner(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	pin := mustCard(t, svc)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(context.Background(), RegisterInput{
				ExamID:     e.ID,
				Name:       "Racer",
				Email:      "racer" + string(rune('a'+i)) + "@example.com",
				CardPIN:    pin,
				SessionPIN: "1234",
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrCardUsed):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("got %d winners, want exactly 1", winners)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	p := mustRegister(t, svc, e.ID, "ada@example.com", "4242")

	got, err := svc.Login(ctx, e.ID, "4242")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("got %s, want %s", got.ID, p.ID)
	}

	if _, err := svc.Login(ctx, e.ID, "0000"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong PIN: got %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Login(ctx, e.ID, "12345"); !errors.Is(err, ErrValidation) {
		t.Fatalf("malformed PIN: got %v, want ErrValidation", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	first, err := svc.Start(ctx, p.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.StartedAt == nil {
		t.Fatal("start did not stamp StartedAt")
	}

	time.Sleep(5 * time.Millisecond)
	second, err := svc.Start(ctx, p.ID)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !second.StartedAt.Equal(*first.StartedAt) {
		t.Fatal("restart moved the start timestamp")
	}
}

func TestQuestionsForStripsAnswerFields(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	seedQuestions(t, svc, e.ID)
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.QuestionsFor(ctx, p.ID); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("before start: got %v, want ErrNotStarted", err)
	}

	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	questions, err := svc.QuestionsFor(ctx, p.ID)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(questions))
	}
	for _, q := range questions {
		if q.CorrectAnswer != nil || q.SuggestedAnswer != nil || q.Difficulty != nil {
			t.Fatalf("question %s leaks answer-bearing fields", q.ID)
		}
	}

	if _, err := svc.Submit(ctx, p.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.QuestionsFor(ctx, p.ID); !errors.Is(err, ErrSubmitted) {
		t.Fatalf("after submit: got %v, want ErrSubmitted", err)
	}
}

func TestRecordAnswerStateGating(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	qs := seedQuestions(t, svc, e.ID)
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.RecordAnswer(ctx, p.ID, qs[0].ID, "B", 4); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("before start: got %v, want ErrNotStarted", err)
	}

	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	a, err := svc.RecordAnswer(ctx, p.ID, qs[0].ID, "  B  ", 4)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if a.Text != "B" {
		t.Fatalf("answer text %q, want trimmed %q", a.Text, "B")
	}

	// Rewriting the answer before submission is allowed.
	a, err = svc.RecordAnswer(ctx, p.ID, qs[0].ID, "A", 9)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if a.Text != "A" || a.TimeSeconds != 9 {
		t.Fatalf("rewrite not applied: %+v", a)
	}

	if _, err := svc.Submit(ctx, p.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.RecordAnswer(ctx, p.ID, qs[0].ID, "B", 1); !errors.Is(err, ErrSubmitted) {
		t.Fatalf("after submit: got %v, want ErrSubmitted", err)
	}
}

func TestRecordAnswerRejectsForeignQuestion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	e1 := mustCreateExam(t, svc, 60)
	e2 := mustCreateExam(t, svc, 60)
	foreign := seedQuestions(t, svc, e2.ID)

	p := mustRegister(t, svc, e1.ID, "ada@example.com", "1234")
	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.RecordAnswer(ctx, p.ID, foreign[0].ID, "B", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign question: got %v, want ErrNotFound", err)
	}
}

func TestSubmitGradesAndPasses(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	qs := seedQuestions(t, svc, e.ID)
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	answers := map[string]string{qs[0].ID: "B", qs[1].ID: "TRUE", qs[2].ID: "paris"}
	for qid, text := range answers {
		if _, err := svc.RecordAnswer(ctx, p.ID, qid, text, 10); err != nil {
			t.Fatalf("record %s: %v", qid, err)
		}
	}

	graded, err := svc.Submit(ctx, p.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if graded.State() != StateSubmitted {
		t.Fatalf("state %q, want submitted", graded.State())
	}
	if graded.Score == nil || *graded.Score != 3 {
		t.Fatalf("score %v, want 3", graded.Score)
	}
	if graded.Passed == nil || !*graded.Passed {
		t.Fatal("want passed verdict")
	}
	if graded.Answered == nil || *graded.Answered != 3 || graded.Correct == nil || *graded.Correct != 3 {
		t.Fatalf("aggregates answered=%v correct=%v, want 3/3", graded.Answered, graded.Correct)
	}
}

func TestSubmitGradesAndFails(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	qs := seedQuestions(t, svc, e.ID)
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Wrong mcq (lowercase key is not a match), wrong boolean, fuzzy-correct
	// short answer: 1 of 3 points at a 60% bar.
	answers := map[string]string{qs[0].ID: "b", qs[1].ID: "false", qs[2].ID: "Pariss"}
	for qid, text := range answers {
		if _, err := svc.RecordAnswer(ctx, p.ID, qid, text, 10); err != nil {
			t.Fatalf("record %s: %v", qid, err)
		}
	}

	graded, err := svc.Submit(ctx, p.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if graded.Score == nil || *graded.Score != 1 {
		t.Fatalf("score %v, want 1", graded.Score)
	}
	if graded.Passed == nil || *graded.Passed {
		t.Fatal("want failed verdict")
	}
	if graded.Correct == nil || *graded.Correct != 1 {
		t.Fatalf("correct %v, want 1", graded.Correct)
	}
}

func TestSubmitRequiresStart(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.Submit(context.Background(), p.ID); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("got %v, want ErrNotStarted", err)
	}
}

func TestSubmitIsOneWay(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Submit(ctx, p.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Submit(ctx, p.ID); !errors.Is(err, ErrSubmitted) {
		t.Fatalf("double submit: got %v, want ErrSubmitted", err)
	}
}

func TestConcurrentSubmitSingleWinner(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")
	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Submit(ctx, p.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrSubmitted):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("got %d winners, want exactly 1", winners)
	}
}

func TestZeroQuestionExamCannotPass(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 0)
	ctx := context.Background()
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	graded, err := svc.Submit(ctx, p.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if graded.Passed == nil || *graded.Passed {
		t.Fatal("an exam with no possible points must fail even at a 0% bar")
	}
}

func TestGetResults(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	qs := seedQuestions(t, svc, e.ID)
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.GetResults(ctx, p.ID); !errors.Is(err, ErrNotSubmitted) {
		t.Fatalf("before submit: got %v, want ErrNotSubmitted", err)
	}

	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.RecordAnswer(ctx, p.ID, qs[0].ID, "B", 2); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.Submit(ctx, p.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := svc.GetResults(ctx, p.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if res.PossibleScore != 3 {
		t.Fatalf("possible %d, want 3", res.PossibleScore)
	}
	if len(res.Answers) != 3 {
		t.Fatalf("breakdown rows %d, want one per question", len(res.Answers))
	}
	if res.Answers[0].Answer == nil || res.Answers[0].Answer.Correct == nil || !*res.Answers[0].Answer.Correct {
		t.Fatal("answered question should carry its graded answer")
	}
	if res.Answers[1].Answer != nil {
		t.Fatal("unanswered question should have no answer row")
	}
	for i, bd := range res.Answers {
		if bd.ReferenceAnswer == nil {
			t.Fatalf("row %d missing reference answer", i)
		}
	}
}

func TestRecordEventFlagsSuspicion(t *testing.T) {
	svc := newTestService(t)
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	got, err := svc.RecordEvent(ctx, p.ID, "heartbeat", nil)
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if got.Suspicious {
		t.Fatal("heartbeat must not flag suspicion")
	}

	got, err = svc.RecordEvent(ctx, p.ID, EventFocusLost, []byte(`{"duration_ms":1500}`))
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if !got.Suspicious {
		t.Fatal("focus_lost must flag suspicion")
	}

	// The flag is sticky.
	got, err = svc.RecordEvent(ctx, p.ID, "heartbeat", nil)
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if !got.Suspicious {
		t.Fatal("suspicion flag must not reset")
	}

	if _, err := svc.RecordEvent(ctx, p.ID, "  ", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty type: got %v, want ErrValidation", err)
	}
}

type recordingNotifier struct {
	results chan Participant
}

func (n *recordingNotifier) ExamCreated(context.Context, Exam) error { return nil }
func (n *recordingNotifier) ResultsReady(_ context.Context, p Participant, _ Exam, _ int) error {
	n.results <- p
	return nil
}

func TestSubmitNotifiesResults(t *testing.T) {
	notifier := &recordingNotifier{results: make(chan Participant, 1)}
	svc := NewService(NewInMemoryStore(grading.NewDefaultGrader()), WithNotifier(notifier))
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Submit(ctx, p.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case got := <-notifier.results:
		if got.ID != p.ID {
			t.Fatalf("notified for %s, want %s", got.ID, p.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for results notification")
	}
}

type flakyExamStore struct {
	Store
	failGetExam bool
}

func (s *flakyExamStore) GetExam(ctx context.Context, id string) (Exam, error) {
	if s.failGetExam {
		return Exam{}, errors.New("store offline")
	}
	return s.Store.GetExam(ctx, id)
}

func TestSubmitSurvivesNotificationLookupFailure(t *testing.T) {
	store := &flakyExamStore{Store: NewInMemoryStore(grading.NewDefaultGrader())}
	notifier := &recordingNotifier{results: make(chan Participant, 1)}
	var buf bytes.Buffer
	svc := NewService(store,
		WithNotifier(notifier),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	e := mustCreateExam(t, svc, 60)
	ctx := context.Background()
	p := mustRegister(t, svc, e.ID, "ada@example.com", "1234")

	if _, err := svc.Start(ctx, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The exam lookup for the notification fails from here on. The submit
	// transition itself must still commit; the notification is dropped with
	// a warning rather than failing the request.
	store.failGetExam = true
	got, err := svc.Submit(ctx, p.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.State() != StateSubmitted {
		t.Fatalf("state = %s, want %s", got.State(), StateSubmitted)
	}
	if !strings.Contains(buf.String(), "results notification skipped") {
		t.Fatalf("missing skip warning in log output:\n%s", buf.String())
	}
	select {
	case <-notifier.results:
		t.Fatal("notification delivered despite failed exam lookup")
	default:
	}
}
