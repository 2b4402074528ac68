package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/examgate/examgate/internal/analysis"
	api "github.com/examgate/examgate/internal/api/http"
	"github.com/examgate/examgate/internal/auth"
	"github.com/examgate/examgate/internal/config"
	"github.com/examgate/examgate/internal/db"
	"github.com/examgate/examgate/internal/exam"
	"github.com/examgate/examgate/internal/grading"
	"github.com/examgate/examgate/internal/logging"
	"github.com/examgate/examgate/internal/notify"
	"github.com/examgate/examgate/internal/suggest"
)

func main() {
	cfg := config.FromEnv()
	log := logging.New(os.Stdout, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Error("db open failed", "err", err)
		os.Exit(1)
	}

	grader := grading.NewDefaultGrader(grading.WithThreshold(cfg.MatchThreshold))
	store := exam.NewSQLStore(dbh, cfg.DBDriver, grader)

	opts := []exam.ServiceOption{exam.WithLogger(log)}
	if cfg.SMTPHost != "" && cfg.SMTPFrom != "" {
		opts = append(opts, exam.WithNotifier(notify.NewSMTPMailer(
			cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPPassword, cfg.AdminEmail,
		)))
	} else {
		opts = append(opts, exam.WithNotifier(notify.Nop{}))
	}
	if cfg.OpenAIAPIKey != "" {
		sg, err := suggest.NewOpenAISuggester(suggest.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		})
		if err != nil {
			log.Error("suggester init failed", "err", err)
			os.Exit(1)
		}
		opts = append(opts, exam.WithSuggester(sg))
	}
	svc := exam.NewService(store, opts...)
	analyzer := analysis.New(store, log)
	authSvc := auth.NewAuthService(cfg.AuthSecret, cfg.AdminUser, cfg.AdminPassHash)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(api.RequestLogger(log))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc))

	// Admin surface.
	r.Group(func(pr chi.Router) {
		pr.Use(auth.RequireAdmin(authSvc))

		pr.Post("/exams", api.CreateExamHandler(svc))
		pr.Get("/exams", api.ListExamsHandler(svc))
		pr.Post("/exams/{examID}/questions", api.AddQuestionHandler(svc))
		pr.Post("/exams/{examID}/analysis", api.AnalyzeDifficultyHandler(analyzer))
		pr.Post("/cards", api.GenerateCardsHandler(svc))
		pr.Get("/participants", api.ListParticipantsHandler(svc))
		pr.Get("/participants/{participantID}", api.GetParticipantHandler(svc))
		pr.Get("/participants/{participantID}/answers", api.ParticipantAnswersHandler(svc))
		pr.Get("/participants/{participantID}/events", api.ParticipantEventsHandler(svc))
	})

	// Participant surface: card + session PIN stand in for credentials. The
	// single-exam lookup stays public so a card holder can confirm the exam
	// before registering.
	r.Get("/exams/{examID}", api.GetExamHandler(svc))
	r.Post("/register", api.RegisterHandler(svc))
	r.Post("/login", api.LoginHandler(svc))
	r.Post("/sessions/{participantID}/start", api.StartHandler(svc))
	r.Get("/sessions/{participantID}/questions", api.QuestionsHandler(svc))
	r.Post("/sessions/{participantID}/answers", api.RecordAnswerHandler(svc))
	r.Post("/sessions/{participantID}/submit", api.SubmitHandler(svc))
	r.Get("/sessions/{participantID}/results", api.ResultsHandler(svc))
	r.Post("/sessions/{participantID}/events", api.RecordEventHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	log.Info("listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
