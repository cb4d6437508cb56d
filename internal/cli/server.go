package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"english-battle-service/internal/app"
	"english-battle-service/internal/config"
	"english-battle-service/internal/domain"
	"english-battle-service/internal/infra/memory"
	pginfra "english-battle-service/internal/infra/postgres"
	redisinfra "english-battle-service/internal/infra/redis"
	transport "english-battle-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the battle server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = pginfra.NewQuestionLoader(pool)
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
	}

	var battles app.BattleRepository
	if redisClient != nil {
		battles = redisinfra.NewBattleRepository(redisClient, redisTTL)
	} else {
		battles = memory.NewBattleRepository()
	}

	var reviews app.ReviewStore
	if pool != nil {
		reviews = pginfra.NewReviewStore(pool)
	} else {
		reviews = memory.NewReviewStore()
	}

	profiles := memory.NewProfileStore()
	battleService := app.NewBattleService(battles, questions, profiles)
	reviewService := app.NewReviewService(reviews)
	wsHandler := transport.NewWSHandler(battleService)
	reviewHandler := transport.NewReviewHandler(reviewService)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/reviews", reviewHandler.ProcessReview)
	mux.HandleFunc("/reviews/due", reviewHandler.DueWords)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	abandonAfter := config.TTLDuration(cfg.Battle.AbandonAfter, 10*time.Minute)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := battleService.SweepAbandoned(abandonAfter); n > 0 {
					log.Printf("cancelled %d abandoned battles", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		log.Printf("starting battle service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestions provides a minimal bank for local runs without Postgres.
func sampleQuestions() map[int][]domain.Question {
	prompts := []struct{ prompt, answer string }{
		{"Choose the correct article: ___ apple", "an"},
		{"Past tense of 'go'", "went"},
		{"Opposite of 'big'", "small"},
		{"Plural of 'child'", "children"},
		{"Past tense of 'eat'", "ate"},
		{"Synonym of 'happy'", "glad"},
		{"Opposite of 'early'", "late"},
		{"Comparative of 'good'", "better"},
		{"Past participle of 'see'", "seen"},
		{"Third person of 'have'", "has"},
		{"Opposite of 'buy'", "sell"},
		{"Past tense of 'run'", "ran"},
	}
	questions := make([]domain.Question, 0, len(prompts))
	for i, p := range prompts {
		questions = append(questions, domain.Question{
			ID:            fmt.Sprintf("q%02d", i+1),
			Level:         1,
			Prompt:        p.prompt,
			CorrectAnswer: p.answer,
			BasePoints:    10,
			TimeBonusMax:  5,
			Active:        true,
		})
	}
	return map[int][]domain.Question{1: questions}
}
