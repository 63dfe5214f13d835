package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quizparty-service/internal/auth"
	"quizparty-service/internal/config"
	"quizparty-service/internal/coordinator"
	"quizparty-service/internal/domain"
	"quizparty-service/internal/game"
	"quizparty-service/internal/infra/memory"
	pginfra "quizparty-service/internal/infra/postgres"
	redisinfra "quizparty-service/internal/infra/redis"
	"quizparty-service/internal/lobby"
	transport "quizparty-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

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
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionSource(sampleQuestions())
	if pool != nil {
		loader = pginfra.NewQuestionSource(pool)
	}

	var questions coordinator.QuestionSource
	if redisClient != nil {
		questions = redisinfra.NewQuestionCache(redisClient, loader, redisTTL)
	} else {
		questions = memory.NewQuestionCache(loader, redisTTL)
	}

	var recorder coordinator.ResultRecorder
	switch {
	case pool != nil:
		recorder = pginfra.NewResultRecorder(pool)
	case redisClient != nil:
		recorder = redisinfra.NewResultStore(redisClient, redisTTL)
	default:
		recorder = memory.NewResultStore()
	}

	coordCfg := coordinatorConfig(cfg)
	coord := coordinator.New(coordCfg, clockwork.NewRealClock(), questions, recorder)

	var resolver auth.PlayerResolver
	if cfg.Auth.JWTSecret != "" {
		resolver = auth.NewJWTResolver([]byte(cfg.Auth.JWTSecret))
	} else {
		resolver = auth.GuestResolver{}
	}
	wsHandler := transport.NewWSHandler(coord, resolver)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func coordinatorConfig(cfg config.Config) coordinator.Config {
	g := cfg.Game
	rules := domain.ScoringRules{
		BasePoints:          config.IntOr(g.Scoring.BasePoints, 100),
		MaxSpeedBonus:       config.IntOr(g.Scoring.MaxSpeedBonus, 50),
		StreakEnabled:       g.Scoring.StreakEnabled,
		StreakFactor:        g.Scoring.StreakFactor,
		MaxStreakMultiplier: g.Scoring.MaxStreakMultiplier,
	}
	return coordinator.Config{
		Lobby: lobby.Config{
			DefaultSettings: domain.Settings{
				Category:        g.Category,
				Difficulty:      g.Difficulty,
				QuestionCount:   config.IntOr(g.QuestionCount, 10),
				TimePerQuestion: config.Duration(g.TimePerQuestion, 15*time.Second),
				MaxPlayers:      config.IntOr(g.MaxPlayers, 8),
				Scoring:         rules,
			},
			MinPlayers:      config.IntOr(g.MinPlayers, 2),
			DisconnectGrace: config.Duration(g.DisconnectGrace, 30*time.Second),
			InactivityTTL:   config.Duration(g.LobbyInactivity, 15*time.Minute),
		},
		Game: game.Config{
			RevealDuration: config.Duration(g.RevealDuration, 5*time.Second),
		},
		ResultsRetention: config.Duration(g.ResultsRetention, 10*time.Minute),
	}
}

// sampleQuestions provides a minimal pool; swap the loader for Postgres in
// production.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:           "q-math-1",
			Text:         "What is 2 + 2?",
			Options:      []string{"3", "4", "5"},
			CorrectIndex: 1,
			Category:     "math",
			Difficulty:   "easy",
		},
		{
			ID:           "q-math-2",
			Text:         "What is 7 × 8?",
			Options:      []string{"54", "56", "64"},
			CorrectIndex: 1,
			Category:     "math",
			Difficulty:   "easy",
		},
		{
			ID:           "q-geo-1",
			Text:         "Which is the largest ocean?",
			Options:      []string{"Atlantic", "Indian", "Pacific", "Arctic"},
			CorrectIndex: 2,
			Category:     "geography",
			Difficulty:   "easy",
		},
	}
}
