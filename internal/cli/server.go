package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"livequiz/internal/app"
	"livequiz/internal/config"
	"livequiz/internal/domain"
	"livequiz/internal/infra/memory"
	pgstore "livequiz/internal/infra/postgres"
	redisstore "livequiz/internal/infra/redis"
	"livequiz/internal/logging"
	"livequiz/internal/metrics"
	transport "livequiz/internal/transport/http"
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
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)
	retention := config.TTLDuration(cfg.Session.Retention, 24*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		pgLoader := pgstore.NewQuizLoader(pool)
		for _, quiz := range sampleQuizzes() {
			if err := pgLoader.SaveQuiz(ctx, quiz); err != nil {
				return err
			}
		}
		loader = pgLoader
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL, log.Named("quizcache"))
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	// Postgres is the durable choice; Redis shares state across instances
	// without it; memory is for a single local process.
	var store app.SessionStore
	var pgSessions *pgstore.SessionStore
	switch {
	case pool != nil:
		pgSessions = pgstore.NewSessionStore(pool, retention)
		store = pgSessions
		log.Info("session store: postgres")
	case redisClient != nil:
		store = redisstore.NewSessionStore(redisClient, redisTTL, retention)
		log.Info("session store: redis")
	default:
		store = memory.NewSessionStore(retention)
		log.Info("session store: memory")
	}

	engine := app.NewSessionEngine(store, quizRepo, app.WithMaxRetries(cfg.Session.MaxRetries))
	auth := transport.NewJWTAuthenticator(cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwtSecret is empty; admin features are unavailable")
	}
	gateway := transport.NewGateway(engine, log.Named("gateway"),
		transport.WithReconcileInterval(config.TTLDuration(cfg.Session.ReconcileInterval, 30*time.Second)))
	wsHandler := transport.NewWSHandler(gateway, auth, log.Named("ws"), transport.WSOptions{
		SendBuffer: cfg.WS.SendBuffer,
		RateLimit:  cfg.WS.RateLimit,
		Burst:      cfg.WS.Burst,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.Handle("/metrics", metrics.Handler(reg))
	transport.NewAPIHandler(engine, auth, log.Named("api")).Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// Websocket writes manage their own deadlines.
		WriteTimeout: 0,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return gateway.Run(gctx)
	})
	if pgSessions != nil {
		g.Go(func() error {
			return purgeLoop(gctx, pgSessions, retention, log)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// purgeLoop removes expired terminal sessions from Postgres, which has no
// native TTL.
func purgeLoop(ctx context.Context, store *pgstore.SessionStore, retention time.Duration, log *zap.Logger) error {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.Purge(ctx)
			if err != nil {
				log.Warn("purge sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("purged sessions", zap.Int64("count", n))
			}
		}
	}
}

// sampleQuizzes seeds a demo quiz so a fresh install has something to run.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					Index:          0,
					Content:        "What is 2 + 2?",
					Type:           domain.QuestionMultipleChoice,
					Options:        []string{"3", "4", "5"},
					CorrectAnswers: []string{"4"},
					TimeLimit:      30,
				},
				{
					Index:          1,
					Content:        "Which planet is known as the red planet?",
					Type:           domain.QuestionMultipleChoice,
					Options:        []string{"Venus", "Mars", "Jupiter"},
					CorrectAnswers: []string{"Mars"},
					TimeLimit:      20,
				},
				{
					Index:          2,
					Content:        "Type the chemical symbol for gold.",
					Type:           domain.QuestionTextInput,
					CorrectAnswers: []string{"Au"},
				},
			},
		},
	}
}
