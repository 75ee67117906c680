package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"livequiz/internal/app"
	"livequiz/internal/domain"
	pgstore "livequiz/internal/infra/postgres"
	pgmigrations "livequiz/internal/infra/postgres/migrations"
	infraredis "livequiz/internal/infra/redis"
)

func TestSessionLifecycleAgainstRealStores(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("save quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()
	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute, zap.NewNop())

	stores := map[string]app.SessionStore{
		"postgres": pgstore.NewSessionStore(pool, time.Hour),
		"redis":    infraredis.NewSessionStore(redisClient, 5*time.Minute, time.Hour),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			runScenario(t, ctx, app.NewSessionEngine(store, quizRepo, app.WithMaxRetries(100)))
		})
	}
}

func runScenario(t *testing.T, ctx context.Context, engine *app.SessionEngine) {
	t.Helper()
	session, err := engine.CreateSession(ctx, app.CreateSessionRequest{
		QuizRef:         "quiz-1",
		OwnerID:         "host-1",
		Mode:            domain.ModeOnline,
		MaxParticipants: 20,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	code := session.Code
	if _, err := engine.AdminJoin(ctx, code, "host-1", "admin"); err != nil {
		t.Fatalf("admin join: %v", err)
	}

	// Concurrent joins must all land despite racing conditional writes.
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.Join(ctx, app.JoinRequest{Code: code, Name: fmt.Sprintf("p%d", i), ConnectionID: fmt.Sprintf("c%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	if _, err := engine.Start(ctx, code, "admin"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.OpenQuestion(ctx, code, 0, "admin"); err != nil {
		t.Fatalf("open: %v", err)
	}

	first, err := engine.SubmitAnswer(ctx, app.SubmitAnswerRequest{Code: code, ConnectionID: "c3", QuestionIndex: 0, Answer: "4", TimeRemaining: 15})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !first.Answer.IsCorrect || first.Answer.Points != 15 {
		t.Fatalf("expected 15 points, got %+v", first.Answer)
	}
	if _, err := engine.SubmitAnswer(ctx, app.SubmitAnswerRequest{Code: code, ConnectionID: "c3", QuestionIndex: 0, Answer: "4", TimeRemaining: 15}); err == nil || domain.CodeOf(err) != domain.CodeAlreadyAnswered {
		t.Fatalf("expected duplicate rejected, got %v", err)
	}

	if _, err := engine.CloseQuestion(ctx, code, "admin"); err != nil {
		t.Fatalf("close: %v", err)
	}
	done, err := engine.Complete(ctx, code, "admin")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(done.FinalResults) != 10 || done.FinalResults[0].Name != "p3" || done.FinalResults[0].Score != 15 {
		t.Fatalf("unexpected results %+v", done.FinalResults)
	}

	stored, err := engine.Session(ctx, code)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != domain.StatusCompleted || stored.Version != done.Version {
		t.Fatalf("expected persisted completed session, got %s v%d", stored.Status, stored.Version)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{
				Index:          0,
				Content:        "What is 2 + 2?",
				Type:           domain.QuestionMultipleChoice,
				Options:        []string{"3", "4", "5"},
				CorrectAnswers: []string{"4"},
				TimeLimit:      30,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
