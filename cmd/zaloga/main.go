package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/zaloga/internal/alerting"
	"github.com/erazemk/zaloga/internal/api"
	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/config"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/idempotency"
	"github.com/erazemk/zaloga/internal/store"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
// Returns a cleanup function that closes the log file (if opened).
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runToken(os.Args[2:]))
	}
	os.Exit(runServer(os.Args[1:]))
}

func runServer(args []string) int {
	fs := flag.NewFlagSet("zaloga", flag.ContinueOnError)

	var configPath string
	fs.StringVar(&configPath, "config", "", "")
	fs.StringVar(&configPath, "c", "", "")

	var dbPath string
	fs.StringVar(&dbPath, "db", "", "")
	fs.StringVar(&dbPath, "d", "", "")

	var addr string
	fs.StringVar(&addr, "addr", "", "")
	fs.StringVar(&addr, "a", "", "")

	var logPath string
	fs.StringVar(&logPath, "log", "", "")
	fs.StringVar(&logPath, "l", "", "")

	var policy string
	fs.StringVar(&policy, "policy", "", "")
	fs.StringVar(&policy, "p", "", "")

	var strict bool
	fs.BoolVar(&strict, "strict", false, "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: zaloga [flags]
       zaloga token [flags]

Flags:
  -c, -config <path>      YAML config file (default: none, built-in defaults)
  -d, -db <path>          SQLite database path (default: zaloga.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -p, -policy <name>      stock policy: reject or allow-negative (default: reject)
      -strict             enforce the order status lifecycle
  -h, -help               show this help and exit
`)
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		fs.Usage()
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// Flags given on the command line win over the config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db", "d":
			cfg.DBPath = dbPath
		case "addr", "a":
			cfg.Addr = addr
		case "log", "l":
			cfg.LogPath = logPath
		case "policy", "p":
			cfg.StockPolicy = policy
		case "strict":
			cfg.StrictStatusTransitions = strict
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		return 1
	}

	// Set up structured logging: INFO/WARN → stdout, ERROR → stderr.
	// Optionally also write to a log file.
	closeLog, err := setupLogger(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if closeLog != nil {
		defer closeLog()
	}

	if err := serve(cfg); err != nil {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

// serve wires the store, alerting, events and HTTP server together and
// blocks until a shutdown signal arrives.
func serve(cfg *config.Config) error {
	stockPolicy, err := store.ParseStockPolicy(cfg.StockPolicy)
	if err != nil {
		return err
	}
	ttl, _ := cfg.IdempotencyTTL()
	sweepEvery, _ := cfg.SweepInterval()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	// Ensure schema exists (idempotent).
	if err := db.EnsureSchema(database); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	background, bgCtx := errgroup.WithContext(ctx)
	generator := alerting.NewGenerator(database, slog.Default())

	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		consumer := events.NewConsumer(
			events.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID),
			generator, slog.Default(),
		)
		background.Go(func() error {
			defer consumer.Close()
			if err := consumer.Run(bgCtx); err != nil {
				slog.Error("stock change consumer failed", "error", err)
			}
			return nil
		})
		slog.Info("stock changes go through kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		publisher = events.NewDirect(generator)
	}
	defer publisher.Close()

	var guard idempotency.Guard = idempotency.NewMemory(ttl)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		guard = idempotency.NewRedis(rdb, ttl)
		slog.Info("idempotency keys stored in redis", "addr", cfg.Redis.Addr)
	}

	if sweepEvery > 0 {
		background.Go(func() error {
			generator.Run(bgCtx, sweepEvery)
			return nil
		})
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if !verifier.Enabled() {
		slog.Warn("no jwt secret configured, token verification disabled")
	}

	router := api.NewRouter(api.Options{
		DB:           database,
		Verifier:     verifier,
		Publisher:    publisher,
		Guard:        guard,
		StockPolicy:  stockPolicy,
		StrictStatus: cfg.StrictStatusTransitions,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr, "stock_policy", stockPolicy)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		_ = background.Wait()
		return err
	}

	_ = background.Wait()
	slog.Info("server stopped, closing database")
	return nil
}

// runToken prints a signed token for local development against a server
// sharing the same secret.
func runToken(args []string) int {
	fs := flag.NewFlagSet("zaloga token", flag.ContinueOnError)

	var configPath string
	fs.StringVar(&configPath, "config", "", "")
	fs.StringVar(&configPath, "c", "", "")

	var subject string
	fs.StringVar(&subject, "sub", "dev", "")

	var role string
	fs.StringVar(&role, "role", "manager", "")

	var ttl time.Duration
	fs.DurationVar(&ttl, "ttl", time.Hour, "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: zaloga token [flags]

Flags:
  -c, -config <path>   YAML config file holding auth.jwt_secret
  -sub <subject>       token subject (default: dev)
  -role <role>         admin, manager or user (default: manager)
  -ttl <duration>      token lifetime (default: 1h)
`)
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if !verifier.Enabled() {
		fmt.Fprintln(os.Stderr, "error: no jwt secret configured (auth.jwt_secret or ZALOGA_JWT_SECRET)")
		return 1
	}

	token, err := verifier.Sign(subject, role, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
