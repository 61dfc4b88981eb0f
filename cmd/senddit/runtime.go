package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alphabot-ai/senddit/internal/address"
	"github.com/alphabot-ai/senddit/internal/config"
	"github.com/alphabot-ai/senddit/internal/identity"
	"github.com/alphabot-ai/senddit/internal/processor"
	"github.com/alphabot-ai/senddit/internal/rate"
	"github.com/alphabot-ai/senddit/internal/senddit"
	"github.com/alphabot-ai/senddit/internal/store/cache"
	"github.com/alphabot-ai/senddit/internal/store/sqlite"

	"github.com/urfave/cli/v2"
)

// runtime is the wired ledger stack for one CLI invocation.
type runtime struct {
	logger  *slog.Logger
	store   *sqlite.Store
	program *senddit.Program
	proc    *processor.Processor
	reader  senddit.Reader
	cache   *cache.Cache
}

func newLogger(cmd *cli.Context) *slog.Logger {
	var level slog.Level
	switch cmd.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}
	if cmd.String("log-format") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func programID(cmd *cli.Context) (address.Address, error) {
	id := strings.TrimSpace(cmd.String("program-id"))
	if id == "" {
		return senddit.DefaultConfig().ProgramID, nil
	}
	if a, err := address.Parse(id); err == nil {
		return a, nil
	}
	return address.ProgramID(id), nil
}

func setup(cmd *cli.Context) (*runtime, error) {
	logger := newLogger(cmd)

	pid, err := programID(cmd)
	if err != nil {
		return nil, err
	}

	st, err := sqlite.Open(cmd.String("db"))
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", cmd.String("db"), err)
	}

	program, err := senddit.New(&senddit.Args{
		Logger: logger,
		Store:  st,
		Config: senddit.Config{
			ProgramID:          pid,
			PostFee:            cmd.Uint64("post-fee"),
			CommentFee:         cmd.Uint64("comment-fee"),
			MaxUpvote:          cmd.Uint64("max-upvote"),
			OneVotePerIdentity: cmd.Bool("one-vote-per-identity"),
		},
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	rt := &runtime{logger: logger, store: st, program: program, reader: program}

	if addr := cmd.String("redis-addr"); addr != "" {
		client, err := cache.Dial(cmd.Context, addr, cmd.String("redis-password"))
		if err != nil {
			logger.Warn("redis unavailable, reading ledger directly", "addr", addr, "error", err)
		} else {
			rt.cache = cache.New(&cache.Args{
				Logger:    logger,
				Client:    client,
				Next:      program,
				TTL:       cmd.Duration("cache-ttl"),
				Root:      program.RootAddress(),
				PostStore: program.PostStoreAddress(),
			})
			rt.reader = rt.cache
		}
	}

	args := &processor.Args{
		Logger:  logger,
		Program: program,
		Store:   st,
		Limiter: rate.NewMemory(),
		RateLimits: config.RateLimits{
			PostPerMinute:    cmd.Int("rl-post-per-min"),
			CommentPerMinute: cmd.Int("rl-comment-per-min"),
			VotePerMinute:    cmd.Int("rl-vote-per-min"),
		},
		MaxAge: cmd.Duration("tx-max-age"),
	}
	if rt.cache != nil {
		args.Invalidator = rt.cache
	}
	rt.proc, err = processor.New(args)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.cache != nil {
		_ = rt.cache.Close()
	}
	_ = rt.store.Close()
}

func loadKeypair(cmd *cli.Context) (identity.Keypair, error) {
	path := cmd.String("keypair")
	if path == "" {
		return nil, fmt.Errorf("no keypair configured, run `senddit keygen` first")
	}
	return identity.LoadOrCreate(path, cmd.String("alg"))
}

func withRuntime(fn func(ctx context.Context, cmd *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(cmd *cli.Context) error {
		rt, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd.Context, cmd, rt)
	}
}
