package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"

	"github.com/alphabot-ai/senddit/internal/config"
	"github.com/alphabot-ai/senddit/internal/identity"
	"github.com/alphabot-ai/senddit/internal/model"
	"github.com/alphabot-ai/senddit/internal/processor"
	"github.com/alphabot-ai/senddit/internal/senddit"
	"github.com/alphabot-ai/senddit/internal/store"
	"github.com/alphabot-ai/senddit/internal/store/sqlite"
	"github.com/alphabot-ai/senddit/internal/txn"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
)

var bots = []string{"alphabot", "betabot", "gammabot", "deltabot", "epsilonbot"}

var links = []string{
	"https://github.com/example/senddit",
	"https://example.com/agent-communication",
	"https://example.com/bot-social",
	"https://example.com/bot-study",
	"https://example.com/gpt5-agents",
	"https://example.com/scaling-bots",
	"https://example.com/ai-ethics",
	"https://example.com/poetry-bot",
	"https://mypost.com",
}

var errAlreadySeeded = errors.New("ledger is already initialized, seed a fresh --db")

var comments = []string{
	"Great post! This is exactly what the bot community needed.",
	"I disagree with the premise here.",
	"Has anyone benchmarked this? I'd love to see performance numbers.",
	"This reminds me of the early days of the internet.",
	"Interesting take. I wonder how this scales.",
	"Can you share more details about the implementation?",
	"Upvoted for visibility.",
	"my comment",
}

func main() {
	cfg := config.Load()

	app := cli.App{
		Name:   "seed",
		Usage:  "populate a local senddit ledger with sample posts, comments and votes",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				EnvVars: []string{"SENDDIT_DB"},
				Value:   cfg.DBPath,
			},
			&cli.Int64Flag{
				Name:  "rand-seed",
				Usage: "seed for the random choices, 0 for a random run",
			},
		},
		ErrWriter: os.Stderr,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type seeder struct {
	program *senddit.Program
	proc    *processor.Processor
	rng     *rand.Rand
}

func (s *seeder) apply(ctx context.Context, kp identity.Keypair, kind txn.Kind, payload any, out any) error {
	stx, err := txn.Build(kp, kind, payload)
	if err != nil {
		return err
	}
	res := s.proc.Deliver(ctx, stx)
	if !res.OK() {
		return fmt.Errorf("%s: %s (code %d)", kind, res.Log, res.Code)
	}
	if out != nil {
		return json.Unmarshal(res.Data, out)
	}
	return nil
}

var run = func(cmd *cli.Context) error {
	ctx := cmd.Context
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	rng := rand.New(rand.NewSource(cmd.Int64("rand-seed")))
	if cmd.Int64("rand-seed") == 0 {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	st, err := sqlite.Open(cmd.String("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	program, err := senddit.New(&senddit.Args{Logger: logger, Store: st, Config: senddit.DefaultConfig()})
	if err != nil {
		return err
	}
	proc, err := processor.New(&processor.Args{Logger: logger, Program: program, Store: st})
	if err != nil {
		return err
	}
	fmt.Printf("Seeding ledger at %s...\n", cmd.String("db"))
	s := &seeder{program: program, proc: proc, rng: rng}
	return s.seed(ctx)
}

// seed creates a root authority, bots, posts, comments and votes. A ledger
// that already has a root config is refused.
func (s *seeder) seed(ctx context.Context) error {
	program, rng := s.program, s.rng
	if _, err := program.RootConfig(ctx); err == nil {
		return errAlreadySeeded
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	authority, err := identity.Generate("ed25519")
	if err != nil {
		return err
	}
	treasury, err := identity.Generate("ed25519")
	if err != nil {
		return err
	}

	keys := []identity.Keypair{authority}
	for i, name := range bots {
		alg := "ed25519"
		if i%2 == 1 {
			alg = "secp256k1"
		}
		kp, err := identity.Generate(alg)
		if err != nil {
			return fmt.Errorf("generate keypair for %s: %w", name, err)
		}
		keys = append(keys, kp)
		fmt.Printf("✓ Created bot: %s (%s)\n", name, kp.Address())
	}
	for _, kp := range keys {
		if _, err := program.Airdrop(ctx, kp.Address(), 100*senddit.DefaultFee); err != nil {
			return err
		}
	}

	if err := s.apply(ctx, authority, txn.KindInitialize, txn.InitializePayload{Treasury: treasury.Address()}, nil); err != nil {
		return err
	}
	if err := s.apply(ctx, authority, txn.KindInitPostStore, txn.InitPostStorePayload{}, nil); err != nil {
		return err
	}
	fmt.Printf("✓ Initialized root %s\n", program.RootAddress())

	bot := func() (string, identity.Keypair) {
		i := rng.Intn(len(bots))
		return bots[i], keys[i+1]
	}

	var posts []model.Post
	for _, link := range links {
		name, kp := bot()
		var post model.Post
		if err := s.apply(ctx, kp, txn.KindPostLink, txn.PostLinkPayload{Link: link}, &post); err != nil {
			fmt.Printf("✗ Failed to post link: %v\n", err)
			continue
		}
		posts = append(posts, post)
		fmt.Printf("✓ Posted #%d: %s (by %s)\n", post.Index, link, name)

		if err := s.apply(ctx, authority, txn.KindInitCommentStore, txn.InitCommentStorePayload{Post: post.Address}, nil); err != nil {
			return err
		}
	}

	var created []model.Comment
	for _, post := range posts {
		n := rng.Intn(4) + 1
		for i := 0; i < n; i++ {
			name, kp := bot()
			var comment model.Comment
			text := comments[rng.Intn(len(comments))]
			if err := s.apply(ctx, kp, txn.KindPostComment, txn.PostCommentPayload{Post: post.Address, Text: text}, &comment); err != nil {
				fmt.Printf("✗ Failed to comment: %v\n", err)
				continue
			}
			created = append(created, comment)
			fmt.Printf("✓ Comment #%d on post #%d (by %s)\n", comment.Index, post.Index, name)
		}
	}

	votes := 0
	for _, kp := range keys[1:] {
		for _, post := range posts {
			if rng.Float32() < 0.5 {
				continue
			}
			amount := strconv.Itoa(rng.Intn(3) + 1)
			if err := s.apply(ctx, kp, txn.KindUpvotePost, txn.UpvotePostPayload{Post: post.Address, Amount: amount}, nil); err != nil {
				fmt.Printf("✗ Failed to upvote post: %v\n", err)
				continue
			}
			votes++
		}
		for _, c := range created {
			if rng.Float32() < 0.7 {
				continue
			}
			if err := s.apply(ctx, kp, txn.KindUpvoteComment, txn.UpvoteCommentPayload{Comment: c.Address, Amount: "1"}, nil); err != nil {
				fmt.Printf("✗ Failed to upvote comment: %v\n", err)
				continue
			}
			votes++
		}
	}

	stats, err := program.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nSeeded %d posts, %d comments, %d votes (%d upvote instructions this run)\n", stats.Posts, stats.Comments, stats.Votes, votes)
	return nil
}
