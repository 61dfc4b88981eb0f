package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alphabot-ai/senddit/internal/config"
	"github.com/alphabot-ai/senddit/internal/identity"
	"github.com/alphabot-ai/senddit/internal/metrics"
	"github.com/alphabot-ai/senddit/internal/txn"

	"github.com/dustin/go-humanize"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
)

func main() {
	cfg := config.Load()

	app := cli.App{
		Name:  "senddit",
		Usage: "link board ledger: post links, comment, upvote",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				EnvVars: []string{"SENDDIT_DB"},
				Value:   cfg.DBPath,
			},
			&cli.StringFlag{
				Name:    "program-id",
				Usage:   "program address or name; derived record addresses depend on it",
				EnvVars: []string{"SENDDIT_PROGRAM_ID"},
				Value:   cfg.ProgramID,
			},
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				EnvVars: []string{"SENDDIT_KEYPAIR"},
				Value:   cfg.KeypairPath,
			},
			&cli.StringFlag{
				Name:  "alg",
				Usage: "key algorithm for new keypairs (ed25519, secp256k1)",
				Value: "ed25519",
			},
			&cli.Uint64Flag{
				Name:    "post-fee",
				EnvVars: []string{"SENDDIT_POST_FEE"},
				Value:   cfg.PostFee,
			},
			&cli.Uint64Flag{
				Name:    "comment-fee",
				EnvVars: []string{"SENDDIT_COMMENT_FEE"},
				Value:   cfg.CommentFee,
			},
			&cli.Uint64Flag{
				Name:    "max-upvote",
				Usage:   "largest single upvote delta, 0 for unbounded",
				EnvVars: []string{"SENDDIT_MAX_UPVOTE"},
				Value:   cfg.MaxUpvote,
			},
			&cli.BoolFlag{
				Name:    "one-vote-per-identity",
				EnvVars: []string{"SENDDIT_ONE_VOTE_PER_IDENTITY"},
				Value:   cfg.OneVotePerIdentity,
			},
			&cli.DurationFlag{
				Name:    "tx-max-age",
				EnvVars: []string{"SENDDIT_TX_MAX_AGE"},
				Value:   cfg.TxMaxAge,
			},
			&cli.IntFlag{
				Name:    "rl-post-per-min",
				EnvVars: []string{"SENDDIT_RL_POST_PER_MIN"},
				Value:   cfg.RateLimits.PostPerMinute,
			},
			&cli.IntFlag{
				Name:    "rl-comment-per-min",
				EnvVars: []string{"SENDDIT_RL_COMMENT_PER_MIN"},
				Value:   cfg.RateLimits.CommentPerMinute,
			},
			&cli.IntFlag{
				Name:    "rl-vote-per-min",
				EnvVars: []string{"SENDDIT_RL_VOTE_PER_MIN"},
				Value:   cfg.RateLimits.VotePerMinute,
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				EnvVars: []string{"SENDDIT_REDIS_ADDR"},
				Value:   cfg.Redis.Addr,
			},
			&cli.StringFlag{
				Name:    "redis-password",
				EnvVars: []string{"SENDDIT_REDIS_PASSWORD"},
				Value:   cfg.Redis.Password,
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				EnvVars: []string{"SENDDIT_CACHE_TTL"},
				Value:   cfg.Redis.TTL,
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"SENDDIT_LOG_LEVEL"},
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:    "log-format",
				EnvVars: []string{"SENDDIT_LOG_FORMAT"},
				Value:   "text",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "create the keypair file if missing and print its address",
				Action: keygen,
			},
			{
				Name:   "address",
				Usage:  "print this keypair's address and the program's derived addresses",
				Action: withRuntime(showAddresses),
			},
			{
				Name:      "airdrop",
				Usage:     "credit lamports to a wallet",
				ArgsUsage: "LAMPORTS [ADDRESS]",
				Action:    withRuntime(airdrop),
			},
			instruction("initialize", "create the root config with this keypair as authority", "", []cli.Flag{
				&cli.StringFlag{Name: "treasury", Usage: "fee destination address", Required: true},
			}, func(cmd *cli.Context) (txn.Kind, any, error) {
				return txn.KindInitialize, txn.InitializePayload{Treasury: cmd.String("treasury")}, nil
			}),
			instruction("init-post-store", "open the post ledger", "", nil, func(cmd *cli.Context) (txn.Kind, any, error) {
				return txn.KindInitPostStore, txn.InitPostStorePayload{}, nil
			}),
			instruction("init-comment-store", "open the comment ledger for a post", "POST", nil, func(cmd *cli.Context) (txn.Kind, any, error) {
				post, err := arg(cmd, 0, "POST")
				return txn.KindInitCommentStore, txn.InitCommentStorePayload{Post: post}, err
			}),
			instruction("post", "submit a link", "LINK", nil, func(cmd *cli.Context) (txn.Kind, any, error) {
				link, err := arg(cmd, 0, "LINK")
				return txn.KindPostLink, txn.PostLinkPayload{Link: link}, err
			}),
			instruction("upvote-post", "add upvotes to a post", "POST AMOUNT", nil, func(cmd *cli.Context) (txn.Kind, any, error) {
				post, err := arg(cmd, 0, "POST")
				if err != nil {
					return "", nil, err
				}
				amount, err := arg(cmd, 1, "AMOUNT")
				return txn.KindUpvotePost, txn.UpvotePostPayload{Post: post, Amount: amount}, err
			}),
			instruction("comment", "reply to a post", "POST TEXT", nil, func(cmd *cli.Context) (txn.Kind, any, error) {
				post, err := arg(cmd, 0, "POST")
				if err != nil {
					return "", nil, err
				}
				text, err := arg(cmd, 1, "TEXT")
				return txn.KindPostComment, txn.PostCommentPayload{Post: post, Text: text}, err
			}),
			instruction("upvote-comment", "add upvotes to a comment", "COMMENT AMOUNT", nil, func(cmd *cli.Context) (txn.Kind, any, error) {
				comment, err := arg(cmd, 0, "COMMENT")
				if err != nil {
					return "", nil, err
				}
				amount, err := arg(cmd, 1, "AMOUNT")
				return txn.KindUpvoteComment, txn.UpvoteCommentPayload{Comment: comment, Amount: amount}, err
			}),
			{
				Name:      "show",
				Usage:     "print ledger records",
				ArgsUsage: "root | post-store | posts | post ADDR | comment-store POST | comments POST | comment ADDR | stats",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 25},
				},
				Action: withRuntime(show),
			},
			{
				Name:      "balance",
				Usage:     "print a wallet balance",
				ArgsUsage: "[ADDRESS]",
				Action:    withRuntime(balance),
			},
			{
				Name:      "submit",
				Usage:     "apply signed transactions, one JSON object per line",
				ArgsUsage: "[FILE|-]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "metrics-addr",
						EnvVars: []string{"SENDDIT_METRICS_ADDR"},
						Value:   cfg.MetricsAddr,
					},
				},
				Action: withRuntime(submit),
			},
		},
		ErrWriter: os.Stderr,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// instruction builds a command that signs kind with the configured keypair
// and either applies it or, with --sign-only, prints the signed transaction.
func instruction(name, usage, argsUsage string, flags []cli.Flag, build func(cmd *cli.Context) (txn.Kind, any, error)) *cli.Command {
	flags = append(flags, &cli.BoolFlag{Name: "sign-only", Usage: "print the signed transaction instead of applying it"})
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Flags:     flags,
		Action: func(cmd *cli.Context) error {
			kind, payload, err := build(cmd)
			if err != nil {
				return err
			}
			kp, err := loadKeypair(cmd)
			if err != nil {
				return err
			}
			stx, err := txn.Build(kp, kind, payload)
			if err != nil {
				return err
			}

			if cmd.Bool("sign-only") {
				raw, err := stx.Encode()
				if err != nil {
					return err
				}
				fmt.Println(string(raw))
				return nil
			}

			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			res := rt.proc.Deliver(cmd.Context, stx)
			if !res.OK() {
				return fmt.Errorf("%s (code %d)", res.Log, res.Code)
			}
			fmt.Printf("✓ %s applied\n", kind)
			return printJSON(res.Data)
		},
	}
}

func keygen(cmd *cli.Context) error {
	path := cmd.String("keypair")
	_, statErr := os.Stat(path)
	kp, err := identity.LoadOrCreate(path, cmd.String("alg"))
	if err != nil {
		return err
	}
	if os.IsNotExist(statErr) {
		fmt.Printf("✓ Created %s keypair at %s\n", kp.Alg(), path)
	} else {
		fmt.Printf("✓ Loaded %s keypair from %s\n", kp.Alg(), path)
	}
	fmt.Printf("  Address: %s\n", kp.Address())
	return nil
}

func showAddresses(ctx context.Context, cmd *cli.Context, rt *runtime) error {
	kp, err := loadKeypair(cmd)
	if err != nil {
		return err
	}
	fmt.Printf("Keypair:    %s (%s)\n", kp.Address(), kp.Alg())
	fmt.Printf("Program:    %s\n", rt.program.ProgramID())
	fmt.Printf("Root:       %s\n", rt.program.RootAddress())
	fmt.Printf("Post store: %s\n", rt.program.PostStoreAddress())
	return nil
}

func airdrop(ctx context.Context, cmd *cli.Context, rt *runtime) error {
	amount, err := arg(cmd, 0, "LAMPORTS")
	if err != nil {
		return err
	}
	lamports, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid lamports %q", amount)
	}
	to := cmd.Args().Get(1)
	if to == "" {
		kp, err := loadKeypair(cmd)
		if err != nil {
			return err
		}
		to = kp.Address()
	}

	balance, err := rt.program.Airdrop(ctx, to, lamports)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Airdropped %s lamports to %s\n", humanize.Comma(int64(lamports)), to)
	fmt.Printf("  Balance: %s lamports\n", humanize.Comma(int64(balance)))
	return nil
}

func balance(ctx context.Context, cmd *cli.Context, rt *runtime) error {
	addr := cmd.Args().First()
	if addr == "" {
		kp, err := loadKeypair(cmd)
		if err != nil {
			return err
		}
		addr = kp.Address()
	}
	lamports, err := rt.reader.Balance(ctx, addr)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s lamports\n", addr, humanize.Comma(int64(lamports)))
	return nil
}

func show(ctx context.Context, cmd *cli.Context, rt *runtime) error {
	what := cmd.Args().First()
	target := cmd.Args().Get(1)
	needTarget := func(name string) error {
		if target == "" {
			return fmt.Errorf("show %s requires %s", what, name)
		}
		return nil
	}

	var (
		v   any
		err error
	)
	switch what {
	case "", "root":
		root, e := rt.reader.RootConfig(ctx)
		if e == nil {
			fmt.Printf("Fees: post %s, comment %s lamports\n", humanize.Comma(int64(root.PostFee)), humanize.Comma(int64(root.CommentFee)))
		}
		v, err = root, e
	case "post-store":
		v, err = rt.reader.PostStore(ctx)
	case "posts":
		v, err = rt.reader.ListPosts(ctx, cmd.Int("limit"))
	case "post":
		if err := needTarget("ADDR"); err != nil {
			return err
		}
		v, err = rt.reader.Post(ctx, target)
	case "comment-store":
		if err := needTarget("POST"); err != nil {
			return err
		}
		v, err = rt.reader.CommentStore(ctx, target)
	case "comments":
		if err := needTarget("POST"); err != nil {
			return err
		}
		v, err = rt.reader.ListComments(ctx, target)
	case "comment":
		if err := needTarget("ADDR"); err != nil {
			return err
		}
		v, err = rt.reader.Comment(ctx, target)
	case "stats":
		v, err = rt.program.Stats(ctx)
	default:
		return fmt.Errorf("unknown record %q", what)
	}
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return printJSON(raw)
}

func submit(ctx context.Context, cmd *cli.Context, rt *runtime) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr := cmd.String("metrics-addr"); addr != "" {
		metrics.Serve(ctx, addr, rt.logger)
	}

	var in io.Reader = os.Stdin
	if path := cmd.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	applied, failed, err := rt.proc.Stream(ctx, in, os.Stdout)
	rt.logger.Info("submit finished", "applied", applied, "failed", failed)
	fmt.Fprintf(os.Stderr, "✓ %d applied, %d failed\n", applied, failed)
	return err
}

func arg(cmd *cli.Context, i int, name string) (string, error) {
	v := cmd.Args().Get(i)
	if v == "" {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return v, nil
}

func printJSON(raw []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}
