// Package senddit is the ledger state machine for the senddit link board.
// A Program owns one root config, one post ledger, one comment ledger per
// post, and the posts and comments anchored under them. Every mutating call
// runs as a single store transaction: it either applies completely or leaves
// no trace.
package senddit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alphabot-ai/senddit/internal/address"
	"github.com/alphabot-ai/senddit/internal/model"
	"github.com/alphabot-ai/senddit/internal/store"
)

const (
	MaxLinkBytes    = 196
	MaxCommentBytes = 192

	DefaultFee = 1_000_000

	rootSeed         = "senddit"
	postStoreSeed    = "post_store"
	commentStoreSeed = "comment_store"
)

type Config struct {
	ProgramID  address.Address
	PostFee    uint64
	CommentFee uint64
	// MaxUpvote caps a single upvote delta. Zero means unbounded.
	MaxUpvote          uint64
	OneVotePerIdentity bool
}

func DefaultConfig() Config {
	return Config{
		ProgramID:  address.ProgramID(rootSeed),
		PostFee:    DefaultFee,
		CommentFee: DefaultFee,
	}
}

type Args struct {
	Logger *slog.Logger
	Store  store.Store
	Config Config
	// Now overrides the clock for record timestamps.
	Now func() time.Time
}

type Program struct {
	logger *slog.Logger
	store  store.Store
	cfg    Config
	now    func() time.Time

	root      address.Address
	postStore address.Address
}

func New(args *Args) (*Program, error) {
	if args.Store == nil {
		return nil, errors.New("senddit: store is required")
	}
	cfg := args.Config
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = address.ProgramID(rootSeed)
	}

	logger := args.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := args.Now
	if now == nil {
		now = time.Now
	}

	root := address.Derive(cfg.ProgramID, []byte(rootSeed))
	return &Program{
		logger:    logger.With("component", "senddit"),
		store:     args.Store,
		cfg:       cfg,
		now:       now,
		root:      root,
		postStore: address.Derive(cfg.ProgramID, []byte(postStoreSeed), root[:]),
	}, nil
}

func (p *Program) ProgramID() string { return p.cfg.ProgramID.String() }

func (p *Program) RootAddress() string { return p.root.String() }

func (p *Program) PostStoreAddress() string { return p.postStore.String() }

// PostAddress is the address the post with the given ledger index lives at.
func (p *Program) PostAddress(index uint64) string {
	return p.deriveIndexed(p.postStore, index).String()
}

func (p *Program) CommentStoreAddress(post string) (string, error) {
	a, err := parseAddress("post", post)
	if err != nil {
		return "", err
	}
	return p.commentStoreFor(a).String(), nil
}

func (p *Program) CommentAddress(commentStore string, index uint64) (string, error) {
	a, err := parseAddress("comment store", commentStore)
	if err != nil {
		return "", err
	}
	return p.deriveIndexed(a, index).String(), nil
}

func (p *Program) commentStoreFor(post address.Address) address.Address {
	return address.Derive(p.cfg.ProgramID, []byte(commentStoreSeed), post[:])
}

func (p *Program) deriveIndexed(parent address.Address, index uint64) address.Address {
	return address.Derive(p.cfg.ProgramID, parent[:], []byte(strconv.FormatUint(index, 10)))
}

// loadRoot fetches the root config, mapping absence to ErrNotInitialized.
func (p *Program) loadRoot(ctx context.Context, tx store.Tx) (model.RootConfig, error) {
	root, err := tx.GetRootConfig(ctx, p.root.String())
	if errors.Is(err, store.ErrNotFound) {
		return model.RootConfig{}, fmt.Errorf("%w: root config %s", ErrNotInitialized, p.root)
	}
	return root, err
}

func (p *Program) payFee(ctx context.Context, tx store.Tx, payer, treasury string, fee uint64) error {
	err := tx.Transfer(ctx, payer, treasury, fee)
	if errors.Is(err, store.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %s cannot pay fee of %d lamports", ErrInsufficientFunds, payer, fee)
	}
	return err
}

func parseAddress(what, s string) (address.Address, error) {
	a, err := address.Parse(s)
	if err != nil {
		return a, fmt.Errorf("%w: %s address: %w", ErrInvalidInput, what, err)
	}
	return a, nil
}
