package store

import (
	"context"
	"errors"

	"github.com/alphabot-ai/senddit/internal/model"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrConflict             = errors.New("concurrent update conflict")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateLink        = errors.New("duplicate link")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

// Store runs units of work against persistent ledger state. Every call to
// Update is atomic: either all writes made through the Tx commit or none do.
// Update calls are serialized with each other.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type Tx interface {
	ConfigStore
	PostStore
	CommentStore
	VoteStore
	WalletStore
	TransactionLog
	Stats(ctx context.Context) (model.LedgerStats, error)
}

type ConfigStore interface {
	GetRootConfig(ctx context.Context, address string) (model.RootConfig, error)
	CreateRootConfig(ctx context.Context, cfg *model.RootConfig) error
}

type PostStore interface {
	GetPostStore(ctx context.Context, address string) (model.PostStore, error)
	CreatePostStore(ctx context.Context, ps *model.PostStore) error
	// AdvancePostStore moves the post counter from expected to expected+1.
	// It returns ErrConflict if the counter no longer equals expected.
	AdvancePostStore(ctx context.Context, address string, expected uint64) error

	GetPost(ctx context.Context, address string) (model.Post, error)
	FindPostByLink(ctx context.Context, link string) (model.Post, error)
	CreatePost(ctx context.Context, post *model.Post) error
	ListPosts(ctx context.Context, store string, limit int) ([]model.Post, error)
	AddPostUpvotes(ctx context.Context, address string, delta uint64) error
	IncrementPostComments(ctx context.Context, address string) error
}

type CommentStore interface {
	GetCommentStore(ctx context.Context, address string) (model.CommentStore, error)
	CreateCommentStore(ctx context.Context, cs *model.CommentStore) error
	AdvanceCommentStore(ctx context.Context, address string, expected uint64) error

	GetComment(ctx context.Context, address string) (model.Comment, error)
	CreateComment(ctx context.Context, comment *model.Comment) error
	ListComments(ctx context.Context, post string) ([]model.Comment, error)
	AddCommentUpvotes(ctx context.Context, address string, delta uint64) error
}

type VoteStore interface {
	CreateVote(ctx context.Context, vote *model.Vote) error
	HasVoted(ctx context.Context, targetType, target, voter string) (bool, error)
}

type WalletStore interface {
	Balance(ctx context.Context, address string) (uint64, error)
	Credit(ctx context.Context, address string, lamports uint64) error
	// Transfer moves lamports between wallets, failing with
	// ErrInsufficientFunds when the payer's balance is too low.
	Transfer(ctx context.Context, from, to string, lamports uint64) error
}

type TransactionLog interface {
	RecordTransaction(ctx context.Context, t model.ProcessedTx) error
}
