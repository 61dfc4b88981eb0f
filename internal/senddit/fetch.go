package senddit

import (
	"context"
	"fmt"
	"math"

	"github.com/alphabot-ai/senddit/internal/model"
	"github.com/alphabot-ai/senddit/internal/store"
)

// Reader is the read side of a Program. Lookups of missing records return
// store.ErrNotFound.
type Reader interface {
	RootConfig(ctx context.Context) (model.RootConfig, error)
	PostStore(ctx context.Context) (model.PostStore, error)
	Post(ctx context.Context, address string) (model.Post, error)
	CommentStore(ctx context.Context, post string) (model.CommentStore, error)
	Comment(ctx context.Context, address string) (model.Comment, error)
	Balance(ctx context.Context, address string) (uint64, error)
	ListPosts(ctx context.Context, limit int) ([]model.Post, error)
	ListComments(ctx context.Context, post string) ([]model.Comment, error)
}

var _ Reader = (*Program)(nil)

func (p *Program) RootConfig(ctx context.Context) (model.RootConfig, error) {
	var root model.RootConfig
	err := p.store.View(ctx, func(tx store.Tx) error {
		var err error
		root, err = tx.GetRootConfig(ctx, p.root.String())
		return err
	})
	return root, err
}

func (p *Program) PostStore(ctx context.Context) (model.PostStore, error) {
	var ps model.PostStore
	err := p.store.View(ctx, func(tx store.Tx) error {
		var err error
		ps, err = tx.GetPostStore(ctx, p.postStore.String())
		return err
	})
	return ps, err
}

func (p *Program) Post(ctx context.Context, address string) (model.Post, error) {
	var post model.Post
	err := p.store.View(ctx, func(tx store.Tx) error {
		var err error
		post, err = tx.GetPost(ctx, address)
		return err
	})
	return post, err
}

func (p *Program) CommentStore(ctx context.Context, post string) (model.CommentStore, error) {
	csAddr, err := p.CommentStoreAddress(post)
	if err != nil {
		return model.CommentStore{}, err
	}
	var cs model.CommentStore
	err = p.store.View(ctx, func(tx store.Tx) error {
		var err error
		cs, err = tx.GetCommentStore(ctx, csAddr)
		return err
	})
	return cs, err
}

func (p *Program) Comment(ctx context.Context, address string) (model.Comment, error) {
	var comment model.Comment
	err := p.store.View(ctx, func(tx store.Tx) error {
		var err error
		comment, err = tx.GetComment(ctx, address)
		return err
	})
	return comment, err
}

func (p *Program) Balance(ctx context.Context, address string) (uint64, error) {
	var lamports uint64
	err := p.store.View(ctx, func(tx store.Tx) error {
		var err error
		lamports, err = tx.Balance(ctx, address)
		return err
	})
	return lamports, err
}

// ListPosts returns the newest posts first.
func (p *Program) ListPosts(ctx context.Context, limit int) ([]model.Post, error) {
	var posts []model.Post
	err := p.store.View(ctx, func(tx store.Tx) error {
		var err error
		posts, err = tx.ListPosts(ctx, p.postStore.String(), limit)
		return err
	})
	return posts, err
}

// ListComments returns a post's comments in ledger order.
func (p *Program) ListComments(ctx context.Context, post string) ([]model.Comment, error) {
	var comments []model.Comment
	err := p.store.View(ctx, func(tx store.Tx) error {
		var err error
		comments, err = tx.ListComments(ctx, post)
		return err
	})
	return comments, err
}

func (p *Program) Stats(ctx context.Context) (model.LedgerStats, error) {
	var stats model.LedgerStats
	err := p.store.View(ctx, func(tx store.Tx) error {
		var err error
		stats, err = tx.Stats(ctx)
		return err
	})
	return stats, err
}

// Airdrop credits lamports to a wallet so it can pay fees.
func (p *Program) Airdrop(ctx context.Context, address string, lamports uint64) (uint64, error) {
	if _, err := parseAddress("recipient", address); err != nil {
		return 0, err
	}
	if lamports == 0 {
		return 0, fmt.Errorf("%w: airdrop amount must be positive", ErrInvalidInput)
	}
	if lamports > math.MaxInt64 {
		return 0, fmt.Errorf("%w: airdrop amount %d too large", ErrInvalidInput, lamports)
	}

	var balance uint64
	err := p.store.Update(ctx, func(tx store.Tx) error {
		current, err := tx.Balance(ctx, address)
		if err != nil {
			return err
		}
		if lamports > math.MaxInt64-current {
			return fmt.Errorf("%w: balance of %s would exceed %d", ErrOverflow, address, int64(math.MaxInt64))
		}
		if err := tx.Credit(ctx, address, lamports); err != nil {
			return err
		}
		balance = current + lamports
		return nil
	})
	if err != nil {
		return 0, err
	}

	p.logger.Debug("airdrop", "address", address, "lamports", lamports, "balance", balance)
	return balance, nil
}
