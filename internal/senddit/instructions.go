package senddit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/alphabot-ai/senddit/internal/model"
	"github.com/alphabot-ai/senddit/internal/store"
)

// maxCounter is the largest value a persisted counter can hold.
const maxCounter = math.MaxInt64

// Initialize creates the root config with the caller as authority.
func (p *Program) Initialize(ctx context.Context, authority, treasury string) (model.RootConfig, error) {
	if _, err := parseAddress("authority", authority); err != nil {
		return model.RootConfig{}, err
	}
	if _, err := parseAddress("treasury", treasury); err != nil {
		return model.RootConfig{}, err
	}
	if p.cfg.PostFee > maxCounter || p.cfg.CommentFee > maxCounter {
		return model.RootConfig{}, fmt.Errorf("%w: fee exceeds %d lamports", ErrInvalidInput, int64(maxCounter))
	}

	root := model.RootConfig{
		Address:    p.root.String(),
		Authority:  authority,
		Treasury:   treasury,
		PostFee:    p.cfg.PostFee,
		CommentFee: p.cfg.CommentFee,
		CreatedAt:  p.now(),
	}
	err := p.store.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.GetRootConfig(ctx, root.Address); err == nil {
			return fmt.Errorf("%w: root config %s", ErrAlreadyInitialized, root.Address)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.CreateRootConfig(ctx, &root); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return fmt.Errorf("%w: root config %s", ErrAlreadyInitialized, root.Address)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.RootConfig{}, err
	}

	p.logger.Debug("root config initialized", "address", root.Address, "authority", authority, "treasury", treasury)
	return root, nil
}

// InitPostStore opens the post ledger. Only the root authority may call it.
func (p *Program) InitPostStore(ctx context.Context, authority string) (model.PostStore, error) {
	if _, err := parseAddress("authority", authority); err != nil {
		return model.PostStore{}, err
	}

	var ps model.PostStore
	err := p.store.Update(ctx, func(tx store.Tx) error {
		root, err := p.loadRoot(ctx, tx)
		if err != nil {
			return err
		}
		if authority != root.Authority {
			return fmt.Errorf("%w: %s is not the platform authority", ErrUnauthorized, authority)
		}
		if _, err := tx.GetPostStore(ctx, p.postStore.String()); err == nil {
			return fmt.Errorf("%w: post store %s", ErrAlreadyInitialized, p.postStore)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		ps = model.PostStore{
			Address:   p.postStore.String(),
			Root:      root.Address,
			Authority: authority,
			CreatedAt: p.now(),
		}
		if err := tx.CreatePostStore(ctx, &ps); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return fmt.Errorf("%w: post store %s", ErrAlreadyInitialized, p.postStore)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.PostStore{}, err
	}

	p.logger.Debug("post store initialized", "address", ps.Address)
	return ps, nil
}

// InitCommentStore opens the comment ledger for one post. Only the root
// authority may call it, and the post must already exist.
func (p *Program) InitCommentStore(ctx context.Context, authority, post string) (model.CommentStore, error) {
	if _, err := parseAddress("authority", authority); err != nil {
		return model.CommentStore{}, err
	}
	postAddr, err := parseAddress("post", post)
	if err != nil {
		return model.CommentStore{}, err
	}
	csAddr := p.commentStoreFor(postAddr).String()

	var cs model.CommentStore
	err = p.store.Update(ctx, func(tx store.Tx) error {
		root, err := p.loadRoot(ctx, tx)
		if err != nil {
			return err
		}
		if authority != root.Authority {
			return fmt.Errorf("%w: %s is not the platform authority", ErrUnauthorized, authority)
		}
		if _, err := tx.GetPost(ctx, post); errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: post %s", ErrNotInitialized, post)
		} else if err != nil {
			return err
		}
		if _, err := tx.GetCommentStore(ctx, csAddr); err == nil {
			return fmt.Errorf("%w: comment store %s", ErrAlreadyInitialized, csAddr)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		cs = model.CommentStore{
			Address:   csAddr,
			Post:      post,
			Authority: authority,
			CreatedAt: p.now(),
		}
		if err := tx.CreateCommentStore(ctx, &cs); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return fmt.Errorf("%w: comment store %s", ErrAlreadyInitialized, csAddr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.CommentStore{}, err
	}

	p.logger.Debug("comment store initialized", "address", cs.Address, "post", post)
	return cs, nil
}

// PostLink charges the poster the post fee and appends a new post to the
// post ledger at the ledger's current count.
func (p *Program) PostLink(ctx context.Context, poster, link string) (model.Post, error) {
	if err := validateText("link", link, MaxLinkBytes); err != nil {
		return model.Post{}, err
	}
	if _, err := parseAddress("poster", poster); err != nil {
		return model.Post{}, err
	}

	var post model.Post
	err := p.store.Update(ctx, func(tx store.Tx) error {
		root, err := p.loadRoot(ctx, tx)
		if err != nil {
			return err
		}
		ps, err := tx.GetPostStore(ctx, p.postStore.String())
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: post store %s", ErrNotInitialized, p.postStore)
		} else if err != nil {
			return err
		}
		if _, err := tx.FindPostByLink(ctx, link); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateLink, link)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if ps.Posts >= maxCounter {
			return fmt.Errorf("%w: post store is full", ErrOverflow)
		}
		if err := p.payFee(ctx, tx, poster, root.Treasury, root.PostFee); err != nil {
			return err
		}

		post = model.Post{
			Address:   p.deriveIndexed(p.postStore, ps.Posts).String(),
			Store:     ps.Address,
			Index:     ps.Posts,
			Authority: poster,
			Link:      link,
			CreatedAt: p.now(),
		}
		if err := tx.CreatePost(ctx, &post); err != nil {
			if errors.Is(err, store.ErrDuplicateLink) {
				return fmt.Errorf("%w: %s", ErrDuplicateLink, link)
			}
			return err
		}
		return tx.AdvancePostStore(ctx, ps.Address, ps.Posts)
	})
	if err != nil {
		return model.Post{}, err
	}

	p.logger.Debug("post created", "address", post.Address, "index", post.Index, "poster", poster)
	return post, nil
}

// PostComment charges the commenter the comment fee and appends a comment to
// the post's own comment ledger.
func (p *Program) PostComment(ctx context.Context, commenter, post, text string) (model.Comment, error) {
	if err := validateText("comment", text, MaxCommentBytes); err != nil {
		return model.Comment{}, err
	}
	if _, err := parseAddress("commenter", commenter); err != nil {
		return model.Comment{}, err
	}
	postAddr, err := parseAddress("post", post)
	if err != nil {
		return model.Comment{}, err
	}
	csAddr := p.commentStoreFor(postAddr)

	var comment model.Comment
	err = p.store.Update(ctx, func(tx store.Tx) error {
		root, err := p.loadRoot(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := tx.GetPost(ctx, post); errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: post %s", ErrNotInitialized, post)
		} else if err != nil {
			return err
		}
		cs, err := tx.GetCommentStore(ctx, csAddr.String())
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: comment store for post %s", ErrNotInitialized, post)
		} else if err != nil {
			return err
		}
		if cs.Post != post {
			return fmt.Errorf("%w: comment store %s belongs to post %s", ErrNotInitialized, cs.Address, cs.Post)
		}
		if cs.Comments >= maxCounter {
			return fmt.Errorf("%w: comment store is full", ErrOverflow)
		}
		if err := p.payFee(ctx, tx, commenter, root.Treasury, root.CommentFee); err != nil {
			return err
		}

		comment = model.Comment{
			Address:   p.deriveIndexed(csAddr, cs.Comments).String(),
			Store:     cs.Address,
			Post:      post,
			Index:     cs.Comments,
			Authority: commenter,
			Text:      text,
			CreatedAt: p.now(),
		}
		if err := tx.CreateComment(ctx, &comment); err != nil {
			return err
		}
		if err := tx.AdvanceCommentStore(ctx, cs.Address, cs.Comments); err != nil {
			return err
		}
		return tx.IncrementPostComments(ctx, post)
	})
	if err != nil {
		return model.Comment{}, err
	}

	p.logger.Debug("comment created", "address", comment.Address, "post", post, "index", comment.Index)
	return comment, nil
}

// UpvotePost adds the decimal amount to the post's upvote counter. No fee is
// charged.
func (p *Program) UpvotePost(ctx context.Context, voter, post, amount string) (model.Post, error) {
	delta, err := p.parseUpvote(voter, post, amount)
	if err != nil {
		return model.Post{}, err
	}

	var updated model.Post
	err = p.store.Update(ctx, func(tx store.Tx) error {
		current, err := tx.GetPost(ctx, post)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: post %s: %w", ErrNotInitialized, post, err)
		} else if err != nil {
			return err
		}
		if err := p.checkVote(ctx, tx, model.TargetPost, post, voter, current.Upvotes, delta); err != nil {
			return err
		}
		if err := tx.AddPostUpvotes(ctx, post, delta); err != nil {
			return err
		}
		if err := p.recordVote(ctx, tx, model.TargetPost, post, voter, delta); err != nil {
			return err
		}
		updated, err = tx.GetPost(ctx, post)
		return err
	})
	if err != nil {
		return model.Post{}, err
	}

	p.logger.Debug("post upvoted", "address", post, "voter", voter, "amount", delta, "upvotes", updated.Upvotes)
	return updated, nil
}

// UpvoteComment adds the decimal amount to the comment's upvote counter.
func (p *Program) UpvoteComment(ctx context.Context, voter, comment, amount string) (model.Comment, error) {
	delta, err := p.parseUpvote(voter, comment, amount)
	if err != nil {
		return model.Comment{}, err
	}

	var updated model.Comment
	err = p.store.Update(ctx, func(tx store.Tx) error {
		current, err := tx.GetComment(ctx, comment)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: comment %s: %w", ErrNotInitialized, comment, err)
		} else if err != nil {
			return err
		}
		if err := p.checkVote(ctx, tx, model.TargetComment, comment, voter, current.Upvotes, delta); err != nil {
			return err
		}
		if err := tx.AddCommentUpvotes(ctx, comment, delta); err != nil {
			return err
		}
		if err := p.recordVote(ctx, tx, model.TargetComment, comment, voter, delta); err != nil {
			return err
		}
		updated, err = tx.GetComment(ctx, comment)
		return err
	})
	if err != nil {
		return model.Comment{}, err
	}

	p.logger.Debug("comment upvoted", "address", comment, "voter", voter, "amount", delta, "upvotes", updated.Upvotes)
	return updated, nil
}

func (p *Program) parseUpvote(voter, target, amount string) (uint64, error) {
	if _, err := parseAddress("voter", voter); err != nil {
		return 0, err
	}
	if _, err := parseAddress("target", target); err != nil {
		return 0, err
	}
	delta, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: upvote amount %q is not a non-negative integer", ErrInvalidInput, amount)
	}
	if p.cfg.MaxUpvote > 0 && delta > p.cfg.MaxUpvote {
		return 0, fmt.Errorf("%w: upvote amount %d exceeds maximum %d", ErrInvalidInput, delta, p.cfg.MaxUpvote)
	}
	return delta, nil
}

func (p *Program) checkVote(ctx context.Context, tx store.Tx, targetType, target, voter string, current, delta uint64) error {
	if p.cfg.OneVotePerIdentity {
		voted, err := tx.HasVoted(ctx, targetType, target, voter)
		if err != nil {
			return err
		}
		if voted {
			return fmt.Errorf("%w: %s already voted on %s %s", ErrAlreadyVoted, voter, targetType, target)
		}
	}
	if current > maxCounter || delta > maxCounter-current {
		return fmt.Errorf("%w: %s %s upvotes %d + %d", ErrOverflow, targetType, target, current, delta)
	}
	return nil
}

func (p *Program) recordVote(ctx context.Context, tx store.Tx, targetType, target, voter string, delta uint64) error {
	return tx.CreateVote(ctx, &model.Vote{
		TargetType: targetType,
		Target:     target,
		Voter:      voter,
		Amount:     delta,
		CreatedAt:  p.now(),
	})
}

func validateText(what, s string, max int) error {
	if len(s) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidInput, what)
	}
	if len(s) > max {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrInvalidInput, what, len(s), max)
	}
	return nil
}
