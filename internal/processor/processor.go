// Package processor runs signed transactions against a senddit Program. It
// mirrors a ledger runtime's CheckTx/DeliverTx split: CheckTx decodes and
// authenticates a transaction without touching state, DeliverTx additionally
// consumes the nonce, applies rate limits and dispatches the instruction.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alphabot-ai/senddit/internal/config"
	"github.com/alphabot-ai/senddit/internal/metrics"
	"github.com/alphabot-ai/senddit/internal/model"
	"github.com/alphabot-ai/senddit/internal/rate"
	"github.com/alphabot-ai/senddit/internal/senddit"
	"github.com/alphabot-ai/senddit/internal/store"
	"github.com/alphabot-ai/senddit/internal/txn"
)

const (
	CodeOK                 uint32 = 0
	CodeEncodingError      uint32 = 1
	CodeAuthError          uint32 = 2
	CodeInvalidTx          uint32 = 3
	CodeStale              uint32 = 4
	CodeReplay             uint32 = 5
	CodeRateLimited        uint32 = 6
	CodeUnauthorized       uint32 = 7
	CodeAlreadyInitialized uint32 = 8
	CodeNotInitialized     uint32 = 9
	CodeInsufficientFunds  uint32 = 10
	CodeDuplicateLink      uint32 = 11
	CodeOverflow           uint32 = 12
	CodeAlreadyVoted       uint32 = 13
	CodeConflict           uint32 = 14
	CodeInternal           uint32 = 99
)

type Result struct {
	Code   uint32          `json:"code"`
	Log    string          `json:"log,omitempty"`
	Kind   txn.Kind        `json:"kind,omitempty"`
	Signer string          `json:"signer,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (r Result) OK() bool { return r.Code == CodeOK }

// Invalidator drops cached copies of records an instruction changed.
type Invalidator interface {
	Invalidate(ctx context.Context, addresses ...string) error
}

type Args struct {
	Logger      *slog.Logger
	Program     *senddit.Program
	Store       store.Store
	Limiter     rate.Limiter
	RateLimits  config.RateLimits
	MaxAge      time.Duration
	Invalidator Invalidator
	Now         func() time.Time
}

type Processor struct {
	logger      *slog.Logger
	program     *senddit.Program
	store       store.Store
	limiter     rate.Limiter
	limits      config.RateLimits
	maxAge      time.Duration
	invalidator Invalidator
	now         func() time.Time
}

func New(args *Args) (*Processor, error) {
	if args.Program == nil || args.Store == nil {
		return nil, errors.New("processor: program and store are required")
	}
	logger := args.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := args.Limiter
	if limiter == nil {
		limiter = rate.NewMemory()
	}
	now := args.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		logger:      logger.With("component", "processor"),
		program:     args.Program,
		store:       args.Store,
		limiter:     limiter,
		limits:      args.RateLimits,
		maxAge:      args.MaxAge,
		invalidator: args.Invalidator,
		now:         now,
	}, nil
}

// CheckTx authenticates raw without changing ledger state.
func (p *Processor) CheckTx(ctx context.Context, raw []byte) (txn.SignedTransaction, txn.Transaction, string, Result) {
	stx, err := txn.Decode(raw)
	if err != nil {
		return stx, txn.Transaction{}, "", p.reject("encoding", CodeEncodingError, err)
	}
	tx, signer, res := p.check(stx)
	return stx, tx, signer, res
}

func (p *Processor) check(stx txn.SignedTransaction) (txn.Transaction, string, Result) {
	tx, signer, err := stx.Verify()
	switch {
	case errors.Is(err, txn.ErrSignature):
		return tx, "", p.reject("signature", CodeAuthError, err)
	case errors.Is(err, txn.ErrUnknownKind):
		return tx, "", p.reject("unknown_kind", CodeInvalidTx, err)
	case err != nil:
		return tx, "", p.reject("encoding", CodeEncodingError, err)
	}

	if p.maxAge > 0 {
		age := p.now().Sub(tx.Timestamp)
		if age > p.maxAge || age < -p.maxAge {
			return tx, signer, p.reject("stale", CodeStale, fmt.Errorf("transaction timestamp %s is outside the %s window", tx.Timestamp.Format(time.RFC3339), p.maxAge))
		}
	}
	return tx, signer, Result{Code: CodeOK, Kind: tx.Kind, Signer: signer}
}

// DeliverTx authenticates raw and applies it.
func (p *Processor) DeliverTx(ctx context.Context, raw []byte) Result {
	stx, tx, signer, res := p.CheckTx(ctx, raw)
	if !res.OK() {
		return res
	}
	return p.apply(ctx, stx, tx, signer)
}

// Deliver applies an already decoded transaction.
func (p *Processor) Deliver(ctx context.Context, stx txn.SignedTransaction) Result {
	tx, signer, res := p.check(stx)
	if !res.OK() {
		return res
	}
	return p.apply(ctx, stx, tx, signer)
}

// apply consumes the signer's nonce before dispatch, so a transaction that
// fails is not retried by resending it; the client signs a fresh one.
func (p *Processor) apply(ctx context.Context, stx txn.SignedTransaction, tx txn.Transaction, signer string) Result {
	err := p.store.Update(ctx, func(t store.Tx) error {
		return t.RecordTransaction(ctx, model.ProcessedTx{
			Signer:    signer,
			Nonce:     tx.Nonce,
			Signature: stx.Signature,
			Kind:      string(tx.Kind),
			CreatedAt: p.now(),
		})
	})
	if errors.Is(err, store.ErrDuplicateTransaction) {
		return p.reject("replay", CodeReplay, fmt.Errorf("transaction %s from %s already processed", tx.Nonce, signer))
	} else if err != nil {
		return p.reject("internal", CodeInternal, err)
	}

	if limit := p.limitFor(tx.Kind); limit > 0 {
		if ok, retry := p.limiter.Allow(signer+":"+string(tx.Kind), limit, time.Minute); !ok {
			return p.reject("rate_limited", CodeRateLimited, fmt.Errorf("rate limit exceeded for %s, retry in %s", tx.Kind, retry.Round(time.Second)))
		}
	}

	start := time.Now()
	data, touched, err := p.dispatch(ctx, signer, tx)
	metrics.InstructionDuration.WithLabelValues(string(tx.Kind)).Observe(time.Since(start).Seconds())

	code := codeFor(err)
	metrics.Instructions.WithLabelValues(string(tx.Kind), strconv.FormatUint(uint64(code), 10)).Inc()
	if err != nil {
		p.logger.Warn("instruction failed", "kind", tx.Kind, "signer", signer, "code", code, "error", err)
		return Result{Code: code, Log: err.Error(), Kind: tx.Kind, Signer: signer}
	}
	p.logger.Info("instruction applied", "kind", tx.Kind, "signer", signer, "code", code)

	if p.invalidator != nil && len(touched) > 0 {
		if err := p.invalidator.Invalidate(ctx, touched...); err != nil {
			p.logger.Warn("cache invalidation failed", "kind", tx.Kind, "error", err)
		}
	}
	p.recordFee(ctx, tx.Kind)

	raw, err := json.Marshal(data)
	if err != nil {
		return Result{Code: CodeInternal, Log: err.Error(), Kind: tx.Kind, Signer: signer}
	}
	return Result{Code: CodeOK, Kind: tx.Kind, Signer: signer, Data: raw}
}

// dispatch runs the instruction and returns its record plus the addresses it
// modified.
func (p *Processor) dispatch(ctx context.Context, signer string, tx txn.Transaction) (any, []string, error) {
	switch tx.Kind {
	case txn.KindInitialize:
		var payload txn.InitializePayload
		if err := tx.DecodePayload(&payload); err != nil {
			return nil, nil, err
		}
		root, err := p.program.Initialize(ctx, signer, payload.Treasury)
		return root, []string{root.Address}, err

	case txn.KindInitPostStore:
		ps, err := p.program.InitPostStore(ctx, signer)
		return ps, []string{ps.Address}, err

	case txn.KindInitCommentStore:
		var payload txn.InitCommentStorePayload
		if err := tx.DecodePayload(&payload); err != nil {
			return nil, nil, err
		}
		cs, err := p.program.InitCommentStore(ctx, signer, payload.Post)
		return cs, []string{payload.Post}, err

	case txn.KindPostLink:
		var payload txn.PostLinkPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return nil, nil, err
		}
		post, err := p.program.PostLink(ctx, signer, payload.Link)
		return post, []string{p.program.PostStoreAddress(), post.Address}, err

	case txn.KindUpvotePost:
		var payload txn.UpvotePostPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return nil, nil, err
		}
		post, err := p.program.UpvotePost(ctx, signer, payload.Post, payload.Amount)
		return post, []string{payload.Post}, err

	case txn.KindPostComment:
		var payload txn.PostCommentPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return nil, nil, err
		}
		comment, err := p.program.PostComment(ctx, signer, payload.Post, payload.Text)
		return comment, []string{payload.Post, comment.Address}, err

	case txn.KindUpvoteComment:
		var payload txn.UpvoteCommentPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return nil, nil, err
		}
		comment, err := p.program.UpvoteComment(ctx, signer, payload.Comment, payload.Amount)
		return comment, []string{payload.Comment}, err

	default:
		return nil, nil, fmt.Errorf("%w: %s", txn.ErrUnknownKind, tx.Kind)
	}
}

func (p *Processor) limitFor(kind txn.Kind) int {
	switch kind {
	case txn.KindPostLink:
		return p.limits.PostPerMinute
	case txn.KindPostComment:
		return p.limits.CommentPerMinute
	case txn.KindUpvotePost, txn.KindUpvoteComment:
		return p.limits.VotePerMinute
	default:
		return 0
	}
}

func (p *Processor) recordFee(ctx context.Context, kind txn.Kind) {
	if kind != txn.KindPostLink && kind != txn.KindPostComment {
		return
	}
	root, err := p.program.RootConfig(ctx)
	if err != nil {
		return
	}
	if kind == txn.KindPostLink {
		metrics.FeesCollected.Add(float64(root.PostFee))
	} else {
		metrics.FeesCollected.Add(float64(root.CommentFee))
	}
}

func (p *Processor) reject(reason string, code uint32, err error) Result {
	metrics.Rejected.WithLabelValues(reason).Inc()
	p.logger.Warn("transaction rejected", "reason", reason, "code", code, "error", err)
	return Result{Code: code, Log: err.Error()}
}

func codeFor(err error) uint32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, senddit.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, senddit.ErrAlreadyInitialized):
		return CodeAlreadyInitialized
	case errors.Is(err, senddit.ErrNotInitialized):
		return CodeNotInitialized
	case errors.Is(err, senddit.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, senddit.ErrDuplicateLink):
		return CodeDuplicateLink
	case errors.Is(err, senddit.ErrOverflow):
		return CodeOverflow
	case errors.Is(err, senddit.ErrAlreadyVoted):
		return CodeAlreadyVoted
	case errors.Is(err, senddit.ErrInvalidInput), errors.Is(err, txn.ErrEncoding), errors.Is(err, txn.ErrUnknownKind):
		return CodeInvalidTx
	case errors.Is(err, store.ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}
