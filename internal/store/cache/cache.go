// Package cache puts a redis read-through layer in front of ledger lookups.
// Redis failures are logged and fall through to the underlying reader, so a
// cache outage only costs latency.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alphabot-ai/senddit/internal/metrics"
	"github.com/alphabot-ai/senddit/internal/model"
	"github.com/alphabot-ai/senddit/internal/senddit"

	"github.com/redis/go-redis/v9"
)

// Keys are prefix + tag + address so records of different types never share
// a key.
const (
	rootTag         = "root:"
	postStoreTag    = "ps:"
	postTag         = "post:"
	commentTag      = "comment:"
	commentStoreTag = "cs:"
)

var tags = []string{rootTag, postStoreTag, postTag, commentTag, commentStoreTag}

type Cache struct {
	logger *slog.Logger
	client redis.UniversalClient
	next   senddit.Reader
	ttl    time.Duration
	prefix string

	root      string
	postStore string
}

type Args struct {
	Logger *slog.Logger
	Client redis.UniversalClient
	Next   senddit.Reader
	TTL    time.Duration
	Prefix string
	// Root and PostStore are the singleton addresses of the program behind Next.
	Root      string
	PostStore string
}

var _ senddit.Reader = (*Cache)(nil)

func New(args *Args) *Cache {
	logger := args.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := args.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	prefix := args.Prefix
	if prefix == "" {
		prefix = "senddit:"
	}
	return &Cache{
		logger:    logger.With("component", "cache"),
		client:    args.Client,
		next:      args.Next,
		ttl:       ttl,
		prefix:    prefix,
		root:      args.Root,
		postStore: args.PostStore,
	}
}

// Dial connects to a single redis node and checks it answers.
func Dial(ctx context.Context, addr, password string) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (c *Cache) RootConfig(ctx context.Context) (model.RootConfig, error) {
	return fetch(ctx, c, c.key(rootTag, c.root), c.next.RootConfig)
}

func (c *Cache) PostStore(ctx context.Context) (model.PostStore, error) {
	return fetch(ctx, c, c.key(postStoreTag, c.postStore), c.next.PostStore)
}

func (c *Cache) Post(ctx context.Context, address string) (model.Post, error) {
	return fetch(ctx, c, c.key(postTag, address), func(ctx context.Context) (model.Post, error) {
		return c.next.Post(ctx, address)
	})
}

func (c *Cache) CommentStore(ctx context.Context, post string) (model.CommentStore, error) {
	return fetch(ctx, c, c.key(commentStoreTag, post), func(ctx context.Context) (model.CommentStore, error) {
		return c.next.CommentStore(ctx, post)
	})
}

func (c *Cache) Comment(ctx context.Context, address string) (model.Comment, error) {
	return fetch(ctx, c, c.key(commentTag, address), func(ctx context.Context) (model.Comment, error) {
		return c.next.Comment(ctx, address)
	})
}

// Balance is not cached; every fee changes it.
func (c *Cache) Balance(ctx context.Context, address string) (uint64, error) {
	return c.next.Balance(ctx, address)
}

func (c *Cache) ListPosts(ctx context.Context, limit int) ([]model.Post, error) {
	return c.next.ListPosts(ctx, limit)
}

func (c *Cache) ListComments(ctx context.Context, post string) ([]model.Comment, error) {
	return c.next.ListComments(ctx, post)
}

// Invalidate drops every cached record keyed by the given addresses. A post
// address also drops the cached comment store looked up by that post.
func (c *Cache) Invalidate(ctx context.Context, addresses ...string) error {
	if len(addresses) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags)*len(addresses))
	for _, a := range addresses {
		for _, tag := range tags {
			keys = append(keys, c.key(tag, a))
		}
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) key(tag, address string) string {
	return c.prefix + tag + address
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func fetch[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return v, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key)
	case errors.Is(err, redis.Nil):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := c.client.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
	return v, nil
}
