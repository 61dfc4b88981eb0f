package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alphabot-ai/senddit/internal/model"
	"github.com/alphabot-ai/senddit/internal/store"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed ledger. Writers are serialized through mu so a
// ledger counter is only ever advanced by one transaction at a time; readers
// share the lock and never see a half-applied instruction.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&txn{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&txn{tx: sqlTx})
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: ledger records
	`
CREATE TABLE IF NOT EXISTS root_configs (
	address TEXT PRIMARY KEY,
	authority TEXT NOT NULL,
	treasury TEXT NOT NULL,
	post_fee INTEGER NOT NULL,
	comment_fee INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS post_stores (
	address TEXT PRIMARY KEY,
	root TEXT NOT NULL,
	authority TEXT NOT NULL,
	posts INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(root) REFERENCES root_configs(address)
);

CREATE TABLE IF NOT EXISTS posts (
	address TEXT PRIMARY KEY,
	store TEXT NOT NULL,
	idx INTEGER NOT NULL,
	authority TEXT NOT NULL,
	link TEXT NOT NULL,
	upvotes INTEGER NOT NULL DEFAULT 0,
	comments INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(store) REFERENCES post_stores(address)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_store_idx ON posts(store, idx);
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_link ON posts(link);

CREATE TABLE IF NOT EXISTS comment_stores (
	address TEXT PRIMARY KEY,
	post TEXT NOT NULL UNIQUE,
	authority TEXT NOT NULL,
	comments INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(post) REFERENCES posts(address)
);

CREATE TABLE IF NOT EXISTS comments (
	address TEXT PRIMARY KEY,
	store TEXT NOT NULL,
	post TEXT NOT NULL,
	idx INTEGER NOT NULL,
	authority TEXT NOT NULL,
	text TEXT NOT NULL,
	upvotes INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(store) REFERENCES comment_stores(address),
	FOREIGN KEY(post) REFERENCES posts(address)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_comments_store_idx ON comments(store, idx);
CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post);

CREATE TABLE IF NOT EXISTS votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	target_type TEXT NOT NULL,
	target TEXT NOT NULL,
	voter TEXT NOT NULL,
	amount INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_votes_target_voter ON votes(target_type, target, voter);

CREATE TABLE IF NOT EXISTS wallets (
	address TEXT PRIMARY KEY,
	lamports INTEGER NOT NULL DEFAULT 0 CHECK (lamports >= 0)
);

CREATE TABLE IF NOT EXISTS transactions (
	signer TEXT NOT NULL,
	nonce TEXT NOT NULL,
	signature TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (signer, nonce)
);
`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

type txn struct {
	tx *sql.Tx
}

func (t *txn) GetRootConfig(ctx context.Context, address string) (model.RootConfig, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT address, authority, treasury, post_fee, comment_fee, created_at
FROM root_configs
WHERE address = ?
`, address)
	var c model.RootConfig
	var postFee, commentFee, created int64
	if err := row.Scan(&c.Address, &c.Authority, &c.Treasury, &postFee, &commentFee, &created); err != nil {
		return model.RootConfig{}, notFound(err)
	}
	c.PostFee = uint64(postFee)
	c.CommentFee = uint64(commentFee)
	c.CreatedAt = time.Unix(created, 0)
	return c, nil
}

func (t *txn) CreateRootConfig(ctx context.Context, c *model.RootConfig) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO root_configs (address, authority, treasury, post_fee, comment_fee, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, c.Address, c.Authority, c.Treasury, int64(c.PostFee), int64(c.CommentFee), c.CreatedAt.Unix())
	return insertErr(err)
}

func (t *txn) GetPostStore(ctx context.Context, address string) (model.PostStore, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT address, root, authority, posts, created_at
FROM post_stores
WHERE address = ?
`, address)
	var ps model.PostStore
	var posts, created int64
	if err := row.Scan(&ps.Address, &ps.Root, &ps.Authority, &posts, &created); err != nil {
		return model.PostStore{}, notFound(err)
	}
	ps.Posts = uint64(posts)
	ps.CreatedAt = time.Unix(created, 0)
	return ps, nil
}

func (t *txn) CreatePostStore(ctx context.Context, ps *model.PostStore) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO post_stores (address, root, authority, posts, created_at)
VALUES (?, ?, ?, ?, ?)
`, ps.Address, ps.Root, ps.Authority, int64(ps.Posts), ps.CreatedAt.Unix())
	return insertErr(err)
}

func (t *txn) AdvancePostStore(ctx context.Context, address string, expected uint64) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE post_stores SET posts = posts + 1 WHERE address = ? AND posts = ?
`, address, int64(expected))
	if err != nil {
		return err
	}
	return requireRow(res, store.ErrConflict)
}

func (t *txn) GetPost(ctx context.Context, address string) (model.Post, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT address, store, idx, authority, link, upvotes, comments, created_at
FROM posts
WHERE address = ?
`, address)
	return scanPost(row)
}

func (t *txn) FindPostByLink(ctx context.Context, link string) (model.Post, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT address, store, idx, authority, link, upvotes, comments, created_at
FROM posts
WHERE link = ?
LIMIT 1
`, link)
	return scanPost(row)
}

func (t *txn) CreatePost(ctx context.Context, p *model.Post) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO posts (address, store, idx, authority, link, upvotes, comments, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, p.Address, p.Store, int64(p.Index), p.Authority, p.Link, int64(p.Upvotes), int64(p.Comments), p.CreatedAt.Unix())
	if err != nil && isUniqueViolation(err) && strings.Contains(err.Error(), "posts.link") {
		return store.ErrDuplicateLink
	}
	return insertErr(err)
}

func (t *txn) ListPosts(ctx context.Context, storeAddr string, limit int) ([]model.Post, error) {
	limit = clamp(limit, 1, 500)
	rows, err := t.tx.QueryContext(ctx, `
SELECT address, store, idx, authority, link, upvotes, comments, created_at
FROM posts
WHERE store = ?
ORDER BY idx DESC
LIMIT ?
`, storeAddr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (t *txn) AddPostUpvotes(ctx context.Context, address string, delta uint64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE posts SET upvotes = upvotes + ? WHERE address = ?`, int64(delta), address)
	if err != nil {
		return err
	}
	return requireRow(res, store.ErrNotFound)
}

func (t *txn) IncrementPostComments(ctx context.Context, address string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE posts SET comments = comments + 1 WHERE address = ?`, address)
	if err != nil {
		return err
	}
	return requireRow(res, store.ErrNotFound)
}

func (t *txn) GetCommentStore(ctx context.Context, address string) (model.CommentStore, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT address, post, authority, comments, created_at
FROM comment_stores
WHERE address = ?
`, address)
	var cs model.CommentStore
	var comments, created int64
	if err := row.Scan(&cs.Address, &cs.Post, &cs.Authority, &comments, &created); err != nil {
		return model.CommentStore{}, notFound(err)
	}
	cs.Comments = uint64(comments)
	cs.CreatedAt = time.Unix(created, 0)
	return cs, nil
}

func (t *txn) CreateCommentStore(ctx context.Context, cs *model.CommentStore) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO comment_stores (address, post, authority, comments, created_at)
VALUES (?, ?, ?, ?, ?)
`, cs.Address, cs.Post, cs.Authority, int64(cs.Comments), cs.CreatedAt.Unix())
	return insertErr(err)
}

func (t *txn) AdvanceCommentStore(ctx context.Context, address string, expected uint64) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE comment_stores SET comments = comments + 1 WHERE address = ? AND comments = ?
`, address, int64(expected))
	if err != nil {
		return err
	}
	return requireRow(res, store.ErrConflict)
}

func (t *txn) GetComment(ctx context.Context, address string) (model.Comment, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT address, store, post, idx, authority, text, upvotes, created_at
FROM comments
WHERE address = ?
`, address)
	return scanComment(row)
}

func (t *txn) CreateComment(ctx context.Context, c *model.Comment) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO comments (address, store, post, idx, authority, text, upvotes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, c.Address, c.Store, c.Post, int64(c.Index), c.Authority, c.Text, int64(c.Upvotes), c.CreatedAt.Unix())
	return insertErr(err)
}

func (t *txn) ListComments(ctx context.Context, post string) ([]model.Comment, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT address, store, post, idx, authority, text, upvotes, created_at
FROM comments
WHERE post = ?
ORDER BY idx ASC
`, post)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (t *txn) AddCommentUpvotes(ctx context.Context, address string, delta uint64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE comments SET upvotes = upvotes + ? WHERE address = ?`, int64(delta), address)
	if err != nil {
		return err
	}
	return requireRow(res, store.ErrNotFound)
}

func (t *txn) CreateVote(ctx context.Context, vote *model.Vote) error {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO votes (target_type, target, voter, amount, created_at)
VALUES (?, ?, ?, ?, ?)
`, vote.TargetType, vote.Target, vote.Voter, int64(vote.Amount), vote.CreatedAt.Unix())
	if err != nil {
		return err
	}
	vote.ID, err = res.LastInsertId()
	return err
}

func (t *txn) HasVoted(ctx context.Context, targetType, target, voter string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM votes WHERE target_type = ? AND target = ? AND voter = ?
`, targetType, target, voter).Scan(&count)
	return count > 0, err
}

func (t *txn) Balance(ctx context.Context, address string) (uint64, error) {
	var lamports int64
	err := t.tx.QueryRowContext(ctx, `SELECT lamports FROM wallets WHERE address = ?`, address).Scan(&lamports)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(lamports), nil
}

func (t *txn) Credit(ctx context.Context, address string, lamports uint64) error {
	if lamports == 0 {
		return nil
	}
	current, err := t.Balance(ctx, address)
	if err != nil {
		return err
	}
	if lamports > math.MaxInt64-current {
		return fmt.Errorf("credit %d to %s overflows balance", lamports, address)
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO wallets (address, lamports) VALUES (?, ?)
ON CONFLICT(address) DO UPDATE SET lamports = lamports + excluded.lamports
`, address, int64(lamports))
	return err
}

func (t *txn) Transfer(ctx context.Context, from, to string, lamports uint64) error {
	if lamports == 0 {
		return nil
	}
	if lamports > math.MaxInt64 {
		return store.ErrInsufficientFunds
	}
	res, err := t.tx.ExecContext(ctx, `
UPDATE wallets SET lamports = lamports - ? WHERE address = ? AND lamports >= ?
`, int64(lamports), from, int64(lamports))
	if err != nil {
		return err
	}
	if err := requireRow(res, store.ErrInsufficientFunds); err != nil {
		return err
	}
	return t.Credit(ctx, to, lamports)
}

func (t *txn) RecordTransaction(ctx context.Context, p model.ProcessedTx) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO transactions (signer, nonce, signature, kind, created_at)
VALUES (?, ?, ?, ?, ?)
`, p.Signer, p.Nonce, p.Signature, p.Kind, p.CreatedAt.Unix())
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicateTransaction
	}
	return err
}

func (t *txn) Stats(ctx context.Context) (model.LedgerStats, error) {
	var stats model.LedgerStats
	row := t.tx.QueryRowContext(ctx, `
SELECT
	(SELECT COUNT(*) FROM posts),
	(SELECT COUNT(*) FROM comments),
	(SELECT COUNT(*) FROM votes),
	(SELECT COUNT(*) FROM wallets)
`)
	err := row.Scan(&stats.Posts, &stats.Comments, &stats.Votes, &stats.Wallets)
	return stats, err
}

func scanPost(scanner interface{ Scan(dest ...any) error }) (model.Post, error) {
	var p model.Post
	var idx, upvotes, comments, created int64
	if err := scanner.Scan(&p.Address, &p.Store, &idx, &p.Authority, &p.Link, &upvotes, &comments, &created); err != nil {
		return model.Post{}, notFound(err)
	}
	p.Index = uint64(idx)
	p.Upvotes = uint64(upvotes)
	p.Comments = uint64(comments)
	p.CreatedAt = time.Unix(created, 0)
	return p, nil
}

func scanComment(scanner interface{ Scan(dest ...any) error }) (model.Comment, error) {
	var c model.Comment
	var idx, upvotes, created int64
	if err := scanner.Scan(&c.Address, &c.Store, &c.Post, &idx, &c.Authority, &c.Text, &upvotes, &created); err != nil {
		return model.Comment{}, notFound(err)
	}
	c.Index = uint64(idx)
	c.Upvotes = uint64(upvotes)
	c.CreatedAt = time.Unix(created, 0)
	return c, nil
}

func withPragmas(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func insertErr(err error) error {
	if err != nil && isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
