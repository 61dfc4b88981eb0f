package senddit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alphabot-ai/senddit/internal/address"
	"github.com/alphabot-ai/senddit/internal/store"
	"github.com/alphabot-ai/senddit/internal/store/sqlite"
)

func newTestProgram(t *testing.T, cfg Config) *Program {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	st, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	p, err := New(&Args{Store: st, Config: cfg})
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	return p
}

func addr(name string) string {
	return address.Hash([]byte(name)).String()
}

// bootstrap initializes the root config and post store with authority A and
// treasury T, and funds the given wallets.
func bootstrap(t *testing.T, p *Program, funded ...string) (string, string) {
	t.Helper()
	ctx := context.Background()
	authority, treasury := addr("A"), addr("T")
	if _, err := p.Initialize(ctx, authority, treasury); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := p.InitPostStore(ctx, authority); err != nil {
		t.Fatalf("init post store: %v", err)
	}
	for _, w := range append([]string{authority}, funded...) {
		if _, err := p.Airdrop(ctx, w, 100*DefaultFee); err != nil {
			t.Fatalf("airdrop: %v", err)
		}
	}
	return authority, treasury
}

func TestInitialize(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	authority, treasury := addr("A"), addr("T")

	root, err := p.Initialize(ctx, authority, treasury)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if root.Authority != authority || root.Treasury != treasury {
		t.Fatalf("unexpected root: %+v", root)
	}
	if root.PostFee != DefaultFee || root.CommentFee != DefaultFee {
		t.Fatalf("expected default fees, got %+v", root)
	}

	if _, err := p.Initialize(ctx, addr("B"), treasury); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	stored, err := p.RootConfig(ctx)
	if err != nil {
		t.Fatalf("fetch root: %v", err)
	}
	if stored.Authority != authority {
		t.Fatalf("expected authority preserved, got %s", stored.Authority)
	}
}

func TestInitializeRejectsBadTreasury(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	if _, err := p.Initialize(context.Background(), addr("A"), "not-an-address"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := p.RootConfig(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no root config, got %v", err)
	}
}

func TestInitPostStore(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	authority := addr("A")

	if _, err := p.InitPostStore(ctx, authority); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := p.Initialize(ctx, authority, addr("T")); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := p.InitPostStore(ctx, addr("mallory")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	ps, err := p.InitPostStore(ctx, authority)
	if err != nil {
		t.Fatalf("init post store: %v", err)
	}
	if ps.Posts != 0 {
		t.Fatalf("expected 0 posts, got %d", ps.Posts)
	}
	if ps.Address != p.PostStoreAddress() {
		t.Fatalf("expected derived address %s, got %s", p.PostStoreAddress(), ps.Address)
	}
	if _, err := p.InitPostStore(ctx, authority); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestEndToEnd(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, treasury := bootstrap(t, p)

	post, err := p.PostLink(ctx, a, "https://mypost.com")
	if err != nil {
		t.Fatalf("post link: %v", err)
	}
	if post.Link != "https://mypost.com" || post.Upvotes != 0 || post.Index != 0 {
		t.Fatalf("unexpected post: %+v", post)
	}
	if post.Address != p.PostAddress(0) {
		t.Fatalf("expected post at %s, got %s", p.PostAddress(0), post.Address)
	}

	post, err = p.UpvotePost(ctx, a, post.Address, "1")
	if err != nil {
		t.Fatalf("upvote post: %v", err)
	}
	if post.Upvotes != 1 {
		t.Fatalf("expected 1 upvote, got %d", post.Upvotes)
	}

	if _, err := p.InitCommentStore(ctx, a, post.Address); err != nil {
		t.Fatalf("init comment store: %v", err)
	}
	comment, err := p.PostComment(ctx, a, post.Address, "my comment")
	if err != nil {
		t.Fatalf("post comment: %v", err)
	}
	if comment.Text != "my comment" || comment.Upvotes != 0 || comment.Index != 0 {
		t.Fatalf("unexpected comment: %+v", comment)
	}

	comment, err = p.UpvoteComment(ctx, a, comment.Address, "1")
	if err != nil {
		t.Fatalf("upvote comment: %v", err)
	}
	if comment.Upvotes != 1 {
		t.Fatalf("expected 1 upvote, got %d", comment.Upvotes)
	}

	post, err = p.Post(ctx, post.Address)
	if err != nil {
		t.Fatalf("fetch post: %v", err)
	}
	if post.Comments != 1 {
		t.Fatalf("expected post comment count 1, got %d", post.Comments)
	}

	balance, err := p.Balance(ctx, treasury)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2*DefaultFee {
		t.Fatalf("expected treasury to hold two fees, got %d", balance)
	}
}

func TestPostLinkAdvancesLedger(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	for i := uint64(0); i < 5; i++ {
		before, err := p.PostStore(ctx)
		if err != nil {
			t.Fatalf("post store: %v", err)
		}
		post, err := p.PostLink(ctx, a, fmt.Sprintf("https://example.com/%d", i))
		if err != nil {
			t.Fatalf("post link %d: %v", i, err)
		}
		if post.Index != before.Posts {
			t.Fatalf("expected index %d, got %d", before.Posts, post.Index)
		}
		after, err := p.PostStore(ctx)
		if err != nil {
			t.Fatalf("post store: %v", err)
		}
		if after.Posts != before.Posts+1 {
			t.Fatalf("expected count %d, got %d", before.Posts+1, after.Posts)
		}
	}

	posts, err := p.ListPosts(ctx, 10)
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(posts) != 5 || posts[0].Index != 4 {
		t.Fatalf("expected newest first, got %d posts", len(posts))
	}
}

func TestPostLinkRejects(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	cases := []struct {
		name   string
		poster string
		link   string
		want   error
	}{
		{"empty link", a, "", ErrInvalidInput},
		{"link too long", a, "https://" + strings.Repeat("x", MaxLinkBytes), ErrInvalidInput},
		{"unfunded poster", addr("broke"), "https://broke.example", ErrInsufficientFunds},
		{"bad poster", "??", "https://a.example", ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.PostLink(ctx, tc.poster, tc.link); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			ps, err := p.PostStore(ctx)
			if err != nil {
				t.Fatalf("post store: %v", err)
			}
			if ps.Posts != 0 {
				t.Fatalf("expected count unchanged, got %d", ps.Posts)
			}
			if _, err := p.Post(ctx, p.PostAddress(0)); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("expected no post record, got %v", err)
			}
		})
	}

	exact := "https://" + strings.Repeat("x", MaxLinkBytes-len("https://"))
	if _, err := p.PostLink(ctx, a, exact); err != nil {
		t.Fatalf("expected %d byte link accepted: %v", MaxLinkBytes, err)
	}
}

func TestPostLinkDuplicate(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, treasury := bootstrap(t, p)

	if _, err := p.PostLink(ctx, a, "https://mypost.com"); err != nil {
		t.Fatalf("post link: %v", err)
	}
	if _, err := p.PostLink(ctx, a, "https://mypost.com"); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("expected ErrDuplicateLink, got %v", err)
	}
	balance, err := p.Balance(ctx, treasury)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != DefaultFee {
		t.Fatalf("expected one fee collected, got %d", balance)
	}
}

func TestPostLinkRequiresPostStore(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	if _, err := p.PostLink(ctx, addr("A"), "https://a"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized without root, got %v", err)
	}
	if _, err := p.Initialize(ctx, addr("A"), addr("T")); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := p.PostLink(ctx, addr("A"), "https://a"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized without post store, got %v", err)
	}
}

func TestConcurrentPostLink(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := p.PostLink(ctx, a, fmt.Sprintf("https://concurrent.example/%d", i)); err != nil {
				t.Errorf("post link %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	posts, err := p.ListPosts(ctx, n)
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(posts) != n {
		t.Fatalf("expected %d posts, got %d", n, len(posts))
	}
	seen := make(map[uint64]bool)
	for _, post := range posts {
		if seen[post.Index] {
			t.Fatalf("duplicate index %d", post.Index)
		}
		seen[post.Index] = true
	}
	for i := uint64(0); i < n; i++ {
		if !seen[i] {
			t.Fatalf("missing index %d", i)
		}
	}
}

func TestConcurrentUpvotes(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	post, err := p.PostLink(ctx, a, "https://mypost.com")
	if err != nil {
		t.Fatalf("post link: %v", err)
	}

	deltas := []string{"3", "0", "11", "7", "1"}
	var wg sync.WaitGroup
	for i, d := range deltas {
		wg.Add(1)
		go func(voter, amount string) {
			defer wg.Done()
			if _, err := p.UpvotePost(ctx, voter, post.Address, amount); err != nil {
				t.Errorf("upvote %s: %v", amount, err)
			}
		}(addr(fmt.Sprintf("voter-%d", i)), d)
	}
	wg.Wait()

	post, err = p.Post(ctx, post.Address)
	if err != nil {
		t.Fatalf("fetch post: %v", err)
	}
	if post.Upvotes != 22 {
		t.Fatalf("expected 22 upvotes, got %d", post.Upvotes)
	}
}

func TestUpvoteRejects(t *testing.T) {
	p := newTestProgram(t, Config{PostFee: DefaultFee, CommentFee: DefaultFee, MaxUpvote: 10})
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	post, err := p.PostLink(ctx, a, "https://mypost.com")
	if err != nil {
		t.Fatalf("post link: %v", err)
	}

	for _, amount := range []string{"", "-1", "1.5", "abc", " 1", "+1", "11", "18446744073709551616"} {
		if _, err := p.UpvotePost(ctx, a, post.Address, amount); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("amount %q: expected ErrInvalidInput, got %v", amount, err)
		}
	}
	if _, err := p.UpvotePost(ctx, a, p.PostAddress(99), "1"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized for missing post, got %v", err)
	}
	if _, err := p.UpvoteComment(ctx, a, addr("nope"), "1"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized for missing comment, got %v", err)
	}

	post, err = p.UpvotePost(ctx, a, post.Address, "10")
	if err != nil {
		t.Fatalf("upvote at max: %v", err)
	}
	if post.Upvotes != 10 {
		t.Fatalf("expected 10 upvotes, got %d", post.Upvotes)
	}
}

func TestUpvoteOverflow(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	post, err := p.PostLink(ctx, a, "https://mypost.com")
	if err != nil {
		t.Fatalf("post link: %v", err)
	}
	if _, err := p.UpvotePost(ctx, a, post.Address, "9223372036854775807"); err != nil {
		t.Fatalf("upvote to bound: %v", err)
	}
	if _, err := p.UpvotePost(ctx, a, post.Address, "1"); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	post, err = p.Post(ctx, post.Address)
	if err != nil {
		t.Fatalf("fetch post: %v", err)
	}
	if post.Upvotes != 9223372036854775807 {
		t.Fatalf("expected counter unchanged at bound, got %d", post.Upvotes)
	}
}

func TestOneVotePerIdentity(t *testing.T) {
	p := newTestProgram(t, Config{PostFee: DefaultFee, CommentFee: DefaultFee, OneVotePerIdentity: true})
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	post, err := p.PostLink(ctx, a, "https://mypost.com")
	if err != nil {
		t.Fatalf("post link: %v", err)
	}
	if _, err := p.UpvotePost(ctx, a, post.Address, "1"); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if _, err := p.UpvotePost(ctx, a, post.Address, "1"); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
	if _, err := p.UpvotePost(ctx, addr("other"), post.Address, "1"); err != nil {
		t.Fatalf("other voter: %v", err)
	}
}

func TestCommentStoreScopedToPost(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	first, err := p.PostLink(ctx, a, "https://first.example")
	if err != nil {
		t.Fatalf("post link: %v", err)
	}
	second, err := p.PostLink(ctx, a, "https://second.example")
	if err != nil {
		t.Fatalf("post link: %v", err)
	}
	if _, err := p.InitCommentStore(ctx, a, first.Address); err != nil {
		t.Fatalf("init comment store: %v", err)
	}

	if _, err := p.PostComment(ctx, a, second.Address, "hello"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := p.PostComment(ctx, a, first.Address, "hello"); err != nil {
		t.Fatalf("post comment: %v", err)
	}
}

func TestInitCommentStoreGuards(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	post, err := p.PostLink(ctx, a, "https://mypost.com")
	if err != nil {
		t.Fatalf("post link: %v", err)
	}
	if _, err := p.InitCommentStore(ctx, addr("mallory"), post.Address); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := p.InitCommentStore(ctx, a, p.PostAddress(7)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized for missing post, got %v", err)
	}
	cs, err := p.InitCommentStore(ctx, a, post.Address)
	if err != nil {
		t.Fatalf("init comment store: %v", err)
	}
	if cs.Comments != 0 || cs.Post != post.Address {
		t.Fatalf("unexpected comment store: %+v", cs)
	}
	if _, err := p.InitCommentStore(ctx, a, post.Address); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestPostCommentRejects(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	a, _ := bootstrap(t, p)

	post, err := p.PostLink(ctx, a, "https://mypost.com")
	if err != nil {
		t.Fatalf("post link: %v", err)
	}
	if _, err := p.InitCommentStore(ctx, a, post.Address); err != nil {
		t.Fatalf("init comment store: %v", err)
	}

	if _, err := p.PostComment(ctx, a, post.Address, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty text, got %v", err)
	}
	if _, err := p.PostComment(ctx, a, post.Address, strings.Repeat("c", MaxCommentBytes+1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for long text, got %v", err)
	}
	if _, err := p.PostComment(ctx, addr("broke"), post.Address, "hi"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	cs, err := p.CommentStore(ctx, post.Address)
	if err != nil {
		t.Fatalf("comment store: %v", err)
	}
	if cs.Comments != 0 {
		t.Fatalf("expected no comments, got %d", cs.Comments)
	}

	for i := uint64(0); i < 3; i++ {
		c, err := p.PostComment(ctx, a, post.Address, strings.Repeat("c", MaxCommentBytes))
		if err != nil {
			t.Fatalf("comment %d: %v", i, err)
		}
		if c.Index != i {
			t.Fatalf("expected index %d, got %d", i, c.Index)
		}
		want, err := p.CommentAddress(cs.Address, i)
		if err != nil {
			t.Fatalf("comment address: %v", err)
		}
		if c.Address != want {
			t.Fatalf("expected comment at %s, got %s", want, c.Address)
		}
	}
	comments, err := p.ListComments(ctx, post.Address)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(comments))
	}
}

func TestAirdrop(t *testing.T) {
	p := newTestProgram(t, DefaultConfig())
	ctx := context.Background()
	w := addr("wallet")

	balance, err := p.Airdrop(ctx, w, 5)
	if err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	if balance != 5 {
		t.Fatalf("expected 5, got %d", balance)
	}
	if _, err := p.Airdrop(ctx, w, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := p.Airdrop(ctx, w, 9223372036854775807); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}
