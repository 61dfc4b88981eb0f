package model

import "time"

// RootConfig is the platform singleton. Authority and Treasury never change
// after creation.
type RootConfig struct {
	Address    string    `json:"address"`
	Authority  string    `json:"authority"`
	Treasury   string    `json:"treasury"`
	PostFee    uint64    `json:"post_fee"`
	CommentFee uint64    `json:"comment_fee"`
	CreatedAt  time.Time `json:"created_at"`
}

type PostStore struct {
	Address   string    `json:"address"`
	Root      string    `json:"root"`
	Authority string    `json:"authority"`
	Posts     uint64    `json:"posts"`
	CreatedAt time.Time `json:"created_at"`
}

type CommentStore struct {
	Address   string    `json:"address"`
	Post      string    `json:"post"`
	Authority string    `json:"authority"`
	Comments  uint64    `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
}

type Post struct {
	Address   string    `json:"address"`
	Store     string    `json:"store"`
	Index     uint64    `json:"index"`
	Authority string    `json:"authority"`
	Link      string    `json:"link"`
	Upvotes   uint64    `json:"upvotes"`
	Comments  uint64    `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	Address   string    `json:"address"`
	Store     string    `json:"store"`
	Post      string    `json:"post"`
	Index     uint64    `json:"index"`
	Authority string    `json:"authority"`
	Text      string    `json:"text"`
	Upvotes   uint64    `json:"upvotes"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	TargetPost    = "post"
	TargetComment = "comment"
)

type Vote struct {
	ID         int64     `json:"id"`
	TargetType string    `json:"target_type"`
	Target     string    `json:"target"`
	Voter      string    `json:"voter"`
	Amount     uint64    `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}

type Wallet struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
}

// ProcessedTx records a transaction the runtime has already accepted. A
// signer's nonce is accepted at most once.
type ProcessedTx struct {
	Signer    string
	Nonce     string
	Signature string
	Kind      string
	CreatedAt time.Time
}

type LedgerStats struct {
	Posts    int64 `json:"posts"`
	Comments int64 `json:"comments"`
	Votes    int64 `json:"votes"`
	Wallets  int64 `json:"wallets"`
}
