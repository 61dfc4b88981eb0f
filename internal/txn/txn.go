// Package txn defines the signed transactions that carry senddit
// instructions. A SignedTransaction wraps the JSON encoding of a Transaction
// together with the signer's public key and a signature over those exact
// bytes; the signer's address is the caller identity for the instruction.
package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alphabot-ai/senddit/internal/auth"
	"github.com/alphabot-ai/senddit/internal/identity"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

type Kind string

const (
	KindInitialize       Kind = "initialize"
	KindInitPostStore    Kind = "init_post_store"
	KindInitCommentStore Kind = "init_comment_store"
	KindPostLink         Kind = "post_link"
	KindUpvotePost       Kind = "upvote_post"
	KindPostComment      Kind = "post_comment"
	KindUpvoteComment    Kind = "upvote_comment"
)

var Kinds = []Kind{
	KindInitialize,
	KindInitPostStore,
	KindInitCommentStore,
	KindPostLink,
	KindUpvotePost,
	KindPostComment,
	KindUpvoteComment,
}

var (
	ErrEncoding    = errors.New("malformed transaction")
	ErrSignature   = errors.New("signature verification failed")
	ErrUnknownKind = errors.New("unknown transaction kind")
)

type InitializePayload struct {
	Treasury string `json:"treasury"`
}

type InitPostStorePayload struct{}

type InitCommentStorePayload struct {
	Post string `json:"post"`
}

type PostLinkPayload struct {
	Link string `json:"link"`
}

type UpvotePostPayload struct {
	Post   string `json:"post"`
	Amount string `json:"amount"`
}

type PostCommentPayload struct {
	Post string `json:"post"`
	Text string `json:"text"`
}

type UpvoteCommentPayload struct {
	Comment string `json:"comment"`
	Amount  string `json:"amount"`
}

// Transaction is the signed body of an instruction.
type Transaction struct {
	Kind      Kind            `json:"kind"`
	Nonce     string          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type SignedTransaction struct {
	Alg       string `json:"alg"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
	// Tx holds the exact bytes that were signed.
	Tx []byte `json:"tx"`
}

// New builds a transaction with a fresh nonce and the current time.
func New(kind Kind, payload any) (Transaction, error) {
	if !known(kind) {
		return Transaction{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		Kind:      kind,
		Nonce:     uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

func (t Transaction) DecodePayload(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrEncoding, t.Kind, err)
	}
	return nil
}

func Sign(kp identity.Keypair, tx Transaction) (SignedTransaction, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return SignedTransaction{}, err
	}
	sig, err := kp.Sign(body)
	if err != nil {
		return SignedTransaction{}, err
	}
	return SignedTransaction{
		Alg:       kp.Alg(),
		PublicKey: kp.PublicKeyString(),
		Signature: base58.Encode(sig),
		Tx:        body,
	}, nil
}

// Build is New followed by Sign.
func Build(kp identity.Keypair, kind Kind, payload any) (SignedTransaction, error) {
	tx, err := New(kind, payload)
	if err != nil {
		return SignedTransaction{}, err
	}
	return Sign(kp, tx)
}

func Decode(raw []byte) (SignedTransaction, error) {
	var stx SignedTransaction
	if err := json.Unmarshal(raw, &stx); err != nil {
		return SignedTransaction{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if stx.Alg == "" || stx.PublicKey == "" || stx.Signature == "" || len(stx.Tx) == 0 {
		return SignedTransaction{}, fmt.Errorf("%w: missing fields", ErrEncoding)
	}
	return stx, nil
}

func (s SignedTransaction) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Verify checks the signature and returns the inner transaction and the
// signer's address.
func (s SignedTransaction) Verify() (Transaction, string, error) {
	if err := auth.VerifySignature(s.Alg, s.PublicKey, string(s.Tx), s.Signature); err != nil {
		return Transaction{}, "", fmt.Errorf("%w: %w", ErrSignature, err)
	}
	signer, err := auth.SignerAddress(s.Alg, s.PublicKey)
	if err != nil {
		return Transaction{}, "", fmt.Errorf("%w: %w", ErrSignature, err)
	}

	var tx Transaction
	if err := json.Unmarshal(s.Tx, &tx); err != nil {
		return Transaction{}, "", fmt.Errorf("%w: inner tx: %v", ErrEncoding, err)
	}
	if !known(tx.Kind) {
		return Transaction{}, "", fmt.Errorf("%w: %s", ErrUnknownKind, tx.Kind)
	}
	if tx.Timestamp.IsZero() {
		return Transaction{}, "", fmt.Errorf("%w: missing timestamp", ErrEncoding)
	}
	nonce, err := uuid.Parse(tx.Nonce)
	if err != nil {
		return Transaction{}, "", fmt.Errorf("%w: nonce: %v", ErrEncoding, err)
	}
	tx.Nonce = nonce.String()
	return tx, signer, nil
}

func known(kind Kind) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
